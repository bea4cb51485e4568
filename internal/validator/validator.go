// Package validator applies per-game plausibility bounds and identity checks
// to inbound score submissions.
package validator

import (
	"strings"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/ethereum/go-ethereum/common"
)

// maxDisplayNameLen bounds client-supplied labels stored on a record
const maxDisplayNameLen = 32

// Result is the outcome of validating one submission
type Result struct {
	Valid  bool
	Reason domain.Reason
}

func invalid(reason domain.Reason) Result {
	return Result{Reason: reason}
}

// Validator checks submissions against the game rule table
type Validator struct {
	games *games.Table
}

// New creates a validator over the given rule table
func New(table *games.Table) *Validator {
	return &Validator{games: table}
}

// Validate applies the rules in order and stops at the first failure.
// Duration has no upper bound: slow sessions are never penalized.
func (v *Validator) Validate(sub domain.ScoreSubmission) Result {
	if sub.GameID == nil {
		return invalid(domain.ReasonMissingField)
	}
	rule, ok := v.games.Lookup(*sub.GameID)
	if !ok {
		return invalid(domain.ReasonInvalidGameType)
	}

	if !IsValidAddress(sub.PlayerAddress) {
		return invalid(domain.ReasonInvalidPlayerAddress)
	}

	if sub.Score == nil {
		return invalid(domain.ReasonMissingField)
	}
	if *sub.Score <= 0 || *sub.Score > rule.MaxScore {
		return invalid(domain.ReasonScoreOutOfBounds)
	}

	if sub.DurationSeconds == nil {
		return invalid(domain.ReasonMissingField)
	}
	if *sub.DurationSeconds < rule.MinDuration {
		return invalid(domain.ReasonDurationTooShort)
	}

	return Result{Valid: true}
}

// Record converts a validated submission into an unsaved record with a
// normalized address. SubmittedAt and DisplayName resolution are left to the caller.
func Record(sub domain.ScoreSubmission) domain.ScoreRecord {
	rec := domain.ScoreRecord{
		PlayerAddress: NormalizeAddress(sub.PlayerAddress),
		DisplayName:   SanitizeDisplayName(sub.DisplayName),
		Nonce:         sub.Nonce,
	}
	if sub.GameID != nil {
		rec.GameID = *sub.GameID
	}
	if sub.Score != nil {
		rec.Score = *sub.Score
	}
	if sub.DurationSeconds != nil {
		rec.DurationSeconds = *sub.DurationSeconds
	}
	return rec
}

// IsValidAddress reports whether addr is a 0x-prefixed 20-byte hex account id
func IsValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	return common.IsHexAddress(addr)
}

// NormalizeAddress lowercases an account id so it can be used as a key
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SanitizeDisplayName trims a client label and caps its length
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > maxDisplayNameLen {
		name = string(runes[:maxDisplayNameLen])
	}
	return name
}
