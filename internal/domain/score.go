package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScoreRecord is one accepted submission. It is created once and only ever
// updated to attach a chain transaction hash.
type ScoreRecord struct {
	ID              int64     `json:"id"`
	GameID          int       `json:"gameId"`
	Score           int64     `json:"score"`
	PlayerAddress   string    `json:"playerAddress"`
	DisplayName     string    `json:"displayName,omitempty"`
	DurationSeconds int64     `json:"durationSeconds"`
	Nonce           string    `json:"nonce,omitempty"`
	SubmittedAt     time.Time `json:"submittedAt"`
	ChainTxHash     string    `json:"chainTxHash,omitempty"`
}

// Anchored reports whether the record has been written to the ledger
func (r ScoreRecord) Anchored() bool {
	return r.ChainTxHash != ""
}

// ScoreSubmission is the raw payload sent by a game client. Numeric fields
// are pointers so that an absent or malformed value can be told apart from zero.
type ScoreSubmission struct {
	GameID          *int   `json:"gameId"`
	Score           *int64 `json:"score"`
	DurationSeconds *int64 `json:"durationSeconds"`
	PlayerAddress   string `json:"playerAddress"`
	DisplayName     string `json:"displayName,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
}

// NewSubmission is a convenience constructor used by producers and tests.
func NewSubmission(gameID int, score, durationSeconds int64, playerAddress string) ScoreSubmission {
	return ScoreSubmission{
		GameID:          &gameID,
		Score:           &score,
		DurationSeconds: &durationSeconds,
		PlayerAddress:   playerAddress,
	}
}

// ParseSubmission decodes a JSON submission leniently. Fields with the wrong
// type are dropped (left nil or empty) instead of failing the whole decode, so
// validation can report them as missing. Only a body that is not a JSON object
// is an error.
func ParseSubmission(data []byte) (ScoreSubmission, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return ScoreSubmission{}, fmt.Errorf("decoding submission: %w", err)
	}
	if raw == nil {
		return ScoreSubmission{}, fmt.Errorf("decoding submission: %w", ErrInvalidRequest)
	}

	var sub ScoreSubmission
	if v, ok := integerField(raw, "gameId"); ok {
		id := int(v)
		sub.GameID = &id
	}
	if v, ok := integerField(raw, "score"); ok {
		sub.Score = &v
	}
	if v, ok := integerField(raw, "durationSeconds"); ok {
		sub.DurationSeconds = &v
	}
	sub.PlayerAddress = stringField(raw, "playerAddress")
	sub.DisplayName = stringField(raw, "displayName")
	sub.Nonce = stringField(raw, "nonce")
	return sub, nil
}

func integerField(raw map[string]any, key string) (int64, bool) {
	n, ok := raw[key].(json.Number)
	if !ok {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

// SubmitResult is returned for an accepted submission
type SubmitResult struct {
	RecordID    int64  `json:"-"`
	Rank        int64  `json:"rank,omitempty"`
	ChainTxHash string `json:"chainTxHash,omitempty"`
}
