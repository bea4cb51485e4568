package validator

import (
	"testing"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0xAbC0000000000000000000000000000000000123"

func intPtr(v int) *int { return &v }
func i64Ptr(v int64) *int64 { return &v }

func TestValidate(t *testing.T) {
	v := New(games.Default())

	testCases := []struct {
		name   string
		sub    domain.ScoreSubmission
		reason domain.Reason
	}{
		{
			name:   "valid",
			sub:    domain.NewSubmission(1, 500, 15, testAddress),
			reason: "",
		},
		{
			name:   "missing game id",
			sub:    domain.ScoreSubmission{Score: i64Ptr(5), DurationSeconds: i64Ptr(60), PlayerAddress: testAddress},
			reason: domain.ReasonMissingField,
		},
		{
			name:   "unknown game",
			sub:    domain.NewSubmission(99, 500, 15, testAddress),
			reason: domain.ReasonInvalidGameType,
		},
		{
			name:   "unknown game checked before address",
			sub:    domain.NewSubmission(0, 500, 15, ""),
			reason: domain.ReasonInvalidGameType,
		},
		{
			name:   "missing address",
			sub:    domain.NewSubmission(1, 500, 15, ""),
			reason: domain.ReasonInvalidPlayerAddress,
		},
		{
			name:   "address without prefix",
			sub:    domain.NewSubmission(1, 500, 15, "abc0000000000000000000000000000000000123"),
			reason: domain.ReasonInvalidPlayerAddress,
		},
		{
			name:   "address too short",
			sub:    domain.NewSubmission(1, 500, 15, "0xabc123"),
			reason: domain.ReasonInvalidPlayerAddress,
		},
		{
			name:   "missing score",
			sub:    domain.ScoreSubmission{GameID: intPtr(1), DurationSeconds: i64Ptr(60), PlayerAddress: testAddress},
			reason: domain.ReasonMissingField,
		},
		{
			name:   "zero score",
			sub:    domain.NewSubmission(1, 0, 15, testAddress),
			reason: domain.ReasonScoreOutOfBounds,
		},
		{
			name:   "negative score",
			sub:    domain.NewSubmission(1, -10, 15, testAddress),
			reason: domain.ReasonScoreOutOfBounds,
		},
		{
			name:   "score above max",
			sub:    domain.NewSubmission(1, 10001, 15, testAddress),
			reason: domain.ReasonScoreOutOfBounds,
		},
		{
			name:   "score at max",
			sub:    domain.NewSubmission(1, 10000, 15, testAddress),
			reason: "",
		},
		{
			name:   "missing duration",
			sub:    domain.ScoreSubmission{GameID: intPtr(1), Score: i64Ptr(5), PlayerAddress: testAddress},
			reason: domain.ReasonMissingField,
		},
		{
			name:   "duration below min",
			sub:    domain.NewSubmission(1, 500, 9, testAddress),
			reason: domain.ReasonDurationTooShort,
		},
		{
			name:   "duration at min",
			sub:    domain.NewSubmission(1, 500, 10, testAddress),
			reason: "",
		},
		{
			name:   "very long duration",
			sub:    domain.NewSubmission(1, 500, 86400, testAddress),
			reason: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(tc.sub)
			assert.Equal(t, tc.reason == "", res.Valid)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestBoundsForEveryGame(t *testing.T) {
	table := games.Default()
	v := New(table)

	for _, rule := range table.All() {
		ok := v.Validate(domain.NewSubmission(rule.ID, rule.MaxScore, rule.MinDuration, testAddress))
		require.True(t, ok.Valid, rule.Name)

		over := v.Validate(domain.NewSubmission(rule.ID, rule.MaxScore+1, rule.MinDuration, testAddress))
		require.Equal(t, domain.ReasonScoreOutOfBounds, over.Reason, rule.Name)

		zero := v.Validate(domain.NewSubmission(rule.ID, 0, rule.MinDuration, testAddress))
		require.Equal(t, domain.ReasonScoreOutOfBounds, zero.Reason, rule.Name)

		fast := v.Validate(domain.NewSubmission(rule.ID, 1, rule.MinDuration-1, testAddress))
		require.Equal(t, domain.ReasonDurationTooShort, fast.Reason, rule.Name)
	}
}

func TestRecordNormalizes(t *testing.T) {
	sub := domain.NewSubmission(3, 42, 100, "  "+testAddress+" ")
	sub.DisplayName = "  a very long display name that keeps going on  "
	sub.Nonce = "n-1"

	rec := Record(sub)
	assert.Equal(t, "0xabc0000000000000000000000000000000000123", rec.PlayerAddress)
	assert.Equal(t, 3, rec.GameID)
	assert.Equal(t, int64(42), rec.Score)
	assert.Equal(t, int64(100), rec.DurationSeconds)
	assert.Equal(t, "n-1", rec.Nonce)
	assert.Len(t, []rune(rec.DisplayName), maxDisplayNameLen)
	assert.True(t, rec.SubmittedAt.IsZero())
}
