package domain

import (
	"strconv"
	"time"
)

// GlobalBoard is the selector for the cross-game leaderboard
const GlobalBoard = "global"

// GameBoard returns the broadcast board id of a game's leaderboard, e.g. "game:3"
func GameBoard(gameID int) string {
	return "game:" + strconv.Itoa(gameID)
}

// LeaderboardEntry represents a single row of a per-game leaderboard
type LeaderboardEntry struct {
	Rank          int64     `json:"rank"`
	PlayerAddress string    `json:"playerAddress"`
	DisplayName   string    `json:"displayName"`
	Score         int64     `json:"score"`
	SubmittedAt   time.Time `json:"submittedAt"`
	ChainTxHash   string    `json:"chainTxHash,omitempty"`
}

// GlobalEntry represents a single row of the cross-game leaderboard.
// SubmittedAt mirrors LastPlayedAt so clients can render both boards with one row shape.
type GlobalEntry struct {
	Rank          int64     `json:"rank"`
	PlayerAddress string    `json:"playerAddress"`
	DisplayName   string    `json:"displayName"`
	TotalScore    int64     `json:"totalScore"`
	GamesPlayed   int64     `json:"gamesPlayed"`
	LastPlayedAt  time.Time `json:"lastPlayedAt"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// PlayerTotal is the store-level aggregate of one player's records across all games
type PlayerTotal struct {
	PlayerAddress string
	DisplayName   string
	TotalScore    int64
	GamesPlayed   int64
	LastPlayedAt  time.Time
}

// GameLeaderboard is the per-game view
type GameLeaderboard struct {
	GameID   int                `json:"gameId"`
	GameName string             `json:"gameName"`
	Entries  []LeaderboardEntry `json:"entries"`
}

// GlobalLeaderboard is the aggregate view
type GlobalLeaderboard struct {
	GameID  string        `json:"gameId"`
	Entries []GlobalEntry `json:"entries"`
}
