package domain

// GameRule holds the plausibility bounds for one minigame
type GameRule struct {
	ID          int    `json:"gameId" yaml:"id" validate:"gt=0"`
	Name        string `json:"name" yaml:"name"`
	MaxScore    int64  `json:"maxScore" yaml:"max_score" validate:"gt=0"`
	MinDuration int64  `json:"minDuration" yaml:"min_duration" validate:"gte=0"`
}
