// Package games holds the static per-game plausibility rules.
package games

import (
	"errors"
	"fmt"
	"sort"

	"github.com/arcade-scores/internal/domain"
)

// defaultRules is the built-in rule table for the arcade's minigames.
var defaultRules = []domain.GameRule{
	{ID: 1, Name: "Snake", MaxScore: 10000, MinDuration: 10},
	{ID: 2, Name: "Block Stacker", MaxScore: 999999, MinDuration: 30},
	{ID: 3, Name: "Space Invaders", MaxScore: 50000, MinDuration: 20},
	{ID: 4, Name: "Flappy Coin", MaxScore: 500, MinDuration: 5},
	{ID: 5, Name: "Brick Breaker", MaxScore: 25000, MinDuration: 15},
	{ID: 6, Name: "Pong", MaxScore: 21, MinDuration: 30},
	{ID: 7, Name: "Memory Match", MaxScore: 5000, MinDuration: 20},
	{ID: 8, Name: "Whack-a-Mole", MaxScore: 3000, MinDuration: 30},
	{ID: 9, Name: "Asteroids", MaxScore: 100000, MinDuration: 20},
	{ID: 10, Name: "2048", MaxScore: 200000, MinDuration: 30},
	{ID: 11, Name: "Minesweeper", MaxScore: 1000, MinDuration: 10},
	{ID: 12, Name: "Endless Runner", MaxScore: 50000, MinDuration: 10},
}

// Table is an immutable lookup of game rules keyed by game id
type Table struct {
	rules map[int]domain.GameRule
	order []int
}

// NewTable builds a table from the given rules, rejecting inconsistent entries
func NewTable(rules []domain.GameRule) (*Table, error) {
	if len(rules) == 0 {
		return nil, errors.New("game table is empty")
	}

	t := &Table{rules: make(map[int]domain.GameRule, len(rules))}
	for _, r := range rules {
		if r.ID <= 0 {
			return nil, fmt.Errorf("game %q: id must be positive", r.Name)
		}
		if _, dup := t.rules[r.ID]; dup {
			return nil, fmt.Errorf("game %d: duplicate id", r.ID)
		}
		if r.MaxScore <= 0 {
			return nil, fmt.Errorf("game %d: max_score must be positive", r.ID)
		}
		if r.MinDuration < 0 {
			return nil, fmt.Errorf("game %d: min_duration must not be negative", r.ID)
		}
		t.rules[r.ID] = r
		t.order = append(t.order, r.ID)
	}
	sort.Ints(t.order)
	return t, nil
}

// Default returns the built-in table
func Default() *Table {
	t, err := NewTable(defaultRules)
	if err != nil {
		panic(err)
	}
	return t
}

// FromConfig returns a table from configured rules, or the built-in table when none are configured
func FromConfig(rules []domain.GameRule) (*Table, error) {
	if len(rules) == 0 {
		return Default(), nil
	}
	return NewTable(rules)
}

// Lookup returns the rule for a game id
func (t *Table) Lookup(gameID int) (domain.GameRule, bool) {
	r, ok := t.rules[gameID]
	return r, ok
}

// All returns every rule ordered by game id
func (t *Table) All() []domain.GameRule {
	out := make([]domain.GameRule, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rules[id])
	}
	return out
}

// Len returns the number of known games
func (t *Table) Len() int {
	return len(t.order)
}
