package model

import "time"

// GameType selects a learning-game variant.
type GameType string

const (
	GameFlip     GameType = "flip"
	GameMemory   GameType = "memory"
	GameSequence GameType = "sequence"
)

// Card is one deck entry. For sequence games the deck order is the ground
// truth.
type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Game is an authored deck with aggregate play statistics.
type Game struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      GameType  `json:"type"`
	Cards     []Card    `json:"cards"`
	GridSize  int       `json:"grid_size,omitempty"`
	OwnerID   int64     `json:"owner_id"`
	Stats     GameStats `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
}

// GameStats aggregates terminal results of completed plays.
type GameStats struct {
	Plays     int  `json:"plays"`
	BestTime  *int `json:"best_time,omitempty"`
	BestScore *int `json:"best_score,omitempty"`
}

// PlayResult is the terminal payload of a game session.
type PlayResult struct {
	ElapsedSeconds int `json:"time" validate:"gte=0"`
	Score          int `json:"score" validate:"gte=0,lte=100"`
}

// Merge folds a result into the stats. Each best field is merged
// independently: shorter time wins, higher score wins.
func (s GameStats) Merge(r PlayResult) GameStats {
	out := GameStats{Plays: s.Plays + 1}
	t, sc := r.ElapsedSeconds, r.Score
	if s.BestTime != nil && *s.BestTime < t {
		t = *s.BestTime
	}
	if s.BestScore != nil && *s.BestScore > sc {
		sc = *s.BestScore
	}
	out.BestTime = &t
	out.BestScore = &sc
	return out
}
