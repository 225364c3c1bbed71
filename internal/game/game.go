// Package game implements the learning games: flip-match, memory-recall
// and ordered-sequence. Each play is an in-memory session on an injected
// clock; only the terminal result is persisted.
package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/model"
)

// Phase is the stage of a play session.
type Phase string

const (
	PhasePreview  Phase = "preview"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Timing constants.
const (
	FlipBackDelay      = time.Second
	MemoryPreviewCard  = 5 * time.Second
	SequenceMinPreview = 5 * time.Second
	SequencePerCard    = 2 * time.Second
	MemoryOptions      = 4
)

// ErrTileUnavailable rejects a flip on a tile that is matched, already
// face up, or waiting to flip back.
var ErrTileUnavailable = errors.New("tile unavailable")

// Session is one play of a game.
type Session interface {
	Phase() Phase
	// Result returns the terminal payload once the session is finished.
	Result() (model.PlayResult, bool)
	// View renders the state the learner may see.
	View() View
}

// View is the learner-visible state of a session. Only the fields of the
// session's game type are set.
type View struct {
	SessionID        string            `json:"session_id,omitempty"`
	GameID           string            `json:"game_id,omitempty"`
	Type             model.GameType    `json:"type"`
	Phase            Phase             `json:"phase"`
	PreviewRemaining int               `json:"preview_remaining,omitempty"`
	ElapsedSeconds   int               `json:"elapsed"`
	Moves            int               `json:"moves,omitempty"`
	Tiles            []TileView        `json:"tiles,omitempty"`
	Preview          *model.Card       `json:"preview,omitempty"`
	Question         *MemoryQuestion   `json:"question,omitempty"`
	Progress         *Progress         `json:"progress,omitempty"`
	Truth            []model.Card      `json:"truth,omitempty"`
	Order            []model.Card      `json:"order,omitempty"`
	Result           *model.PlayResult `json:"result,omitempty"`
	Stats            *model.GameStats  `json:"stats,omitempty"`
}

// Progress counts answered items.
type Progress struct {
	Answered int `json:"answered"`
	Correct  int `json:"correct"`
	Total    int `json:"total"`
}

// NewSession builds the session for g's type.
func NewSession(g model.Game, c clock.Clock, rng *rand.Rand) (Session, error) {
	if err := ValidateDeck(g); err != nil {
		return nil, err
	}
	switch g.Type {
	case model.GameFlip:
		return NewFlip(g, c, rng)
	case model.GameMemory:
		return NewMemory(g, c, rng)
	case model.GameSequence:
		return NewSequence(g, c, rng)
	}
	return nil, model.Invalid("type", "unknown game type %q", g.Type)
}

// ValidateDeck checks that g can be played.
func ValidateDeck(g model.Game) error {
	verr := &model.ValidationError{}
	if g.ID == "" {
		verr.Add("id", "required")
	}
	if len(g.Cards) < 2 {
		verr.Add("cards", "deck needs at least two cards")
	}
	for i, c := range g.Cards {
		if c.Front == "" || (g.Type != model.GameSequence && c.Back == "") {
			verr.Add(fmt.Sprintf("cards[%d]", i), "card face is empty")
		}
	}
	switch g.Type {
	case model.GameFlip:
		if g.GridSize < 0 {
			verr.Add("grid_size", "must not be negative")
		}
		if g.GridSize > 0 {
			if (g.GridSize*g.GridSize)%2 != 0 {
				verr.Add("grid_size", "%dx%d grid has an odd number of tiles", g.GridSize, g.GridSize)
			} else if need := g.GridSize * g.GridSize / 2; len(g.Cards) < need {
				verr.Add("cards", "%dx%d grid needs %d pairs, deck has %d", g.GridSize, g.GridSize, need, len(g.Cards))
			}
		}
	case model.GameMemory:
		backs := map[string]bool{}
		for _, c := range g.Cards {
			backs[c.Back] = true
		}
		if len(backs) < 2 {
			verr.Add("cards", "memory deck needs at least two distinct backs")
		}
	case model.GameSequence:
	default:
		verr.Add("type", "unknown game type %q", g.Type)
	}
	return verr.OrNil()
}

// percent returns round(n/total*100).
func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(total) * 100))
}

// wholeSeconds truncates d to whole seconds, never below zero.
func wholeSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func phaseError(move string, p Phase) error {
	return fmt.Errorf("%s during %s: %w", move, p, model.ErrStaleTransition)
}
