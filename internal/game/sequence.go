package game

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/model"
)

// Sequence is an ordered-sequence session. The deck order is the ground
// truth; the learner rebuilds it from a shuffled display by swapping
// neighbours.
type Sequence struct {
	clock clock.Clock
	truth []model.Card
	// order[i] is the index into truth of the card shown at position i.
	order []int

	previewEnds time.Time
	swaps       int
	result      *model.PlayResult
}

// SequencePreview returns max(5s, n×2s).
func SequencePreview(n int) time.Duration {
	return max(SequenceMinPreview, time.Duration(n)*SequencePerCard)
}

// NewSequence shuffles the display order. Unless every card has the same
// face, the display never starts in ground-truth order.
func NewSequence(g model.Game, c clock.Clock, rng *rand.Rand) (*Sequence, error) {
	n := len(g.Cards)
	order := rng.Perm(n)
	mixed := slices.ContainsFunc(g.Cards, func(card model.Card) bool { return card != g.Cards[0] })
	for mixed && PositionsCorrect(g.Cards, order) == n {
		order = rng.Perm(n)
	}
	return &Sequence{
		clock:       c,
		truth:       g.Cards,
		order:       order,
		previewEnds: c.Now().Add(SequencePreview(n)),
	}, nil
}

// PositionsCorrect counts positions showing the same face as the
// ground-truth card there. Duplicate cards are interchangeable.
func PositionsCorrect(truth []model.Card, order []int) int {
	n := 0
	for i, ci := range order {
		if truth[ci] == truth[i] {
			n++
		}
	}
	return n
}

// SequenceScore is round(positionsCorrect / n × 100).
func SequenceScore(truth []model.Card, order []int) int {
	return percent(PositionsCorrect(truth, order), len(order))
}

func (s *Sequence) Phase() Phase {
	switch {
	case s.result != nil:
		return PhaseFinished
	case s.clock.Now().Before(s.previewEnds):
		return PhasePreview
	}
	return PhasePlaying
}

func (s *Sequence) Result() (model.PlayResult, bool) {
	if s.result == nil {
		return model.PlayResult{}, false
	}
	return *s.result, true
}

// Skip ends the preview early.
func (s *Sequence) Skip() error {
	if p := s.Phase(); p != PhasePreview {
		return phaseError("skip", p)
	}
	s.previewEnds = s.clock.Now()
	return nil
}

// Swap exchanges the cards at positions pos and pos+1.
func (s *Sequence) Swap(pos int) error {
	if p := s.Phase(); p != PhasePlaying {
		return phaseError("swap", p)
	}
	if pos < 0 || pos >= len(s.order)-1 {
		return model.Invalid("position", "position %d out of range", pos)
	}
	s.order[pos], s.order[pos+1] = s.order[pos+1], s.order[pos]
	s.swaps++
	return nil
}

// Finish scores the current arrangement.
func (s *Sequence) Finish() (model.PlayResult, error) {
	if p := s.Phase(); p != PhasePlaying {
		return model.PlayResult{}, phaseError("finish", p)
	}
	s.result = &model.PlayResult{
		ElapsedSeconds: wholeSeconds(s.clock.Now().Sub(s.previewEnds)),
		Score:          SequenceScore(s.truth, s.order),
	}
	return *s.result, nil
}

func (s *Sequence) View() View {
	now := s.clock.Now()
	v := View{
		Type:   model.GameSequence,
		Phase:  s.Phase(),
		Moves:  s.swaps,
		Result: s.result,
	}
	switch v.Phase {
	case PhasePreview:
		v.Truth = s.truth
		v.PreviewRemaining = clock.SecondsUntil(s.previewEnds, now)
	default:
		v.Order = make([]model.Card, len(s.order))
		for i, ci := range s.order {
			v.Order[i] = s.truth[ci]
		}
		if s.result != nil {
			v.ElapsedSeconds = s.result.ElapsedSeconds
		} else {
			v.ElapsedSeconds = wholeSeconds(now.Sub(s.previewEnds))
		}
	}
	return v
}
