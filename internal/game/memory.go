package game

import (
	"math/rand/v2"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/model"
)

// MemoryQuestion asks for the back of one card.
type MemoryQuestion struct {
	Index   int      `json:"index"`
	Front   string   `json:"front"`
	Options []string `json:"options"`
}

// AnswerOutcome reports the effect of one memory answer.
type AnswerOutcome struct {
	Correct  bool   `json:"correct"`
	Answer   string `json:"answer"`
	Finished bool   `json:"finished"`
}

// Memory is a memory-recall session. Each card is previewed with both
// faces for MemoryPreviewCard, then the learner picks every card's back
// from a set of options.
type Memory struct {
	clock     clock.Clock
	cards     []model.Card
	questions []MemoryQuestion

	created     time.Time
	previewEnds time.Time

	current int
	correct int
	result  *model.PlayResult
}

// NewMemory prepares the preview and the shuffled options for every card.
func NewMemory(g model.Game, c clock.Clock, rng *rand.Rand) (*Memory, error) {
	now := c.Now()
	m := &Memory{
		clock:       c,
		cards:       g.Cards,
		questions:   make([]MemoryQuestion, len(g.Cards)),
		created:     now,
		previewEnds: now.Add(time.Duration(len(g.Cards)) * MemoryPreviewCard),
	}
	for i, card := range g.Cards {
		m.questions[i] = MemoryQuestion{Index: i, Front: card.Front, Options: memoryOptions(g.Cards, i, rng)}
	}
	return m, nil
}

// memoryOptions returns the back of card i and up to MemoryOptions-1
// distinct distractors from the other backs, shuffled.
func memoryOptions(cards []model.Card, i int, rng *rand.Rand) []string {
	correct := cards[i].Back
	seen := map[string]bool{correct: true}
	var pool []string
	for j, c := range cards {
		if j == i || seen[c.Back] {
			continue
		}
		seen[c.Back] = true
		pool = append(pool, c.Back)
	}
	rng.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })
	if len(pool) > MemoryOptions-1 {
		pool = pool[:MemoryOptions-1]
	}
	opts := append([]string{correct}, pool...)
	rng.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
	return opts
}

func (m *Memory) Phase() Phase {
	switch {
	case m.result != nil:
		return PhaseFinished
	case m.clock.Now().Before(m.previewEnds):
		return PhasePreview
	}
	return PhasePlaying
}

func (m *Memory) Result() (model.PlayResult, bool) {
	if m.result == nil {
		return model.PlayResult{}, false
	}
	return *m.result, true
}

// Skip ends the preview early.
func (m *Memory) Skip() error {
	if p := m.Phase(); p != PhasePreview {
		return phaseError("skip", p)
	}
	m.previewEnds = m.clock.Now()
	return nil
}

// Answer picks option for the current card.
func (m *Memory) Answer(option int) (AnswerOutcome, error) {
	if p := m.Phase(); p != PhasePlaying {
		return AnswerOutcome{}, phaseError("answer", p)
	}
	q := m.questions[m.current]
	if option < 0 || option >= len(q.Options) {
		return AnswerOutcome{}, model.Invalid("option", "option %d out of range", option)
	}
	want := m.cards[m.current].Back
	out := AnswerOutcome{Correct: q.Options[option] == want, Answer: want}
	if out.Correct {
		m.correct++
	}
	m.current++
	if m.current == len(m.cards) {
		m.result = &model.PlayResult{
			ElapsedSeconds: wholeSeconds(m.clock.Now().Sub(m.previewEnds)),
			Score:          percent(m.correct, len(m.cards)),
		}
		out.Finished = true
	}
	return out, nil
}

func (m *Memory) View() View {
	now := m.clock.Now()
	v := View{
		Type:     model.GameMemory,
		Phase:    m.Phase(),
		Progress: &Progress{Answered: m.current, Correct: m.correct, Total: len(m.cards)},
		Result:   m.result,
	}
	switch v.Phase {
	case PhasePreview:
		idx := int(now.Sub(m.created) / MemoryPreviewCard)
		card := m.cards[min(idx, len(m.cards)-1)]
		v.Preview = &card
		v.PreviewRemaining = clock.SecondsUntil(m.previewEnds, now)
	case PhasePlaying:
		q := m.questions[m.current]
		v.Question = &q
		v.ElapsedSeconds = wholeSeconds(now.Sub(m.previewEnds))
	case PhaseFinished:
		v.ElapsedSeconds = m.result.ElapsedSeconds
	}
	return v
}
