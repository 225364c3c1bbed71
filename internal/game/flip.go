package game

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/model"
)

// Tile faces.
const (
	FaceFront = "front"
	FaceBack  = "back"
)

// TileView is a tile as the learner sees it. Value is empty while the
// tile is face down.
type TileView struct {
	Face    string `json:"face"`
	Value   string `json:"value,omitempty"`
	Up      bool   `json:"up"`
	Matched bool   `json:"matched"`
}

type tile struct {
	pair    int
	face    string
	value   string
	up      bool
	matched bool
}

// FlipOutcome reports the effect of one flip.
type FlipOutcome struct {
	Tile     int    `json:"tile"`
	Value    string `json:"value"`
	Matched  bool   `json:"matched"`
	Mismatch bool   `json:"mismatch"`
	Finished bool   `json:"finished"`
}

// Flip is a flip-match session. Every card contributes two tiles, its
// front and its back, and a move turns two tiles face up.
type Flip struct {
	clock   clock.Clock
	tiles   []tile
	pairs   int
	moves   int
	matched int
	first   int

	hide   []int
	hideAt time.Time

	started time.Time
	result  *model.PlayResult
}

// NewFlip deals a shuffled board. A grid of N×N uses N²/2 cards chosen at
// random; without a grid every card is dealt.
func NewFlip(g model.Game, c clock.Clock, rng *rand.Rand) (*Flip, error) {
	pairs := len(g.Cards)
	if g.GridSize > 0 {
		pairs = g.GridSize * g.GridSize / 2
	}
	if pairs < 2 || pairs > len(g.Cards) {
		return nil, model.Invalid("cards", "cannot deal %d pairs from %d cards", pairs, len(g.Cards))
	}
	picked := rng.Perm(len(g.Cards))[:pairs]
	tiles := make([]tile, 0, 2*pairs)
	for id, ci := range picked {
		card := g.Cards[ci]
		tiles = append(tiles,
			tile{pair: id, face: FaceFront, value: card.Front},
			tile{pair: id, face: FaceBack, value: card.Back},
		)
	}
	rng.Shuffle(len(tiles), func(i, j int) { tiles[i], tiles[j] = tiles[j], tiles[i] })
	return &Flip{
		clock:   c,
		tiles:   tiles,
		pairs:   pairs,
		first:   -1,
		started: c.Now(),
	}, nil
}

// FlipScore is max(0, round(100 − (moves − pairs)×5 − elapsed×0.5)).
func FlipScore(moves, pairs, elapsedSeconds int) int {
	s := math.Round(100 - float64(moves-pairs)*5 - float64(elapsedSeconds)*0.5)
	return int(math.Max(0, s))
}

func (f *Flip) Phase() Phase {
	if f.result != nil {
		return PhaseFinished
	}
	return PhasePlaying
}

func (f *Flip) Result() (model.PlayResult, bool) {
	if f.result == nil {
		return model.PlayResult{}, false
	}
	return *f.result, true
}

// settle turns a mismatched pair back down once its delay has passed.
func (f *Flip) settle(now time.Time) {
	if len(f.hide) == 0 || now.Before(f.hideAt) {
		return
	}
	for _, i := range f.hide {
		f.tiles[i].up = false
	}
	f.hide = nil
}

// Flip turns tile i face up. The second flip of a move either locks a
// matching pair or schedules both tiles to turn back after FlipBackDelay;
// the board accepts no flips until then.
func (f *Flip) Flip(i int) (FlipOutcome, error) {
	if f.result != nil {
		return FlipOutcome{}, phaseError("flip", PhaseFinished)
	}
	now := f.clock.Now()
	f.settle(now)
	if i < 0 || i >= len(f.tiles) {
		return FlipOutcome{}, model.Invalid("tile", "tile %d out of range", i)
	}
	t := &f.tiles[i]
	if len(f.hide) > 0 || t.up || t.matched {
		return FlipOutcome{}, ErrTileUnavailable
	}
	t.up = true
	out := FlipOutcome{Tile: i, Value: t.value}
	if f.first < 0 {
		f.first = i
		return out, nil
	}

	f.moves++
	a := &f.tiles[f.first]
	if a.pair == t.pair {
		a.matched, t.matched = true, true
		f.matched++
		out.Matched = true
	} else {
		f.hide = []int{f.first, i}
		f.hideAt = now.Add(FlipBackDelay)
		out.Mismatch = true
	}
	f.first = -1

	if f.matched == f.pairs {
		elapsed := wholeSeconds(now.Sub(f.started))
		f.result = &model.PlayResult{ElapsedSeconds: elapsed, Score: FlipScore(f.moves, f.pairs, elapsed)}
		out.Finished = true
	}
	return out, nil
}

func (f *Flip) View() View {
	now := f.clock.Now()
	f.settle(now)
	v := View{
		Type:           model.GameFlip,
		Phase:          f.Phase(),
		ElapsedSeconds: wholeSeconds(now.Sub(f.started)),
		Moves:          f.moves,
		Tiles:          make([]TileView, len(f.tiles)),
		Result:         f.result,
	}
	if f.result != nil {
		v.ElapsedSeconds = f.result.ElapsedSeconds
	}
	for i, t := range f.tiles {
		tv := TileView{Face: t.face, Up: t.up || t.matched, Matched: t.matched}
		if tv.Up {
			tv.Value = t.value
		}
		v.Tiles[i] = tv
	}
	return v
}
