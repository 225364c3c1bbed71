package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/validate"
)

// DefaultSessionTTL is how long an idle play session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Store is the persistence the host needs.
type Store interface {
	GetGame(ctx context.Context, id string) (model.Game, error)
	RecordPlay(ctx context.Context, gameID string, r model.PlayResult) (model.GameStats, error)
}

type live struct {
	mu      sync.Mutex
	id      string
	userID  int64
	game    model.Game
	session Session
	touched time.Time
	flushed bool
	stats   *model.GameStats
}

// Host keeps the live play sessions. Each session belongs to one learner
// and is persisted only through its terminal result, once.
type Host struct {
	store   Store
	clock   clock.Clock
	ttl     time.Duration
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	sessions map[string]*live
}

// HostOption configures a Host.
type HostOption func(*Host)

func WithClock(c clock.Clock) HostOption { return func(h *Host) { h.clock = c } }
func WithTTL(d time.Duration) HostOption { return func(h *Host) { h.ttl = d } }
func WithRand(r *rand.Rand) HostOption { return func(h *Host) { h.rng = r } }
func WithEvents(p events.Publisher) HostOption { return func(h *Host) { h.events = p } }
func WithMetrics(m *metrics.Metrics) HostOption { return func(h *Host) { h.metrics = m } }
func WithLogger(l *slog.Logger) HostOption { return func(h *Host) { h.logger = l } }

// NewHost returns a Host backed by store.
func NewHost(store Store, opts ...HostOption) *Host {
	h := &Host{
		store:    store,
		clock:    clock.System{},
		ttl:      DefaultSessionTTL,
		events:   events.Nop{},
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sessions: make(map[string]*live),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Len returns the number of live sessions.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Start opens a play session of gameID for userID.
func (h *Host) Start(ctx context.Context, gameID string, userID int64) (View, error) {
	g, err := h.store.GetGame(ctx, gameID)
	if err != nil {
		return View{}, err
	}

	h.mu.Lock()
	s, err := NewSession(g, h.clock, h.rng)
	if err != nil {
		h.mu.Unlock()
		return View{}, err
	}
	l := &live{
		id:      uuid.NewString(),
		userID:  userID,
		game:    g,
		session: s,
		touched: h.clock.Now(),
	}
	h.sessions[l.id] = l
	h.mu.Unlock()

	h.logger.Info("game session started", "game", g.ID, "type", g.Type, "session", l.id, "user", userID)
	return l.view(), nil
}

func (l *live) view() View {
	v := l.session.View()
	v.SessionID = l.id
	v.GameID = l.game.ID
	v.Stats = l.stats
	return v
}

// do runs fn on the session owned by userID and flushes a terminal result.
// Sessions of other users are reported as not found.
func (h *Host) do(ctx context.Context, sessionID string, userID int64, fn func(s Session) error) (View, error) {
	h.mu.Lock()
	l, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok || l.userID != userID {
		return View{}, fmt.Errorf("game session %s: %w", sessionID, model.ErrNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.touched = h.clock.Now()
	if fn != nil {
		if err := fn(l.session); err != nil {
			return l.view(), err
		}
	}
	if err := h.flush(ctx, l); err != nil {
		return l.view(), err
	}
	return l.view(), nil
}

// flush persists the terminal result. It runs at most once successfully;
// a failed flush is retried on the next call.
func (h *Host) flush(ctx context.Context, l *live) error {
	res, done := l.session.Result()
	if !done || l.flushed {
		return nil
	}
	stats, err := h.store.RecordPlay(ctx, l.game.ID, res)
	if err != nil {
		return fmt.Errorf("record play: %w", err)
	}
	l.flushed = true
	l.stats = &stats
	h.played(ctx, l.game, res, l.userID)
	return nil
}

func (h *Host) played(ctx context.Context, g model.Game, res model.PlayResult, userID int64) {
	h.logger.Info("game played", "game", g.ID, "type", g.Type, "user", userID, "time", res.ElapsedSeconds, "score", res.Score)
	h.metrics.GamePlayed(string(g.Type))
	events.Emit(ctx, h.events, h.logger, events.Event{
		Kind: events.GamePlayed, Subject: g.ID, At: h.clock.Now(),
		Data: map[string]any{"user_id": userID, "type": g.Type, "time": res.ElapsedSeconds, "score": res.Score},
	})
}

// View returns the current state of a session.
func (h *Host) View(ctx context.Context, sessionID string, userID int64) (View, error) {
	return h.do(ctx, sessionID, userID, nil)
}

// Flip turns a tile in a flip-match session.
func (h *Host) Flip(ctx context.Context, sessionID string, userID int64, tile int) (FlipOutcome, View, error) {
	var out FlipOutcome
	v, err := h.do(ctx, sessionID, userID, func(s Session) error {
		f, ok := s.(*Flip)
		if !ok {
			return unsupported("flip", s)
		}
		var err error
		out, err = f.Flip(tile)
		return err
	})
	return out, v, err
}

// Answer picks an option in a memory-recall session.
func (h *Host) Answer(ctx context.Context, sessionID string, userID int64, option int) (AnswerOutcome, View, error) {
	var out AnswerOutcome
	v, err := h.do(ctx, sessionID, userID, func(s Session) error {
		m, ok := s.(*Memory)
		if !ok {
			return unsupported("answer", s)
		}
		var err error
		out, err = m.Answer(option)
		return err
	})
	return out, v, err
}

// Swap exchanges two neighbouring cards in an ordered-sequence session.
func (h *Host) Swap(ctx context.Context, sessionID string, userID int64, pos int) (View, error) {
	return h.do(ctx, sessionID, userID, func(s Session) error {
		seq, ok := s.(*Sequence)
		if !ok {
			return unsupported("swap", s)
		}
		return seq.Swap(pos)
	})
}

// Finish submits the arrangement of an ordered-sequence session.
func (h *Host) Finish(ctx context.Context, sessionID string, userID int64) (View, error) {
	return h.do(ctx, sessionID, userID, func(s Session) error {
		seq, ok := s.(*Sequence)
		if !ok {
			return unsupported("finish", s)
		}
		_, err := seq.Finish()
		return err
	})
}

// Skip ends the preview of a memory or sequence session.
func (h *Host) Skip(ctx context.Context, sessionID string, userID int64) (View, error) {
	return h.do(ctx, sessionID, userID, func(s Session) error {
		sk, ok := s.(interface{ Skip() error })
		if !ok {
			return unsupported("skip", s)
		}
		return sk.Skip()
	})
}

func unsupported(move string, s Session) error {
	return model.Invalid("move", "%s is not a move of %s games", move, s.View().Type)
}

// Record merges a result reported by a client that ran the game itself.
func (h *Host) Record(ctx context.Context, gameID string, userID int64, r model.PlayResult) (model.GameStats, error) {
	if err := validate.Struct("", r); err != nil {
		return model.GameStats{}, err
	}
	g, err := h.store.GetGame(ctx, gameID)
	if err != nil {
		return model.GameStats{}, err
	}
	stats, err := h.store.RecordPlay(ctx, gameID, r)
	if err != nil {
		return model.GameStats{}, err
	}
	h.played(ctx, g, r, userID)
	return stats, nil
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed. An evicted session that never finished records nothing.
func (h *Host) Sweep() int {
	cutoff := h.clock.Now().Add(-h.ttl)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, l := range h.sessions {
		if !l.mu.TryLock() {
			continue
		}
		idle := l.touched.Before(cutoff)
		l.mu.Unlock()
		if idle {
			delete(h.sessions, id)
			n++
		}
	}
	if n > 0 {
		h.logger.Debug("evicted idle game sessions", "count", n)
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (h *Host) Run(ctx context.Context) {
	t := h.clock.NewTicker(max(h.ttl/4, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			h.Sweep()
		}
	}
}
