// internal/service/tracking/session.go

// Package tracking exposes a tracker's lifecycle as observable state and
// fans position updates out to subscribers.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/logging"
	"marketfinder/internal/service/position"
)

// ErrSessionClosed is returned by operations on a closed session
var ErrSessionClosed = errors.New("tracking session closed")

// State is what the presentation layer observes
type State struct {
	Position   *geo.Position `json:"position,omitempty"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	LastUpdate *time.Time    `json:"lastUpdate,omitempty"`
	IsWatching bool          `json:"isWatching"`
}

// Config holds session tuning
type Config struct {
	// SettleDelay separates the initial read from the automatic watch start
	SettleDelay time.Duration

	// AutoWatch starts watching after the initial read
	AutoWatch bool
}

// DefaultConfig auto-starts the watch one second after the initial read
func DefaultConfig() Config {
	return Config{SettleDelay: time.Second, AutoWatch: true}
}

// Session is the façade over one position tracker
type Session struct {
	id      string
	tracker *position.Tracker
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	// ctl guards lifecycle flags; it is never held across a source call
	ctl     sync.Mutex
	started bool
	closed  bool
	settle  *time.Timer

	// life is canceled by Close and aborts a pending automatic watch start
	life   context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	state      State
	nextSubID  int
	positionFn map[int]func(geo.Position)
	errorFn    map[int]func(error)

	closeOnce sync.Once
}

// NewSession creates a session over tracker. The session owns the tracker
// and closes it on Close.
func NewSession(tracker *position.Tracker, cfg Config) *Session {
	id := uuid.New().String()
	life, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		tracker:    tracker,
		cfg:        cfg,
		life:       life,
		cancel:     cancel,
		state:      State{Loading: true},
		logger:     logging.WithComponent("tracking-session").With().Str("session_id", id).Logger(),
		now:        time.Now,
		positionFn: make(map[int]func(geo.Position)),
		errorFn:    make(map[int]func(error)),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Start performs the initial read and schedules the automatic watch.
// Calling it again is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.ctl.Lock()
	if s.closed {
		s.ctl.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.ctl.Unlock()
		return nil
	}
	s.started = true
	s.ctl.Unlock()

	err := s.read(ctx)

	if s.cfg.AutoWatch {
		s.ctl.Lock()
		if !s.closed {
			s.settle = time.AfterFunc(s.cfg.SettleDelay, func() {
				s.StartWatching(s.life)
			})
		}
		s.ctl.Unlock()
	}

	return err
}

// Refresh re-reads the position without touching an active watch
func (s *Session) Refresh(ctx context.Context) error {
	s.ctl.Lock()
	closed := s.closed
	s.ctl.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.read(ctx)
}

func (s *Session) read(ctx context.Context) error {
	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()

	pos, err := s.tracker.CurrentPosition(ctx)
	if err != nil {
		s.handleError(err)
		return err
	}
	s.handlePosition(pos)
	return nil
}

// StartWatching begins the watch. It reports whether a new subscription was created.
// A watch that finishes starting after Close is stopped again.
func (s *Session) StartWatching(ctx context.Context) bool {
	s.ctl.Lock()
	closed := s.closed
	s.ctl.Unlock()
	if closed {
		return false
	}

	ok := s.tracker.StartWatching(ctx, s.handlePosition, s.handleError)

	s.ctl.Lock()
	if s.closed {
		s.ctl.Unlock()
		if ok {
			s.tracker.StopWatching()
		}
		return false
	}
	s.mu.Lock()
	s.state.IsWatching = s.tracker.IsWatching()
	s.mu.Unlock()
	s.ctl.Unlock()

	if ok {
		s.logger.Info().Msg("Watching position")
	}
	return ok
}

// StopWatching stops the watch. Safe to call when not watching.
func (s *Session) StopWatching() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.tracker.StopWatching()

	s.mu.Lock()
	s.state.IsWatching = false
	s.mu.Unlock()
}

// Close cancels a pending automatic start and closes the tracker, which
// stops the watch exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.ctl.Lock()
		s.closed = true
		if s.settle != nil {
			s.settle.Stop()
		}
		s.ctl.Unlock()

		s.cancel()
		s.tracker.Close()

		s.mu.Lock()
		s.state.IsWatching = false
		s.state.Loading = false
		s.mu.Unlock()

		s.logger.Info().Msg("Tracking session closed")
	})
}

// Serve runs the session until ctx is done. It implements suture.Service.
func (s *Session) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
		}
		s.logger.Warn().Err(err).Msg("Initial position read failed")
	}
	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// String names the service in supervisor logs
func (s *Session) String() string {
	return "tracking-session"
}

// State returns a snapshot of the observable state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	if st.Position != nil {
		p := *st.Position
		st.Position = &p
	}
	if st.LastUpdate != nil {
		t := *st.LastUpdate
		st.LastUpdate = &t
	}
	return st
}

// Position returns the last successful position, if any
func (s *Session) Position() (geo.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Position == nil {
		return geo.Position{}, false
	}
	return *s.state.Position, true
}

// Subscribe registers fn for every successful position. fn runs on the
// delivering goroutine and must not block. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(geo.Position)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.positionFn[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.positionFn, id)
		s.mu.Unlock()
	}
}

// SubscribeErrors registers fn for every acquisition or watch failure
func (s *Session) SubscribeErrors(fn func(error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.errorFn[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.errorFn, id)
		s.mu.Unlock()
	}
}

func (s *Session) handlePosition(p geo.Position) {
	now := s.now()

	s.mu.Lock()
	s.state.Position = &p
	s.state.LastUpdate = &now
	s.state.Error = ""
	s.state.Loading = false
	subs := make([]func(geo.Position), 0, len(s.positionFn))
	for _, fn := range s.positionFn {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

func (s *Session) handleError(err error) {
	s.mu.Lock()
	s.state.Error = err.Error()
	s.state.Loading = false
	subs := make([]func(error), 0, len(s.errorFn))
	for _, fn := range s.errorFn {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("Position update failed")
	for _, fn := range subs {
		fn(err)
	}
}
