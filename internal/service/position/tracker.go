// internal/service/position/tracker.go

// Package position acquires the device position and runs at most one
// continuous watch per tracker.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/logging"
	"marketfinder/internal/metrics"
)

// State is the tracker's acquisition state
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateReady
	StatePermissionDenied
	StatePositionError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateReady:
		return "ready"
	case StatePermissionDenied:
		return "permission_denied"
	case StatePositionError:
		return "position_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds tracker tuning
type Config struct {
	// AcquireTimeout bounds a one-shot read
	AcquireTimeout time.Duration

	// MaxAge is the oldest cached fix the source may return
	MaxAge time.Duration

	Watch geo.WatchOptions
}

// DefaultConfig returns a 15 s read timeout, no cached fixes and the default watch options
func DefaultConfig() Config {
	return Config{
		AcquireTimeout: 15 * time.Second,
		MaxAge:         0,
		Watch:          geo.DefaultWatchOptions(),
	}
}

// snapshot is a point-in-time copy of tracker state
type snapshot struct {
	State     State
	LastKnown *geo.Position
	LastError error
	Watching  bool
}

// watchSession is the single live subscription owned by a tracker.
// Deliveries and cancellation serialize on mu, so once closed is set no
// further update reaches the caller.
type watchSession struct {
	mu     sync.Mutex
	closed bool
	sub    geo.Subscription
}

// Tracker owns last known position, the watching flag and the subscription handle
type Tracker struct {
	source geo.PositionSource
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	lastKnown *geo.Position
	lastErr   error
	session   *watchSession

	closeOnce sync.Once
}

// NewTracker creates a tracker reading from source
func NewTracker(source geo.PositionSource, cfg Config) *Tracker {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	if cfg.Watch == (geo.WatchOptions{}) {
		cfg.Watch = geo.DefaultWatchOptions()
	}
	return &Tracker{
		source: source,
		cfg:    cfg,
		logger: logging.WithComponent("position-tracker").With().Str("source", source.Name()).Logger(),
		now:    time.Now,
		state:  StateIdle,
	}
}

// RequestPermission asks the source for authorization, bounded by the
// acquisition timeout. Errors count as a refusal.
func (t *Tracker) RequestPermission(ctx context.Context) bool {
	granted, err := t.boundedPermission(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Permission request failed")
		return false
	}
	return granted
}

func (t *Tracker) requestPermission(ctx context.Context) (granted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			granted, err = false, fmt.Errorf("permission request panicked: %v", r)
		}
	}()
	return t.source.RequestPermission(ctx)
}

// boundedPermission returns geo.ErrPositionTimeout when the source leaves the
// prompt unanswered past the acquisition timeout, even if it ignores ctx.
func (t *Tracker) boundedPermission(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.AcquireTimeout)
	defer cancel()

	type permissionResult struct {
		granted bool
		err     error
	}
	results := make(chan permissionResult, 1)
	go func() {
		granted, err := t.requestPermission(ctx)
		results <- permissionResult{granted: granted, err: err}
	}()

	var res permissionResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if errors.Is(res.err, context.DeadlineExceeded) {
		return false, geo.ErrPositionTimeout
	}
	return res.granted, res.err
}

type readResult struct {
	pos geo.Position
	err error
}

// CurrentPosition performs a one-shot read. The permission check and the read
// together are bounded by the acquisition timeout. It returns
// geo.ErrPermissionDenied when access was refused and geo.ErrPositionTimeout
// when the source did not answer in time.
func (t *Tracker) CurrentPosition(ctx context.Context) (geo.Position, error) {
	t.mu.Lock()
	t.state = StateAcquiring
	t.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, t.cfg.AcquireTimeout)
	defer cancel()

	results := make(chan readResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- readResult{err: fmt.Errorf("position read panicked: %v", r)}
			}
		}()

		granted, err := t.requestPermission(readCtx)
		if err != nil {
			results <- readResult{err: fmt.Errorf("request permission: %w", err)}
			return
		}
		if !granted {
			results <- readResult{err: geo.ErrPermissionDenied}
			return
		}

		pos, err := t.source.CurrentPosition(readCtx, t.cfg.MaxAge)
		results <- readResult{pos: pos, err: err}
	}()

	var res readResult
	select {
	case res = <-results:
	case <-readCtx.Done():
		res.err = readCtx.Err()
	}

	if res.err != nil {
		switch {
		case errors.Is(res.err, geo.ErrPermissionDenied):
			return geo.Position{}, t.fail(StatePermissionDenied, "denied", geo.ErrPermissionDenied)
		case errors.Is(res.err, geo.ErrPositionTimeout), errors.Is(res.err, context.DeadlineExceeded):
			return geo.Position{}, t.fail(StatePositionError, "timeout", geo.ErrPositionTimeout)
		default:
			return geo.Position{}, t.fail(StatePositionError, "error", fmt.Errorf("read position: %w", res.err))
		}
	}

	pos := geo.Position{
		Coordinate: res.pos.Coordinate,
		Accuracy:   res.pos.Accuracy,
		CapturedAt: t.now(),
	}

	t.mu.Lock()
	t.state = StateReady
	t.lastKnown = &pos
	t.lastErr = nil
	t.mu.Unlock()

	metrics.PositionAcquisitions.WithLabelValues(t.source.Name(), "ok").Inc()
	t.logger.Debug().Stringer("coordinate", pos.Coordinate).Msg("Position acquired")
	return pos, nil
}

func (t *Tracker) fail(state State, outcome string, err error) error {
	t.mu.Lock()
	t.state = state
	t.lastErr = err
	t.mu.Unlock()

	metrics.PositionAcquisitions.WithLabelValues(t.source.Name(), outcome).Inc()
	t.logger.Warn().Err(err).Str("state", state.String()).Msg("Position acquisition failed")
	return err
}

// StartWatching subscribes to continuous updates. It returns false when a
// session is already active, permission is refused, or the source failed to
// subscribe; in the last two cases onError receives the reason.
//
// Callbacks run on the source's goroutine and must not call StopWatching
// synchronously.
func (t *Tracker) StartWatching(ctx context.Context, onUpdate func(geo.Position), onError func(error)) bool {
	if t.IsWatching() {
		return false
	}

	granted, err := t.boundedPermission(ctx)
	if ctx.Err() != nil {
		return false
	}
	if err != nil || !granted {
		if err == nil {
			err = geo.ErrPermissionDenied
		}
		t.mu.Lock()
		t.lastErr = err
		if errors.Is(err, geo.ErrPermissionDenied) {
			t.state = StatePermissionDenied
		}
		t.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return false
	}

	sess := &watchSession{}
	t.mu.Lock()
	if t.session != nil {
		t.mu.Unlock()
		return false
	}
	t.session = sess
	t.mu.Unlock()

	sub, err := t.source.Watch(t.cfg.Watch,
		func(p geo.Position) { t.deliver(sess, p, onUpdate) },
		func(err error) { t.deliverError(sess, err, onError) },
	)
	if err != nil {
		t.mu.Lock()
		if t.session == sess {
			t.session = nil
		}
		t.lastErr = &geo.WatchError{Source: t.source.Name(), Err: err}
		werr := t.lastErr
		t.mu.Unlock()

		t.logger.Error().Err(err).Msg("Failed to start watch")
		if onError != nil {
			onError(werr)
		}
		return false
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		sub.Cancel()
		return false
	}
	sess.sub = sub
	sess.mu.Unlock()

	metrics.ActiveWatches.Inc()
	t.logger.Info().
		Float64("min_displacement_m", t.cfg.Watch.MinDisplacementM).
		Dur("interval", t.cfg.Watch.Interval).
		Msg("Watch started")
	return true
}

func (t *Tracker) deliver(sess *watchSession, p geo.Position, onUpdate func(geo.Position)) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}

	if p.CapturedAt.IsZero() {
		p.CapturedAt = t.now()
	}

	t.mu.Lock()
	t.lastKnown = &p
	t.lastErr = nil
	t.state = StateReady
	t.mu.Unlock()

	metrics.PositionUpdates.WithLabelValues(t.source.Name()).Inc()
	if onUpdate != nil {
		onUpdate(p)
	}
}

func (t *Tracker) deliverError(sess *watchSession, err error, onError func(error)) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}

	werr := &geo.WatchError{Source: t.source.Name(), Err: err}
	t.mu.Lock()
	t.lastErr = werr
	t.mu.Unlock()

	t.logger.Warn().Err(err).Msg("Watch reported an error")
	if onError != nil {
		onError(werr)
	}
}

// StopWatching cancels the active session. It is safe to call when not watching.
// When it returns no further update from the old session is delivered.
func (t *Tracker) StopWatching() {
	t.mu.Lock()
	sess := t.session
	t.session = nil
	t.mu.Unlock()

	if sess == nil {
		return
	}

	sess.mu.Lock()
	sess.closed = true
	sub := sess.sub
	sess.sub = nil
	sess.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		metrics.ActiveWatches.Dec()
		t.logger.Info().Msg("Watch stopped")
	}
}

// Close stops watching. Only the first call has an effect.
func (t *Tracker) Close() {
	t.closeOnce.Do(t.StopWatching)
}

// IsWatching reports whether a session is active
func (t *Tracker) IsWatching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// LastKnown returns the most recent position, if any
func (t *Tracker) LastKnown() (geo.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastKnown == nil {
		return geo.Position{}, false
	}
	return *t.lastKnown, true
}

// snapshot returns a copy of the tracker state
func (t *Tracker) snapshot() snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := snapshot{
		State:     t.state,
		LastError: t.lastErr,
		Watching:  t.session != nil,
	}
	if t.lastKnown != nil {
		p := *t.lastKnown
		snap.LastKnown = &p
	}
	return snap
}
