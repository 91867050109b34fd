package position

import (
	"context"
	"sync"
	"time"

	"marketfinder/internal/domain/geo"
)

// fakeSource is a scriptable position source for tracker tests
type fakeSource struct {
	mu        sync.Mutex
	granted   bool
	permErr   error
	pos       geo.Position
	readErr   error
	block     bool
	panicRead bool
	watchErr  error

	// permGate, when set, holds RequestPermission until closed, ignoring ctx
	permGate chan struct{}

	watchCalls int
	cancels    int
	onUpdate   func(geo.Position)
	onError    func(error)
}

func newFakeSource(c geo.Coordinate) *fakeSource {
	return &fakeSource{granted: true, pos: geo.Position{Coordinate: c}}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) RequestPermission(ctx context.Context) (bool, error) {
	f.mu.Lock()
	gate := f.permGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted, f.permErr
}

func (f *fakeSource) CurrentPosition(ctx context.Context, maxAge time.Duration) (geo.Position, error) {
	f.mu.Lock()
	block, panicRead, pos, err := f.block, f.panicRead, f.pos, f.readErr
	f.mu.Unlock()

	if panicRead {
		panic("provider crashed")
	}
	if block {
		<-ctx.Done()
		return geo.Position{}, ctx.Err()
	}
	return pos, err
}

func (f *fakeSource) Watch(opts geo.WatchOptions, onUpdate func(geo.Position), onError func(error)) (geo.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.watchCalls++
	f.onUpdate = onUpdate
	f.onError = onError
	return &fakeSubscription{src: f}, nil
}

// emit pushes a fix through the most recent watch callback
func (f *fakeSource) emit(c geo.Coordinate) {
	f.mu.Lock()
	cb := f.onUpdate
	f.mu.Unlock()
	if cb != nil {
		cb(geo.Position{Coordinate: c})
	}
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeSource) counts() (watches, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCalls, f.cancels
}

type fakeSubscription struct {
	src  *fakeSource
	once sync.Once
}

func (s *fakeSubscription) Cancel() {
	s.once.Do(func() {
		s.src.mu.Lock()
		s.src.cancels++
		s.src.mu.Unlock()
	})
}
