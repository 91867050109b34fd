// internal/service/position/replay_source.go

package position

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"marketfinder/internal/domain/geo"
)

// TrackPoint is one scripted fix
type TrackPoint struct {
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
	Accuracy  *float64 `yaml:"accuracy,omitempty"`
}

// Track is a scripted route. Step is the simulated time between points;
// the movement filter is evaluated against simulated time.
type Track struct {
	Denied bool          `yaml:"denied"`
	Step   time.Duration `yaml:"step"`
	Loop   bool          `yaml:"loop"`
	Points []TrackPoint  `yaml:"points"`
}

// LoadTrack reads a YAML track file
func LoadTrack(path string) (Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Track{}, fmt.Errorf("read track: %w", err)
	}
	return ParseTrack(data)
}

// ParseTrack decodes and validates a YAML track
func ParseTrack(data []byte) (Track, error) {
	var track Track
	if err := yaml.Unmarshal(data, &track); err != nil {
		return Track{}, fmt.Errorf("parse track: %w", err)
	}
	if len(track.Points) == 0 {
		return Track{}, errors.New("track has no points")
	}
	for i, p := range track.Points {
		c := geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
		if err := c.Validate(); err != nil {
			return Track{}, fmt.Errorf("track point %d: %w", i, err)
		}
	}
	if track.Step <= 0 {
		track.Step = 10 * time.Second
	}
	return track, nil
}

// ReplaySource plays a scripted track. Pace is the real time between points.
type ReplaySource struct {
	track Track
	pace  time.Duration

	mu     sync.Mutex
	cursor int
}

// NewReplaySource creates a source that emits one track point every pace
func NewReplaySource(track Track, pace time.Duration) *ReplaySource {
	if pace <= 0 {
		pace = time.Second
	}
	return &ReplaySource{track: track, pace: pace}
}

func (s *ReplaySource) Name() string { return "replay" }

func (s *ReplaySource) RequestPermission(ctx context.Context) (bool, error) {
	return !s.track.Denied, nil
}

// CurrentPosition returns the point the replay cursor is on
func (s *ReplaySource) CurrentPosition(ctx context.Context, maxAge time.Duration) (geo.Position, error) {
	if s.track.Denied {
		return geo.Position{}, geo.ErrPermissionDenied
	}
	if err := ctx.Err(); err != nil {
		return geo.Position{}, err
	}

	s.mu.Lock()
	p := s.track.Points[s.cursor]
	s.mu.Unlock()

	return geo.NewPosition(geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}, p.Accuracy), nil
}

func (s *ReplaySource) Watch(opts geo.WatchOptions, onUpdate func(geo.Position), onError func(error)) (geo.Subscription, error) {
	if s.track.Denied {
		return nil, geo.ErrPermissionDenied
	}

	sub := &replaySubscription{done: make(chan struct{})}
	sub.wg.Add(1)
	go s.play(sub, newMovementFilter(opts), onUpdate)
	return sub, nil
}

func (s *ReplaySource) play(sub *replaySubscription, filter *movementFilter, onUpdate func(geo.Position)) {
	defer sub.wg.Done()

	ticker := time.NewTicker(s.pace)
	defer ticker.Stop()

	simulated := time.Now()
	for i := 0; ; i++ {
		if i == len(s.track.Points) {
			if !s.track.Loop {
				return
			}
			i = 0
		}

		point := s.track.Points[i]
		s.mu.Lock()
		s.cursor = i
		s.mu.Unlock()

		c := geo.Coordinate{Latitude: point.Latitude, Longitude: point.Longitude}
		if filter.Accept(c, simulated) {
			onUpdate(geo.Position{Coordinate: c, Accuracy: point.Accuracy, CapturedAt: simulated})
		}
		simulated = simulated.Add(s.track.Step)

		select {
		case <-sub.done:
			return
		case <-ticker.C:
		}
	}
}

type replaySubscription struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Cancel stops playback and waits for the player goroutine to exit
func (r *replaySubscription) Cancel() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}
