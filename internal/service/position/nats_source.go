// internal/service/position/nats_source.go

package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/logging"
)

// Wire payloads exchanged with the device gateway
type (
	PermissionReply struct {
		Granted bool   `json:"granted"`
		Error   string `json:"error,omitempty"`
	}

	CurrentRequest struct {
		MaxAgeMs int64 `json:"maxAgeMs"`
	}

	Fix struct {
		Latitude   float64   `json:"latitude"`
		Longitude  float64   `json:"longitude"`
		Accuracy   *float64  `json:"accuracy,omitempty"`
		CapturedAt time.Time `json:"capturedAt,omitempty"`
		Error      string    `json:"error,omitempty"`
	}
)

// Error codes a gateway may put in a reply
const (
	ReplyPermissionDenied = "permission_denied"
	ReplyTimeout          = "timeout"
)

// NATSSource reads fixes for one device from a NATS gateway.
//
// Subjects, under <prefix>.<device>:
//
//	.permission  request/reply, PermissionReply
//	.current     request/reply, CurrentRequest -> Fix
//	.fix         published stream of Fix
type NATSSource struct {
	nc      *nats.Conn
	prefix  string
	device  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewNATSSource creates a live source for device. requestTimeout bounds
// request/reply calls whose context carries no deadline.
func NewNATSSource(nc *nats.Conn, prefix, device string, requestTimeout time.Duration) *NATSSource {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &NATSSource{
		nc:      nc,
		prefix:  prefix,
		device:  device,
		timeout: requestTimeout,
		logger:  logging.WithComponent("nats-position-source").With().Str("device", device).Logger(),
	}
}

func (s *NATSSource) Name() string { return "nats" }

func (s *NATSSource) subject(kind string) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, s.device, kind)
}

func (s *NATSSource) request(ctx context.Context, kind string, payload []byte) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.nc.RequestWithContext(ctx, s.subject(kind), payload)
}

func (s *NATSSource) RequestPermission(ctx context.Context) (bool, error) {
	msg, err := s.request(ctx, "permission", nil)
	if err != nil {
		return false, fmt.Errorf("permission request: %w", err)
	}

	var reply PermissionReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decode permission reply: %w", err)
	}
	if reply.Error != "" && reply.Error != ReplyPermissionDenied {
		return false, errors.New(reply.Error)
	}
	return reply.Granted, nil
}

func (s *NATSSource) CurrentPosition(ctx context.Context, maxAge time.Duration) (geo.Position, error) {
	payload, err := json.Marshal(CurrentRequest{MaxAgeMs: maxAge.Milliseconds()})
	if err != nil {
		return geo.Position{}, err
	}

	msg, err := s.request(ctx, "current", payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return geo.Position{}, geo.ErrPositionTimeout
		}
		return geo.Position{}, fmt.Errorf("current position request: %w", err)
	}

	return decodeFix(msg.Data)
}

func decodeFix(data []byte) (geo.Position, error) {
	var fix Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return geo.Position{}, fmt.Errorf("decode fix: %w", err)
	}

	switch fix.Error {
	case "":
	case ReplyPermissionDenied:
		return geo.Position{}, geo.ErrPermissionDenied
	case ReplyTimeout:
		return geo.Position{}, geo.ErrPositionTimeout
	default:
		return geo.Position{}, errors.New(fix.Error)
	}

	c := geo.Coordinate{Latitude: fix.Latitude, Longitude: fix.Longitude}
	if err := c.Validate(); err != nil {
		return geo.Position{}, fmt.Errorf("invalid fix: %w", err)
	}
	return geo.Position{Coordinate: c, Accuracy: fix.Accuracy, CapturedAt: fix.CapturedAt}, nil
}

// Watch subscribes to the device's fix stream. The gateway publishes raw fixes,
// so the movement filter is applied here.
func (s *NATSSource) Watch(opts geo.WatchOptions, onUpdate func(geo.Position), onError func(error)) (geo.Subscription, error) {
	filter := newMovementFilter(opts)
	var mu sync.Mutex

	sub, err := s.nc.Subscribe(s.subject("fix"), func(msg *nats.Msg) {
		pos, err := decodeFix(msg.Data)
		if err != nil {
			onError(err)
			return
		}

		at := pos.CapturedAt
		if at.IsZero() {
			at = time.Now()
			pos.CapturedAt = at
		}

		mu.Lock()
		ok := filter.Accept(pos.Coordinate, at)
		mu.Unlock()
		if ok {
			onUpdate(pos)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject("fix"), err)
	}

	s.logger.Debug().Str("subject", sub.Subject).Msg("Subscribed to fix stream")
	return &natsSubscription{sub: sub, logger: s.logger}, nil
}

type natsSubscription struct {
	sub    *nats.Subscription
	once   sync.Once
	logger zerolog.Logger
}

func (n *natsSubscription) Cancel() {
	n.once.Do(func() {
		if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			n.logger.Warn().Err(err).Msg("Failed to unsubscribe")
		}
	})
}
