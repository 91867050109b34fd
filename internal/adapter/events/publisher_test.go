package events

import (
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfinder/internal/domain/geo"
)

func startServer(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := NewEmbeddedServer("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestPublishPosition(t *testing.T) {
	nc := startServer(t)

	sub, err := nc.SubscribeSync("marketfinder.position.updated")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	acc := 12.5
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := NewPublisher(nc, "marketfinder.position")
	require.NoError(t, pub.PublishPosition("s-1", geo.Position{
		Coordinate: geo.Coordinate{Latitude: 3.848, Longitude: 11.5021},
		Accuracy:   &acc,
		CapturedAt: at,
	}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event PositionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "s-1", event.SessionID)
	assert.Equal(t, 3.848, event.Latitude)
	assert.Equal(t, 11.5021, event.Longitude)
	require.NotNil(t, event.Accuracy)
	assert.Equal(t, acc, *event.Accuracy)
	assert.True(t, at.Equal(event.CapturedAt))
}

func TestPublishError(t *testing.T) {
	nc := startServer(t)

	sub, err := nc.SubscribeSync("marketfinder.position.error")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewPublisher(nc, "marketfinder.position")
	require.NoError(t, pub.PublishError("s-2", errors.New("location permission denied")))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event ErrorEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "s-2", event.SessionID)
	assert.Equal(t, "location permission denied", event.Error)
}

func TestPublishOnClosedConnection(t *testing.T) {
	nc := startServer(t)
	nc.Close()

	pub := NewPublisher(nc, "marketfinder.position")
	err := pub.PublishPosition("s-3", geo.Position{})
	assert.Error(t, err)
}
