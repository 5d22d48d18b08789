package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, e Event) string {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return string(data)
}

func TestDispatch_SkipsOwnEvents(t *testing.T) {
	eb := NewEventBus(nil, "instance-a", "chan", nil)

	var got []*Event
	handler := func(ctx context.Context, e *Event) error {
		got = append(got, e)
		return nil
	}

	eb.dispatch(context.Background(), encode(t, Event{Type: EventLayoutCommitted, InstanceID: "instance-a", SessionID: "room"}), handler)
	eb.dispatch(context.Background(), encode(t, Event{Type: EventLayoutCommitted, InstanceID: "instance-b", SessionID: "room", RecordID: "r1"}), handler)

	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RecordID)
}

func TestDispatch_IgnoresGarbageAndHandlerErrors(t *testing.T) {
	eb := NewEventBus(nil, "instance-a", "chan", nil)

	calls := 0
	handler := func(ctx context.Context, e *Event) error {
		calls++
		return errors.New("refresh failed")
	}

	eb.dispatch(context.Background(), "{not json", handler)
	eb.dispatch(context.Background(), encode(t, Event{Type: EventLayoutCommitted, InstanceID: "instance-b"}), handler)
	assert.Equal(t, 1, calls)
}

// Set TILECAST_TEST_REDIS=host:port to run against a real server.
func TestEventBus_Integration(t *testing.T) {
	addr := os.Getenv("TILECAST_TEST_REDIS")
	if addr == "" {
		t.Skip("TILECAST_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	channel := "tilecast:test:events"
	publisher := NewEventBus(client, "a", channel, nil)
	subscriber := NewEventBus(client, "b", channel, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Event, 1)
	go func() {
		_ = subscriber.Subscribe(ctx, func(ctx context.Context, e *Event) error {
			received <- e
			return nil
		})
	}()

	// wait for the subscription to register
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, publisher.PublishLayoutCommitted(ctx, "room", "r1"))

	select {
	case e := <-received:
		assert.Equal(t, EventLayoutCommitted, e.Type)
		assert.Equal(t, "a", e.InstanceID)
		assert.EqualValues(t, "room", e.SessionID)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
}
