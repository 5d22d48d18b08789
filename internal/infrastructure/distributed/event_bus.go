package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventLayoutCommitted EventType = "layout.committed"
)

// Event represents a distributed event
type Event struct {
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	SessionID  domain.SessionID `json:"session_id,omitempty"`
	RecordID   string           `json:"record_id,omitempty"`
}

// EventHandler is called for every event published by another instance.
type EventHandler func(ctx context.Context, event *Event) error

// EventBus fans layout commits out to the other instances hosting the same
// sessions. Delivery is best effort: a missed event only delays a refresh
// until the next commit or session switch.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(
	client *redis.Client,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"session_id", event.SessionID,
		"record_id", event.RecordID,
	)
	return nil
}

// PublishLayoutCommitted announces a new layout record for a session.
func (eb *EventBus) PublishLayoutCommitted(ctx context.Context, sessionID domain.SessionID, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "event_bus.publish")
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.SessionIDKey.String(string(sessionID)),
		tracing.RecordIDKey.String(recordID),
	)

	err := eb.Publish(ctx, &Event{
		Type:      EventLayoutCommitted,
		SessionID: sessionID,
		RecordID:  recordID,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// Subscribe blocks delivering events from other instances to handler until ctx
// is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(ctx, msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(ctx context.Context, payload string, handler EventHandler) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}

	// Skip events from this instance
	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(ctx, &event); err != nil {
		eb.logger.Warnw("error handling event",
			"type", event.Type,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
