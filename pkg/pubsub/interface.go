package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope carried on a channel. Target names who the channel
// addresses; Payload is delivered to that target untouched.
type Event struct {
	Type      string          `json:"type"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes payload into an event stamped now.
func NewEvent(eventType, target string, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, Target: target, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber streams events until ctx ends or the subscription is dropped.
// Returned channels are closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub is a bus that can both publish and subscribe.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
