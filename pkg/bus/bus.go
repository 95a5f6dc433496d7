// Package bus publishes turn events so host apps can observe plan progress
// out of process. The default implementation uses NATS, with an in-memory
// option for tests and single-process embedding.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sidekicklabs/sidekick/pkg/plan"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the event transport. Implementations must be safe for
// concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "sidekick.turn.*.status" matches any plan.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message is an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL. Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging and monitoring.
	Name string

	// Timeout is the connect timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "sidekick",
		Timeout: 30 * time.Second,
	}
}

// TurnSubject is the subject carrying phase and status events for a plan.
func TurnSubject(planID string) string {
	return fmt.Sprintf("sidekick.turn.%s", planID)
}

// StepSubject is the subject carrying progress events for one step.
func StepSubject(planID, stepID string) string {
	return fmt.Sprintf("sidekick.turn.%s.step.%s", planID, stepID)
}

// PublishEvent marshals a phase event and publishes it on the subject
// derived from its kind.
func PublishEvent(ctx context.Context, b MessageBus, ev plan.PhaseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := TurnSubject(ev.PlanID)
	if ev.StepID != "" {
		subject = StepSubject(ev.PlanID, ev.StepID)
	}
	return b.Publish(ctx, subject, data)
}
