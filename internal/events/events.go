package events

import (
	"context"
	"errors"
	"time"

	"github.com/kjannette/trahn-botengine/internal/models"
)

type Kind string

const (
	KindDecision  Kind = "decision"
	KindStatus    Kind = "status"
	KindEmergency Kind = "emergency"
)

// Event is what leaves the engine after a decision log entry or a lifecycle change
// has been persisted.
type Event struct {
	Kind     Kind                     `json:"kind"`
	OwnerID  string                   `json:"ownerId,omitempty"`
	BotID    string                   `json:"botId,omitempty"`
	At       time.Time                `json:"at"`
	Decision *models.DecisionLogEntry `json:"decision,omitempty"`
	Status   models.Status            `json:"status,omitempty"`
	Reason   string                   `json:"reason,omitempty"`
}

// Sink receives events. Publishing is best-effort; the decision log is the record.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HubSink broadcasts events to websocket subscribers.
type HubSink struct {
	Hub *Hub[Event]
}

func (h HubSink) Publish(_ context.Context, ev Event) error {
	h.Hub.Broadcast(ev)
	return nil
}
