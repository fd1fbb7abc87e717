package broker

import (
	"context"

	"github.com/scorely/scorely/billing"
)

// Producer defines the interface for publishing billing events via message broker
type Producer interface {
	Close()
	PublishBillingEvent(ev *billing.Event) error
}

// Consumer defines the interface for receiving billing events via message broker
type Consumer interface {
	Close()
	ReceiveBillingEvents(ctx context.Context) (<-chan Delivery, error)
}

// Delivery wraps a received event with its acknowledgement controls so the
// worker can requeue events that arrived before their record was linked
type Delivery struct {
	Event       *billing.Event
	Redelivered bool

	ack     func() error
	requeue func() error
}

// Ack marks the event as processed
func (d *Delivery) Ack() error {
	return d.ack()
}

// Requeue returns the event to the queue for another attempt
func (d *Delivery) Requeue() error {
	return d.requeue()
}
