package broker

import (
	"context"
	"encoding/json"

	"github.com/scorely/scorely/billing"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Producer = &AMQPBroker{}
var _ Consumer = &AMQPBroker{}

const (
	billingEventExchange string = "billing_events"
	billingEventQueue           = "billing_events_reconcile"
	billingRoutingKey           = "stripe"
)

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupBillingExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for billing events")
	}

	return broker, nil
}

func (a *AMQPBroker) setupBillingExchange() error {
	return a.channel.ExchangeDeclare(
		billingEventExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishBillingEvent will queue a verified billing event for the reconciling worker
func (a *AMQPBroker) PublishBillingEvent(ev *billing.Event) error {
	jsonBytes, err := json.Marshal(ev)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	if err := a.channel.Publish(
		billingEventExchange,
		billingRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Body:         jsonBytes,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish billing event")
	}
	return nil
}

// ReceiveBillingEvents will bind the reconcile queue and return a channel of deliveries
func (a *AMQPBroker) ReceiveBillingEvents(ctx context.Context) (<-chan Delivery, error) {
	if _, err := a.channel.QueueDeclare(
		billingEventQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	if err := a.channel.QueueBind(
		billingEventQueue,
		billingRoutingKey,
		billingEventExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind queue")
	}
	msgChan, err := a.channel.Consume(
		billingEventQueue,
		"reconciler-"+uuid.New().String(),
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}

	rChan := make(chan Delivery)
	go pumpBillingEvents(ctx, msgChan, rChan)
	return rChan, nil
}

// pumpBillingEvents converts raw deliveries into typed ones until ctx is
// cancelled. The send itself also selects on ctx.Done, otherwise a consumer
// that stops receiving after cancellation would strand this goroutine on a
// blocked send
func pumpBillingEvents(ctx context.Context, msgChan <-chan amqp.Delivery, rChan chan<- Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-msgChan:
			var ev billing.Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				d.Nack(false, false)
				continue
			}
			delivery := d
			select {
			case <-ctx.Done():
				return
			case rChan <- Delivery{
				Event:       &ev,
				Redelivered: d.Redelivered,
				ack: func() error {
					return delivery.Ack(false)
				},
				requeue: func() error {
					return delivery.Nack(false, true)
				},
			}:
			}
		}
	}
}
