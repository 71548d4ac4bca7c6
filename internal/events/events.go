// Package events publishes order lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
)

// Type is the kind of lifecycle event.
type Type string

const (
	OrderCreated   Type = "order.created"
	OrderReserved  Type = "order.reserved"
	OrderCancelled Type = "order.cancelled"
	OrderReturned  Type = "order.returned"
)

// Event is a single order lifecycle transition.
type Event struct {
	Type    Type
	OrderID string
	UserID  string
	// HubWarehouseID is set for reservations.
	HubWarehouseID int64
	At             time.Time
}

// Encode writes e as a JSON object.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("order_id")
	enc.Str(e.OrderID)
	enc.FieldStart("user_id")
	enc.Str(e.UserID)
	if e.HubWarehouseID != 0 {
		enc.FieldStart("hub_warehouse_id")
		enc.Int64(e.HubWarehouseID)
	}
	enc.FieldStart("at")
	enc.Str(e.At.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
}

// Publisher delivers lifecycle events. Publishing happens after the state
// change committed; callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by order id, so all
// events of one order land on the same partition in order.
type KafkaPublisher struct {
	w MessageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter returns a writer tuned for low-volume, must-not-lose events.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.Encode(enc)

	// The encoder buffer is reused after return.
	value := append([]byte(nil), enc.Bytes()...)
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Time:  e.At,
	}); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
