package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bethesda-shelter/bedline/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Subjects. Dashboards and the notify worker subscribe to these; the core
// never blocks on a subscriber.
const (
	ReservationCreated   = "reservation.created"
	ReservationCancelled = "reservation.cancelled"
	ReservationExpired   = "reservation.expired"
	BedCheckedIn         = "bed.checked_in"
	BedCheckedOut        = "bed.checked_out"
)

// Payloads carry opaque ids only, never caller contact details.

type ReservationCreatedEvent struct {
	ReservationID    string    `json:"reservation_id"`
	BedNumber        int       `json:"bed_number"`
	ConfirmationCode string    `json:"confirmation_code"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

type ReservationCancelledEvent struct {
	ReservationID string    `json:"reservation_id"`
	BedNumber     int       `json:"bed_number"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type ReservationExpiredEvent struct {
	ReservationID string    `json:"reservation_id"`
	BedNumber     int       `json:"bed_number"`
	ExpiredAt     time.Time `json:"expired_at"`
}

type BedCheckedInEvent struct {
	BedNumber     int       `json:"bed_number"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CheckedInAt   time.Time `json:"checked_in_at"`
}

type BedCheckedOutEvent struct {
	BedNumber    int       `json:"bed_number"`
	CheckedOutAt time.Time `json:"checked_out_at"`
}
