package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Routing keys double as event types.
const (
	OrderPlaced    = "order.placed"
	OrderConfirmed = "order.confirmed"
	OrderReady     = "order.ready"
	DriverAssigned = "driver.assigned"
	OrderPickedUp  = "order.picked.up"
	OrderDelivered = "order.delivered"
)

var ErrMalformed = errors.New("malformed event")

type Envelope struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
}

func NewEnvelope(eventType string) Envelope {
	return Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
	}
}

func (e Envelope) Meta() Envelope {
	return e
}

func (e Envelope) RoutingKey() string {
	return e.EventType
}

func (e Envelope) validate(want string) error {
	if e.EventType != want {
		return fmt.Errorf("%w: expected eventType %q, got %q", ErrMalformed, want, e.EventType)
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("%w: eventId %q is not a uuid", ErrMalformed, e.EventID)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	return nil
}

// Event is any payload published on the bus. PartitionKey groups events of
// the same order so brokers that partition keep them in order.
type Event interface {
	Meta() Envelope
	RoutingKey() string
	PartitionKey() string
	Validate() error
}

// Decode unmarshals body into T and validates it. Every failure wraps
// ErrMalformed so consumers can dead-letter the message.
func Decode[T Event](body []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := evt.Validate(); err != nil {
		return evt, err
	}
	return evt, nil
}

// PeekEnvelope reads only the envelope fields of an encoded event.
func PeekEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

func requireField(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	return nil
}

func requireFields(fields ...[2]string) error {
	for _, f := range fields {
		if err := requireField(f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}
