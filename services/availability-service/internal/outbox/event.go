package outbox

import (
	"encoding/json"
	"time"
)

// Event types double as Kafka topic names.
const (
	EventBookingCreated   = "agentdesk.booking.created.v1"
	EventBookingCancelled = "agentdesk.booking.cancelled.v1"

	AggregateBooking = "booking"
)

// Event is the envelope written to outbox_events in the same transaction as
// the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type BookingPayload struct {
	BookingID       string     `json:"booking_id"`
	AgentID         string     `json:"agent_id"`
	BookingTypeID   string     `json:"booking_type_id,omitempty"`
	ClientName      string     `json:"client_name"`
	ClientEmail     string     `json:"client_email,omitempty"`
	PropertyRef     string     `json:"property_ref,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
}

// NewBookingEvent marshals p into an event keyed by the booking id.
func NewBookingEvent(eventType string, p BookingPayload) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateBooking,
		AggregateID:   p.BookingID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
