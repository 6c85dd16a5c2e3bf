// Package calendar reads busy time from, and writes bookings to, an agent's
// external calendar.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
)

// ErrNotConnected means the agent has not linked an external calendar.
var ErrNotConnected = errors.New("calendar: agent has no connected calendar")

// EventSource is the boundary to an agent's external calendar.
type EventSource interface {
	// ListBusy returns events overlapping [from, to). Cancelled events are
	// returned flagged, not filtered.
	ListBusy(ctx context.Context, agentID string, from, to time.Time) ([]availability.BusyEvent, error)
	CreateEvent(ctx context.Context, agentID string, in EventInput) (string, error)
	DeleteEvent(ctx context.Context, agentID, eventID string) error
}

// EventInput describes a booking written to the agent's calendar.
type EventInput struct {
	Summary       string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
	RequestID     string
}
