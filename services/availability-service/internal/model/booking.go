package model

import "time"

const (
	BookingStatusBooked    = "booked"
	BookingStatusCancelled = "cancelled"
)

// Booking is a client viewing reserved on an agent's calendar.
type Booking struct {
	ID              string
	AgentID         string
	BookingTypeID   string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	PropertyRef     string
	CalendarEventID string
	StartTime       time.Time
	EndTime         time.Time
	Status          string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
}

// BookingType is an agent-defined kind of appointment (viewing, valuation,
// consultation) with its own length and slot step.
type BookingType struct {
	ID              string
	AgentID         string
	Name            string
	DurationMinutes int
	StepMinutes     int
	CreatedAt       time.Time
}
