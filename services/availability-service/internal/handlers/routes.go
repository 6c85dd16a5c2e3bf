package handlers

import (
	"net/http"

	"github.com/estatecraft/agentdesk/libs/auth"
)

const (
	RoleAgent  = "agent"
	RoleBroker = "broker"
	RoleAdmin  = "admin"
)

type Handlers struct {
	Availability *AvailabilityHandler
	Bookings     *BookingHandler
	Agents       *AgentHandler
}

// Register mounts the public booking routes and the authenticated agent
// platform routes on mux.
func Register(mux *http.ServeMux, h Handlers, verifier auth.Verifier) {
	mux.HandleFunc("/api/v1/public/availability", h.Availability.Public)
	mux.HandleFunc("/api/v1/public/bookings", h.Bookings.Create)

	private := func(f http.HandlerFunc, roles ...string) http.Handler {
		var next http.Handler = f
		if len(roles) > 0 {
			next = auth.RequireRole(next, roles...)
		}
		return auth.Require(verifier, next)
	}

	mux.Handle("/api/v1/availability/team", private(h.Availability.Team, RoleBroker, RoleAdmin))
	mux.Handle("/api/v1/bookings", private(h.Bookings.List))
	mux.Handle("/api/v1/bookings/cancel", private(h.Bookings.Cancel))
	mux.Handle("/api/v1/agent/working-hours", private(h.Agents.WorkingHours))
	mux.Handle("/api/v1/agent/booking-types", private(h.Agents.BookingTypes))
	mux.Handle("/api/v1/agent/calendar-credentials", private(h.Agents.CalendarCredentials))
	mux.Handle("/api/v1/agent/time-off", private(h.Agents.TimeOff))
}
