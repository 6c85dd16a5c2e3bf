package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// ErrUnknownBookingType means the booking type does not exist for the agent.
var ErrUnknownBookingType = errors.New("unknown booking type")

// Provider resolves the slot policy for an agent and booking type.
type Provider interface {
	SlotOptions(ctx context.Context, agentID, bookingTypeID string) (availability.Options, error)
}

type staticProvider struct {
	defaults availability.Options
}

func NewStaticProvider(defaults availability.Options) Provider {
	return &staticProvider{defaults: defaults}
}

func (p *staticProvider) SlotOptions(context.Context, string, string) (availability.Options, error) {
	return p.defaults, nil
}

type bookingTypeStore interface {
	GetBookingType(ctx context.Context, agentID, bookingTypeID string) (model.BookingType, error)
}

type storeProvider struct {
	store    bookingTypeStore
	defaults availability.Options
	logger   *slog.Logger
}

// NewStoreProvider lets a booking type override slot duration and step.
// A type the agent does not own yields ErrUnknownBookingType. Other lookup
// failures keep the defaults and are logged.
func NewStoreProvider(store bookingTypeStore, defaults availability.Options, logger *slog.Logger) Provider {
	return &storeProvider{store: store, defaults: defaults, logger: logger}
}

func (p *storeProvider) SlotOptions(ctx context.Context, agentID, bookingTypeID string) (availability.Options, error) {
	opts := p.defaults
	if bookingTypeID == "" {
		return opts, nil
	}
	bt, err := p.store.GetBookingType(ctx, agentID, bookingTypeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return opts, fmt.Errorf("%w: %s", ErrUnknownBookingType, bookingTypeID)
	}
	if err != nil {
		p.logger.Warn("booking type lookup failed; using default slot policy",
			"agent_id", agentID, "booking_type_id", bookingTypeID, "err", err)
		return opts, nil
	}
	if bt.DurationMinutes > 0 {
		opts.SlotDuration = time.Duration(bt.DurationMinutes) * time.Minute
	}
	if bt.StepMinutes > 0 {
		opts.SlotStep = time.Duration(bt.StepMinutes) * time.Minute
	}
	return opts, nil
}
