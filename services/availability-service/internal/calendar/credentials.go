package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/estatecraft/agentdesk/services/availability-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// Credentials is what the adapter needs to act on behalf of one agent.
type Credentials struct {
	RefreshToken string
	CalendarID   string
	Location     *time.Location
}

type CredentialStore interface {
	Credentials(ctx context.Context, agentID string) (Credentials, error)
}

type agentStore interface {
	GetProfile(ctx context.Context, agentID string) (model.AgentProfile, error)
	LoadCredentials(ctx context.Context, agentID string) (string, error)
}

type opener interface {
	Open(sealed string) (string, error)
}

// StoredCredentials reads the sealed refresh token and the agent profile
// from Postgres.
type StoredCredentials struct {
	agents agentStore
	sealer opener
}

func NewStoredCredentials(agents agentStore, sealer opener) *StoredCredentials {
	return &StoredCredentials{agents: agents, sealer: sealer}
}

func (s *StoredCredentials) Credentials(ctx context.Context, agentID string) (Credentials, error) {
	sealed, err := s.agents.LoadCredentials(ctx, agentID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && sealed == "") {
		return Credentials{}, ErrNotConnected
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	token, err := s.sealer.Open(sealed)
	if err != nil {
		return Credentials{}, fmt.Errorf("open credentials: %w", err)
	}

	profile, err := s.agents.GetProfile(ctx, agentID)
	if err != nil {
		return Credentials{}, fmt.Errorf("load profile: %w", err)
	}
	calendarID := strings.TrimSpace(profile.CalendarID)
	if calendarID == "" {
		calendarID = "primary"
	}
	return Credentials{
		RefreshToken: token,
		CalendarID:   calendarID,
		Location:     LoadLocation(profile.Timezone),
	}, nil
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
