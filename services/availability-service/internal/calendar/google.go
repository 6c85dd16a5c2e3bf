package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	otelx "github.com/estatecraft/agentdesk/libs/otel"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const listPageSize = 250

// Google reads and writes events through the Calendar v3 API, acting for
// each agent with the refresh token from the credential store.
type Google struct {
	oauth  *oauth2.Config
	creds  CredentialStore
	logger *slog.Logger

	// extra client options; tests point the client at a fake server.
	extra []option.ClientOption
}

func NewGoogle(clientID, clientSecret string, creds CredentialStore, logger *slog.Logger) *Google {
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		},
		creds:  creds,
		logger: logger,
	}
}

func (g *Google) service(ctx context.Context, agentID string) (*gcal.Service, Credentials, error) {
	c, err := g.creds.Credentials(ctx, agentID)
	if err != nil {
		return nil, Credentials{}, err
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	ts := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.extra...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, Credentials{}, fmt.Errorf("calendar client: %w", err)
	}
	return svc, c, nil
}

func (g *Google) ListBusy(ctx context.Context, agentID string, from, to time.Time) (events []availability.BusyEvent, err error) {
	ctx, span := otelx.StartSpan(ctx, "calendar.ListBusy", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("from", from.Format(time.RFC3339)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("events", len(events)))
		otelx.EndSpan(span, err)
	}()

	svc, c, err := g.service(ctx, agentID)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(c.CalendarID).
		Context(ctx).
		SingleEvents(true).
		ShowDeleted(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(listPageSize)

	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, ok, err := toBusyEvent(item, c.Location)
			if err != nil {
				return err
			}
			if ok {
				events = append(events, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (g *Google) CreateEvent(ctx context.Context, agentID string, in EventInput) (id string, err error) {
	ctx, span := otelx.StartSpan(ctx, "calendar.CreateEvent", trace.WithAttributes(attribute.String("agent_id", agentID)))
	defer func() { otelx.EndSpan(span, err) }()

	svc, c, err := g.service(ctx, agentID)
	if err != nil {
		return "", err
	}
	created, err := svc.Events.Insert(c.CalendarID, toGoogleEvent(in, c.Location)).
		Context(ctx).
		SendUpdates("all").
		Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// DeleteEvent treats an already deleted event as success.
func (g *Google) DeleteEvent(ctx context.Context, agentID, eventID string) (err error) {
	ctx, span := otelx.StartSpan(ctx, "calendar.DeleteEvent", trace.WithAttributes(attribute.String("agent_id", agentID)))
	defer func() { otelx.EndSpan(span, err) }()

	svc, c, err := g.service(ctx, agentID)
	if err != nil {
		return err
	}
	err = svc.Events.Delete(c.CalendarID, eventID).Context(ctx).SendUpdates("all").Do()
	if isGone(err) {
		g.logger.Debug("calendar event already gone", "agent_id", agentID, "event_id", eventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusGone || apiErr.Code == http.StatusNotFound
}
