package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/estatecraft/agentdesk/libs/auth"
)

var testDay = time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, r)
}

// asAgent attaches verified claims the way auth.Require would.
func asAgent(r *http.Request, agentID string) *http.Request {
	return r.WithContext(auth.WithClaims(r.Context(), &auth.Claims{Sub: agentID, Role: RoleAgent}))
}
