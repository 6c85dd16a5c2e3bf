package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browsers on other origins may do.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// PublicCORSPolicy covers the embeddable booking widget: availability
// reads and booking posts carrying an Idempotency-Key.
func PublicCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", RequestIDHeader},
		MaxAge:         10 * time.Minute,
	}
}

type corsRules struct {
	any         bool
	origins     map[string]struct{}
	credentials bool
	preflight   http.Header
}

func (c CORSPolicy) compile() corsRules {
	rules := corsRules{origins: map[string]struct{}{}, credentials: c.AllowCredentials, preflight: http.Header{}}
	for _, o := range c.AllowedOrigins {
		switch o = strings.ToLower(strings.TrimSpace(o)); o {
		case "":
		case "*":
			rules.any = true
		default:
			rules.origins[o] = struct{}{}
		}
	}
	if m := joinNonEmpty(c.AllowedMethods); m != "" {
		rules.preflight.Set("Access-Control-Allow-Methods", m)
	}
	if h := joinNonEmpty(c.AllowedHeaders); h != "" {
		rules.preflight.Set("Access-Control-Allow-Headers", h)
	}
	if secs := int(c.MaxAge / time.Second); secs > 0 {
		rules.preflight.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}
	return rules
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when the origin is not allowed. Credentialed responses never use
// the wildcard.
func (r corsRules) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if _, ok := r.origins[strings.ToLower(origin)]; ok {
		return origin
	}
	if !r.any {
		return ""
	}
	if r.credentials {
		return origin
	}
	return "*"
}

// WithCORS answers preflights itself and decorates other responses for
// allowed origins. An empty origin list disables it.
func WithCORS(policy CORSPolicy) Middleware {
	rules := policy.compile()
	if !rules.any && len(rules.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := rules.allowOrigin(r.Header.Get("Origin"))
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Add("Vary", "Origin")
			if rules.credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				for k, v := range rules.preflight {
					h[k] = v
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinNonEmpty(values []string) string {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}
