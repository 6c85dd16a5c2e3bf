package db

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestPoolOptionsDefaults(t *testing.T) {
	o := PoolOptions{}.withDefaults()
	if o.MaxConns != 10 || o.MinConns != 1 || o.MaxConnLifetime != 30*time.Minute || o.MaxConnIdleTime != 5*time.Minute || o.SlowQuery != 250*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", o)
	}

	o = PoolOptions{MaxConns: 2, MinConns: 5}.withDefaults()
	if o.MinConns != 2 {
		t.Fatalf("min conns must be capped at max, got %d", o.MinConns)
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestSlowQueryTracer(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC)
	tr := &slowQueryTracer{
		logger:    slog.New(slog.NewJSONHandler(&buf, nil)),
		threshold: 100 * time.Millisecond,
		now:       func() time.Time { return now },
	}

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	now = now.Add(10 * time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if buf.Len() != 0 {
		t.Fatalf("fast query must not log, got %s", buf.String())
	}

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT *\n\t FROM bookings"})
	now = now.Add(time.Second)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if !strings.Contains(buf.String(), "slow query") || !strings.Contains(buf.String(), "SELECT * FROM bookings") {
		t.Fatalf("expected compacted slow query log, got %s", buf.String())
	}
}
