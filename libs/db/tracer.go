package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// slowQueryTracer logs statements that run longer than threshold, and
// every failed statement at debug.
type slowQueryTracer struct {
	logger    *slog.Logger
	threshold time.Duration
	now       func() time.Time
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: t.now(), sql: data.SQL})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	took := t.now().Sub(start.at)
	switch {
	case data.Err != nil:
		t.logger.DebugContext(ctx, "query failed", "sql", compactSQL(start.sql), "err", data.Err, "took", took)
	case took >= t.threshold:
		t.logger.WarnContext(ctx, "slow query", "sql", compactSQL(start.sql), "rows", data.CommandTag.RowsAffected(), "took", took)
	}
}

// compactSQL folds whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
