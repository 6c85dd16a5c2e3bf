package storage

import (
	"context"
	_ "embed"

	"github.com/estatecraft/agentdesk/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates missing tables and indexes. Every statement is
// idempotent, so it is safe on each start.
func ApplySchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
