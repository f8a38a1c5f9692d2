// Package postgres provides PostgreSQL database adapters.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docpipe/docpipe/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AuditRepo is the write-only sink for pipeline lifecycle events. It is
// never read back by the pipeline; rows exist purely for operator
// troubleshooting and compliance trails.
type AuditRepo struct{ Pool PgxPool }

// NewAuditRepo constructs an AuditRepo with the given pool.
func NewAuditRepo(p PgxPool) *AuditRepo { return &AuditRepo{Pool: p} }

// Record inserts one lifecycle event row. A failure here is logged by the
// caller and swallowed; audit persistence must never block the pipeline.
func (r *AuditRepo) Record(ctx domain.Context, taskID, event, service string) error {
	tracer := otel.Tracer("repo.audit")
	ctx, span := tracer.Start(ctx, "audit.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "audit_events"),
	)

	var svc *string
	if service != "" {
		svc = &service
	}
	q := `INSERT INTO audit_events (task_id, event, service, at) VALUES ($1,$2,$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, taskID, event, svc, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=audit.record: %w", err)
	}
	return nil
}
