package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// TelemetryEvent is one row of the append-only telemetry_events table.
type TelemetryEvent struct {
	ID          int64     `db:"id" json:"id"`
	EventType   string    `db:"event_type" json:"event_type"`
	ExecutionID *string   `db:"execution_id" json:"execution_id,omitempty"`
	StepName    *string   `db:"step_name" json:"step_name,omitempty"`
	AgentName   *string   `db:"agent_name" json:"agent_name,omitempty"`
	Metadata    *string   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// InsertTelemetryEvent appends one event row.
func InsertTelemetryEvent(ctx context.Context, q sqlx.ExtContext, e *TelemetryEvent) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO telemetry_events (event_type, execution_id, step_name, agent_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventType, e.ExecutionID, e.StepName, e.AgentName, e.Metadata, e.CreatedAt)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to append telemetry event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// TelemetryFilter narrows ListTelemetryEvents. Limit is clamped to [1, 1000];
// zero means the default of 100.
type TelemetryFilter struct {
	ExecutionID string
	EventType   string
	Limit       int
}

const (
	defaultTelemetryLimit = 100
	maxTelemetryLimit     = 1000
)

// ListTelemetryEvents returns recent events, newest first.
func ListTelemetryEvents(ctx context.Context, q sqlx.ExtContext, f TelemetryFilter) ([]TelemetryEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultTelemetryLimit
	}
	if limit > maxTelemetryLimit {
		limit = maxTelemetryLimit
	}

	query := `SELECT * FROM telemetry_events WHERE 1=1`
	args := []interface{}{}
	if f.ExecutionID != "" {
		query += ` AND execution_id = ?`
		args = append(args, f.ExecutionID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var out []TelemetryEvent
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list telemetry events", err)
	}
	return out, nil
}
