package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shiko-ai/shiko/internal/model"
)

// InsertInvocations batch-inserts completed tool-call records. Called by the
// metrics recorder's flush loop, never directly from the request path.
func (db *DB) InsertInvocations(ctx context.Context, invs []model.Invocation) (int, error) {
	if len(invs) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(invs))
	for i, inv := range invs {
		if inv.ID == uuid.Nil {
			inv.ID = uuid.New()
		}
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{inv.ID, inv.ToolName, string(inv.Mode), inv.LatencyMS, inv.Success, inv.QualityScore, inv.CreatedAt}
	}

	n, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"invocations"},
		[]string{"id", "tool_name", "mode", "latency_ms", "success", "quality_score", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: insert invocations: %w", err)
	}
	return int(n), nil
}

// ScanInvocations returns every invocation recorded inside [from, to),
// oldest first. The Monitor aggregates over the result; it never mutates it.
func (db *DB) ScanInvocations(ctx context.Context, from, to time.Time) ([]model.Invocation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tool_name, mode, latency_ms, success, quality_score, created_at
		 FROM invocations
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at ASC`, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: scan invocations: %w", err)
	}
	defer rows.Close()

	var invs []model.Invocation
	for rows.Next() {
		var inv model.Invocation
		var mode string
		if err := rows.Scan(&inv.ID, &inv.ToolName, &mode, &inv.LatencyMS, &inv.Success, &inv.QualityScore, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan invocation: %w", err)
		}
		inv.Mode = model.ReasoningMode(mode)
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// InvocationSummary is an aggregate over recent invocations, grouped by tool.
type InvocationSummary struct {
	ToolName   string   `json:"tool_name"`
	Calls      int      `json:"calls"`
	Failures   int      `json:"failures"`
	AvgLatency float64  `json:"avg_latency_ms"`
	AvgQuality *float64 `json:"avg_quality,omitempty"`
}

// SummarizeInvocations aggregates per-tool call statistics inside the window.
func (db *DB) SummarizeInvocations(ctx context.Context, from, to time.Time) ([]InvocationSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT tool_name,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE NOT success),
		        AVG(latency_ms),
		        AVG(quality_score)
		 FROM invocations
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY tool_name
		 ORDER BY tool_name`, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: summarize invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationSummary
	for rows.Next() {
		var s InvocationSummary
		if err := rows.Scan(&s.ToolName, &s.Calls, &s.Failures, &s.AvgLatency, &s.AvgQuality); err != nil {
			return nil, fmt.Errorf("storage: scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
