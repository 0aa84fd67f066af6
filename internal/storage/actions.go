package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shiko-ai/shiko/internal/model"
)

// InsertAction creates an execution-attempt record in its pending state and
// marks the referenced diagnosis actioned in the same transaction. The UNIQUE
// constraint on diagnosis_id makes a second attempt fail with ErrDuplicate,
// so at most one action per diagnosis is enforced here rather than in callers.
func (db *DB) InsertAction(ctx context.Context, a model.SIAction) (model.SIAction, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Outcome == "" {
		a.Outcome = model.OutcomePending
	}

	actionJSON, err := json.Marshal(a.Action)
	if err != nil {
		return model.SIAction{}, fmt.Errorf("storage: marshal action: %w", err)
	}
	preJSON, err := json.Marshal(a.PreMetrics)
	if err != nil {
		return model.SIAction{}, fmt.Errorf("storage: marshal pre metrics: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.SIAction{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO si_actions (id, diagnosis_id, action_type, action_json, outcome,
		 pre_metrics_json, execution_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.DiagnosisID, string(a.Action.Type), actionJSON, string(a.Outcome),
		preJSON, a.ExecutionTimeMS, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.SIAction{}, fmt.Errorf("storage: action for diagnosis %s already exists: %w", a.DiagnosisID, ErrDuplicate)
		}
		return model.SIAction{}, fmt.Errorf("storage: insert action: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE diagnoses SET status = $1 WHERE id = $2`,
		string(model.DiagnosisActioned), a.DiagnosisID,
	); err != nil {
		return model.SIAction{}, fmt.Errorf("storage: mark diagnosis actioned: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.SIAction{}, fmt.Errorf("storage: commit action: %w", err)
	}
	return a, nil
}

// UpdateActionOutcome advances an action through its outcome states, recording
// the post-action snapshot, duration, and error text where present. Terminal
// records are never updated again by the loop.
func (db *DB) UpdateActionOutcome(ctx context.Context, id uuid.UUID, outcome model.ActionOutcome, post *model.MetricsSnapshot, execMS int64, errMsg *string) error {
	var postJSON []byte
	if post != nil {
		var err error
		if postJSON, err = json.Marshal(post); err != nil {
			return fmt.Errorf("storage: marshal post metrics: %w", err)
		}
	}

	// Outcome transitions race with the loop's readers; replay on transient
	// conflicts rather than stranding the record in a stale state.
	var tag pgconn.CommandTag
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx,
			`UPDATE si_actions
			 SET outcome = $1,
			     post_metrics_json = COALESCE($2, post_metrics_json),
			     execution_time_ms = $3,
			     error_message = $4
			 WHERE id = $5`,
			string(outcome), postJSON, execMS, errMsg, id,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: update action outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: action %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAction retrieves an execution attempt by ID.
func (db *DB) GetAction(ctx context.Context, id uuid.UUID) (model.SIAction, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, diagnosis_id, action_json, outcome, pre_metrics_json,
		 post_metrics_json, execution_time_ms, error_message, created_at
		 FROM si_actions WHERE id = $1`, id,
	)
	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SIAction{}, fmt.Errorf("storage: action %s: %w", id, ErrNotFound)
		}
		return model.SIAction{}, fmt.Errorf("storage: get action: %w", err)
	}
	return a, nil
}

// RecentActions returns the newest execution attempts, most recent first.
func (db *DB) RecentActions(ctx context.Context, limit int) ([]model.SIAction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, diagnosis_id, action_json, outcome, pre_metrics_json,
		 post_metrics_json, execution_time_ms, error_message, created_at
		 FROM si_actions ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent actions: %w", err)
	}
	defer rows.Close()

	var out []model.SIAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAction(row pgx.Row) (model.SIAction, error) {
	var a model.SIAction
	var outcome string
	var actionJSON, preJSON, postJSON []byte
	if err := row.Scan(&a.ID, &a.DiagnosisID, &actionJSON, &outcome, &preJSON,
		&postJSON, &a.ExecutionTimeMS, &a.ErrorMessage, &a.CreatedAt); err != nil {
		return model.SIAction{}, err
	}
	a.Outcome = model.ActionOutcome(outcome)
	if err := json.Unmarshal(actionJSON, &a.Action); err != nil {
		return model.SIAction{}, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := json.Unmarshal(preJSON, &a.PreMetrics); err != nil {
		return model.SIAction{}, fmt.Errorf("unmarshal pre metrics: %w", err)
	}
	if len(postJSON) > 0 {
		var post model.MetricsSnapshot
		if err := json.Unmarshal(postJSON, &post); err != nil {
			return model.SIAction{}, fmt.Errorf("unmarshal post metrics: %w", err)
		}
		a.PostMetrics = &post
	}
	return a, nil
}
