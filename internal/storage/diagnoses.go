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

// InsertDiagnosis persists a diagnosis and returns it with ID and timestamp
// populated. Every analyzer invocation yields exactly one of these, pending
// or discarded, so the audit trail never has silent gaps.
func (db *DB) InsertDiagnosis(ctx context.Context, d model.Diagnosis) (model.Diagnosis, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = model.DiagnosisPending
	}

	triggerJSON, err := json.Marshal(d.Triggers)
	if err != nil {
		return model.Diagnosis{}, fmt.Errorf("storage: marshal triggers: %w", err)
	}
	var actionJSON []byte
	if d.SuggestedAction != nil {
		if actionJSON, err = json.Marshal(d.SuggestedAction); err != nil {
			return model.Diagnosis{}, fmt.Errorf("storage: marshal suggested action: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO diagnoses (id, trigger_json, severity, description, suspected_cause,
		 suggested_action_json, action_rationale, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, triggerJSON, string(d.Severity), d.Description, d.SuspectedCause,
		actionJSON, d.ActionRationale, string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return model.Diagnosis{}, fmt.Errorf("storage: insert diagnosis: %w", err)
	}
	return d, nil
}

// UpdateDiagnosisStatus performs the single status transition a diagnosis may
// make after creation (pending → actioned).
func (db *DB) UpdateDiagnosisStatus(ctx context.Context, id uuid.UUID, status model.DiagnosisStatus) error {
	var tag pgconn.CommandTag
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx,
			`UPDATE diagnoses SET status = $1 WHERE id = $2`, string(status), id,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: update diagnosis status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: diagnosis %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetDiagnosis retrieves a diagnosis by ID.
func (db *DB) GetDiagnosis(ctx context.Context, id uuid.UUID) (model.Diagnosis, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, trigger_json, severity, description, suspected_cause,
		 suggested_action_json, action_rationale, status, created_at
		 FROM diagnoses WHERE id = $1`, id,
	)
	d, err := scanDiagnosis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Diagnosis{}, fmt.Errorf("storage: diagnosis %s: %w", id, ErrNotFound)
		}
		return model.Diagnosis{}, fmt.Errorf("storage: get diagnosis: %w", err)
	}
	return d, nil
}

// RecentDiagnoses returns the newest diagnoses, most recent first.
func (db *DB) RecentDiagnoses(ctx context.Context, limit int) ([]model.Diagnosis, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, trigger_json, severity, description, suspected_cause,
		 suggested_action_json, action_rationale, status, created_at
		 FROM diagnoses ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent diagnoses: %w", err)
	}
	defer rows.Close()

	var out []model.Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan diagnosis: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDiagnosis(row pgx.Row) (model.Diagnosis, error) {
	var d model.Diagnosis
	var severity, status string
	var triggerJSON []byte
	var actionJSON []byte
	if err := row.Scan(&d.ID, &triggerJSON, &severity, &d.Description, &d.SuspectedCause,
		&actionJSON, &d.ActionRationale, &status, &d.CreatedAt); err != nil {
		return model.Diagnosis{}, err
	}
	d.Severity = model.Severity(severity)
	d.Status = model.DiagnosisStatus(status)
	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &d.Triggers); err != nil {
			return model.Diagnosis{}, fmt.Errorf("unmarshal triggers: %w", err)
		}
	}
	if len(actionJSON) > 0 {
		var a model.Action
		if err := json.Unmarshal(actionJSON, &a); err != nil {
			return model.Diagnosis{}, fmt.Errorf("unmarshal suggested action: %w", err)
		}
		d.SuggestedAction = &a
	}
	return d, nil
}
