package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shiko-ai/shiko/internal/model"
)

// UpsertConfigOverride writes or replaces a runtime override. Both the
// executor's apply step and its rollback go through here, so the write is
// retried on transient conflicts.
func (db *DB) UpsertConfigOverride(ctx context.Context, o model.ConfigOverride) (model.ConfigOverride, error) {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	valueJSON, err := json.Marshal(o.Value)
	if err != nil {
		return model.ConfigOverride{}, fmt.Errorf("storage: marshal override value: %w", err)
	}

	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO config_overrides (key, value_json, applied_by_action, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO UPDATE
			 SET value_json = EXCLUDED.value_json,
			     applied_by_action = EXCLUDED.applied_by_action,
			     updated_at = EXCLUDED.updated_at`,
			o.Key, valueJSON, o.AppliedByAction, o.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return model.ConfigOverride{}, fmt.Errorf("storage: upsert override %s: %w", o.Key, err)
	}
	return o, nil
}

// GetConfigOverride retrieves a single override by key.
func (db *DB) GetConfigOverride(ctx context.Context, key string) (model.ConfigOverride, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT key, value_json, applied_by_action, updated_at
		 FROM config_overrides WHERE key = $1`, key,
	)
	o, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConfigOverride{}, fmt.Errorf("storage: override %s: %w", key, ErrNotFound)
		}
		return model.ConfigOverride{}, fmt.Errorf("storage: get override: %w", err)
	}
	return o, nil
}

// ListConfigOverrides returns every persisted override. The resolver loads
// these once at startup to rebuild its in-memory view.
func (db *DB) ListConfigOverrides(ctx context.Context) ([]model.ConfigOverride, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT key, value_json, applied_by_action, updated_at
		 FROM config_overrides ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list overrides: %w", err)
	}
	defer rows.Close()

	var out []model.ConfigOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteConfigOverride removes an override, restoring the static default for
// its key. Missing keys are not an error.
func (db *DB) DeleteConfigOverride(ctx context.Context, key string) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM config_overrides WHERE key = $1`, key,
	); err != nil {
		return fmt.Errorf("storage: delete override %s: %w", key, err)
	}
	return nil
}

func scanOverride(row pgx.Row) (model.ConfigOverride, error) {
	var o model.ConfigOverride
	var valueJSON []byte
	var appliedBy *uuid.UUID
	if err := row.Scan(&o.Key, &valueJSON, &appliedBy, &o.UpdatedAt); err != nil {
		return model.ConfigOverride{}, err
	}
	o.AppliedByAction = appliedBy
	if err := json.Unmarshal(valueJSON, &o.Value); err != nil {
		return model.ConfigOverride{}, fmt.Errorf("unmarshal override value: %w", err)
	}
	return o, nil
}
