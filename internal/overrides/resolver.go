// Package overrides maintains the runtime configuration overlay.
//
// Static configuration comes from the environment at startup; the
// improvement loop adjusts behavior by writing overrides on top of it. The
// resolver keeps a cached in-memory view so hot paths read without touching
// the database.
package overrides

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shiko-ai/shiko/internal/model"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	UpsertConfigOverride(ctx context.Context, o model.ConfigOverride) (model.ConfigOverride, error)
	DeleteConfigOverride(ctx context.Context, key string) error
	ListConfigOverrides(ctx context.Context) ([]model.ConfigOverride, error)
}

// Resolver answers "what is the current value of this tunable" with the
// persisted override winning over the caller's static default.
type Resolver struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]any
}

// NewResolver creates an empty resolver. Call Load before serving.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		values: make(map[string]any),
	}
}

// Load replaces the cached view with the persisted overrides. Called once at
// startup so overrides survive restarts.
func (r *Resolver) Load(ctx context.Context) error {
	persisted, err := r.store.ListConfigOverrides(ctx)
	if err != nil {
		return fmt.Errorf("overrides: load: %w", err)
	}

	values := make(map[string]any, len(persisted))
	for _, o := range persisted {
		values[o.Key] = o.Value
	}

	r.mu.Lock()
	r.values = values
	r.mu.Unlock()

	r.logger.Info("loaded config overrides", "count", len(values))
	return nil
}

// Set persists an override and updates the cache. The cache is only updated
// after the write succeeds, so readers never see a value that would be lost
// on restart.
func (r *Resolver) Set(ctx context.Context, key string, value any, appliedBy *uuid.UUID) error {
	_, err := r.store.UpsertConfigOverride(ctx, model.ConfigOverride{
		Key:             key,
		Value:           value,
		AppliedByAction: appliedBy,
	})
	if err != nil {
		return fmt.Errorf("overrides: set %s: %w", key, err)
	}

	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
	return nil
}

// Delete removes an override, restoring the static default for its key.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	if err := r.store.DeleteConfigOverride(ctx, key); err != nil {
		return fmt.Errorf("overrides: delete %s: %w", key, err)
	}

	r.mu.Lock()
	delete(r.values, key)
	r.mu.Unlock()
	return nil
}

// Float returns the override for key as a float64, or def when absent or of
// another type. JSON round-trips store numbers as float64.
func (r *Resolver) Float(key string, def float64) float64 {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// Int returns the override for key truncated to an int, or def when absent.
func (r *Resolver) Int(key string, def int) int {
	return int(r.Float(key, float64(def)))
}

// Bool returns the override for key as a bool, or def when absent or of
// another type.
func (r *Resolver) Bool(key string, def bool) bool {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Snapshot returns a copy of the current override view for status endpoints.
func (r *Resolver) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
