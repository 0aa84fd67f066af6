package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shiko-ai/shiko/internal/model"
)

// InsertLearning persists the evaluation of one terminal action. The UNIQUE
// constraint on action_id guarantees a single learning per action.
func (db *DB) InsertLearning(ctx context.Context, l model.Learning) (model.Learning, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.RewardBreakdown == nil {
		l.RewardBreakdown = map[string]float64{}
	}

	breakdownJSON, err := json.Marshal(l.RewardBreakdown)
	if err != nil {
		return model.Learning{}, fmt.Errorf("storage: marshal reward breakdown: %w", err)
	}
	var lessonsJSON, recsJSON []byte
	if len(l.Lessons) > 0 {
		if lessonsJSON, err = json.Marshal(l.Lessons); err != nil {
			return model.Learning{}, fmt.Errorf("storage: marshal lessons: %w", err)
		}
	}
	if len(l.Recommendations) > 0 {
		if recsJSON, err = json.Marshal(l.Recommendations); err != nil {
			return model.Learning{}, fmt.Errorf("storage: marshal recommendations: %w", err)
		}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO learnings (id, action_id, reward_value, reward_breakdown_json,
		 confidence, lessons_json, recommendations_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.ActionID, l.RewardValue, breakdownJSON, l.Confidence,
		lessonsJSON, recsJSON, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Learning{}, fmt.Errorf("storage: learning for action %s already exists: %w", l.ActionID, ErrDuplicate)
		}
		return model.Learning{}, fmt.Errorf("storage: insert learning: %w", err)
	}
	return l, nil
}

// RecentLearnings returns the newest learnings, most recent first.
func (db *DB) RecentLearnings(ctx context.Context, limit int) ([]model.Learning, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, action_id, reward_value, reward_breakdown_json, confidence,
		 lessons_json, recommendations_json, created_at
		 FROM learnings ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent learnings: %w", err)
	}
	defer rows.Close()

	var out []model.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan learning: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLearning(row pgx.Row) (model.Learning, error) {
	var l model.Learning
	var breakdownJSON, lessonsJSON, recsJSON []byte
	if err := row.Scan(&l.ID, &l.ActionID, &l.RewardValue, &breakdownJSON,
		&l.Confidence, &lessonsJSON, &recsJSON, &l.CreatedAt); err != nil {
		return model.Learning{}, err
	}
	if err := json.Unmarshal(breakdownJSON, &l.RewardBreakdown); err != nil {
		return model.Learning{}, fmt.Errorf("unmarshal reward breakdown: %w", err)
	}
	if len(lessonsJSON) > 0 {
		if err := json.Unmarshal(lessonsJSON, &l.Lessons); err != nil {
			return model.Learning{}, fmt.Errorf("unmarshal lessons: %w", err)
		}
	}
	if len(recsJSON) > 0 {
		if err := json.Unmarshal(recsJSON, &l.Recommendations); err != nil {
			return model.Learning{}, fmt.Errorf("unmarshal recommendations: %w", err)
		}
	}
	return l, nil
}
