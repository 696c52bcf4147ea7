package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meallog/internal/model"
)

// PostgresFoodLogRepo はPostgreSQLを使用した食事記録リポジトリ。
type PostgresFoodLogRepo struct {
	db *sql.DB
}

// NewPostgresFoodLogRepo はPostgresFoodLogRepoを生成する。
func NewPostgresFoodLogRepo(db *sql.DB) *PostgresFoodLogRepo {
	return &PostgresFoodLogRepo{db: db}
}

// Create は食事記録を作成する。
func (r *PostgresFoodLogRepo) Create(ctx context.Context, log *model.FoodLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO food_logs
		 (id, user_id, name, meal_type, calories, protein_g, fat_g, carbs_g, notes, eaten_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ID, log.UserID, log.Name, log.MealType, log.Calories, log.ProteinG,
		log.FatG, log.CarbsG, log.Notes, log.EatenAt, log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create food log: %w", err)
	}
	return nil
}

// FindByID は指定IDの食事記録を取得する。見つからない場合はnilを返す。
func (r *PostgresFoodLogRepo) FindByID(ctx context.Context, id string) (*model.FoodLog, error) {
	log := &model.FoodLog{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, meal_type, calories, protein_g, fat_g, carbs_g,
		        notes, eaten_at, synced_at, created_at, updated_at
		 FROM food_logs
		 WHERE id = $1`,
		id,
	).Scan(&log.ID, &log.UserID, &log.Name, &log.MealType, &log.Calories, &log.ProteinG,
		&log.FatG, &log.CarbsG, &log.Notes, &log.EatenAt, &log.SyncedAt, &log.CreatedAt, &log.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find food log: %w", err)
	}

	return log, nil
}

// ListByUserAndRange は指定ユーザーの食事記録をeaten_at降順で取得する。
func (r *PostgresFoodLogRepo) ListByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, meal_type, calories, protein_g, fat_g, carbs_g,
		        notes, eaten_at, synced_at, created_at, updated_at
		 FROM food_logs
		 WHERE user_id = $1 AND eaten_at >= $2 AND eaten_at < $3
		 ORDER BY eaten_at DESC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list food logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.FoodLog
	for rows.Next() {
		log := &model.FoodLog{}
		if err := rows.Scan(&log.ID, &log.UserID, &log.Name, &log.MealType, &log.Calories, &log.ProteinG,
			&log.FatG, &log.CarbsG, &log.Notes, &log.EatenAt, &log.SyncedAt, &log.CreatedAt, &log.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan food log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate food logs: %w", err)
	}

	return logs, nil
}

// Update は食事記録を上書き更新する。
func (r *PostgresFoodLogRepo) Update(ctx context.Context, log *model.FoodLog) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE food_logs
		 SET name = $2, meal_type = $3, calories = $4, protein_g = $5, fat_g = $6,
		     carbs_g = $7, notes = $8, eaten_at = $9, updated_at = $10
		 WHERE id = $1`,
		log.ID, log.Name, log.MealType, log.Calories, log.ProteinG, log.FatG,
		log.CarbsG, log.Notes, log.EatenAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update food log: %w", err)
	}
	return nil
}

// MarkSynced は指定IDの食事記録に同期完了時刻を記録する。
func (r *PostgresFoodLogRepo) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE food_logs SET synced_at = $2, updated_at = $2 WHERE id = $1`,
		id, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark food log synced: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの食事記録を削除する。
func (r *PostgresFoodLogRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM food_logs WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete food log: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FoodLogRepository = (*PostgresFoodLogRepo)(nil)
