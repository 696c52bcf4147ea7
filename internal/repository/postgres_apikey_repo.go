package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/meallog/internal/model"
)

// PostgresAPIKeyRepo はPostgreSQLを使用したAPIキーリポジトリ。
type PostgresAPIKeyRepo struct {
	db *sql.DB
}

// NewPostgresAPIKeyRepo はPostgresAPIKeyRepoを生成する。
func NewPostgresAPIKeyRepo(db *sql.DB) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: db}
}

// Create はAPIキーを作成する。
func (r *PostgresAPIKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, secret_hash, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.UserID, key.SecretHash, key.Name, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// FindByID は指定IDのAPIキーを取得する。見つからない場合はnilを返す。
// 失効済みのキーも返す（有効性判定は呼び出し側で行う）。
func (r *PostgresAPIKeyRepo) FindByID(ctx context.Context, id string) (*model.APIKey, error) {
	key := &model.APIKey{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, secret_hash, name, created_at, revoked_at
		 FROM api_keys
		 WHERE id = $1`,
		id,
	).Scan(&key.ID, &key.UserID, &key.SecretHash, &key.Name, &key.CreatedAt, &key.RevokedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}

	return key, nil
}

// Revoke は指定IDのAPIキーを失効させる。冪等。
// 既に失効済みの場合は失効時刻を上書きしない。
func (r *PostgresAPIKeyRepo) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, revokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// ListByUserID は指定ユーザーのAPIキー一覧をcreated_at降順で返す。
func (r *PostgresAPIKeyRepo) ListByUserID(ctx context.Context, userID string) ([]*model.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, secret_hash, name, created_at, revoked_at
		 FROM api_keys
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key := &model.APIKey{}
		if err := rows.Scan(&key.ID, &key.UserID, &key.SecretHash, &key.Name, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}

	return keys, nil
}

// compile-time interface check
var _ APIKeyRepository = (*PostgresAPIKeyRepo)(nil)
