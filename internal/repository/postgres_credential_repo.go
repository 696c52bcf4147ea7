package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/meallog/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用したデータプロバイダー認可情報リポジトリ。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByUserID は指定ユーザーの認可情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByUserID(ctx context.Context, userID string) (*model.ProviderCredential, error) {
	cred := &model.ProviderCredential{}
	var scopes string

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, provider_user_id, access_token_enc, refresh_token_enc,
		        expires_at, scopes, created_at, updated_at
		 FROM provider_credentials
		 WHERE user_id = $1`,
		userID,
	).Scan(&cred.UserID, &cred.ProviderUserID, &cred.AccessTokenEnc, &cred.RefreshTokenEnc,
		&cred.ExpiresAt, &scopes, &cred.CreatedAt, &cred.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	cred.Scopes = splitScopes(scopes)
	return cred, nil
}

// Upsert は認可情報を作成または全列更新する。
// 行を丸ごと置き換えるため、リフレッシュ後に古いトークンが残ることはない。
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, cred *model.ProviderCredential) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_credentials
		 (user_id, provider_user_id, access_token_enc, refresh_token_enc, expires_at, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (user_id) DO UPDATE
		 SET provider_user_id  = EXCLUDED.provider_user_id,
		     access_token_enc  = EXCLUDED.access_token_enc,
		     refresh_token_enc = EXCLUDED.refresh_token_enc,
		     expires_at        = EXCLUDED.expires_at,
		     scopes            = EXCLUDED.scopes,
		     updated_at        = EXCLUDED.updated_at`,
		cred.UserID, cred.ProviderUserID, cred.AccessTokenEnc, cred.RefreshTokenEnc,
		cred.ExpiresAt, joinScopes(cred.Scopes), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの認可情報を削除する（連携解除）。
func (r *PostgresCredentialRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// splitScopes は空白区切りのスコープ文字列をスライスに変換する。
func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// joinScopes はスコープスライスを空白区切りの文字列に変換する。
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
