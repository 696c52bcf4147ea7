// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/meallog/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertByEmail はメールアドレスをキーにユーザーをUPSERTする。
	// 既存ユーザーの場合は表示名のみ更新する。emailは小文字正規化済みであること。
	// 作成または更新後のユーザーを返す。
	UpsertByEmail(ctx context.Context, email, name string) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、provider_credentials、api_keys、food_logsは
	// CASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。
	// 期限切れのレコードは存在しないものとして扱い、nilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// CredentialRepository はデータプロバイダー認可情報の永続化インターフェース。
// トークンは暗号化済みブロブとしてのみ保存される。
type CredentialRepository interface {
	// FindByUserID は指定ユーザーの認可情報を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.ProviderCredential, error)

	// Upsert は認可情報を作成または全列更新する。
	// リフレッシュ成功時は行を丸ごと置き換える（部分更新はしない）。
	Upsert(ctx context.Context, cred *model.ProviderCredential) error

	// DeleteByUserID は指定ユーザーの認可情報を削除する（連携解除）。
	DeleteByUserID(ctx context.Context, userID string) error
}

// APIKeyRepository はAPIキーの永続化インターフェース。
type APIKeyRepository interface {
	// Create はAPIキーを作成する。
	Create(ctx context.Context, key *model.APIKey) error

	// FindByID は指定IDのAPIキーを取得する。見つからない場合はnilを返す。
	// 失効済みのキーも返す（有効性判定は呼び出し側で行う）。
	FindByID(ctx context.Context, id string) (*model.APIKey, error)

	// Revoke は指定IDのAPIキーを失効させる。冪等。
	Revoke(ctx context.Context, id string, revokedAt time.Time) error

	// ListByUserID は指定ユーザーのAPIキー一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
}

// FoodLogRepository は食事記録の永続化インターフェース。
type FoodLogRepository interface {
	// Create は食事記録を作成する。
	Create(ctx context.Context, log *model.FoodLog) error

	// FindByID は指定IDの食事記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FoodLog, error)

	// ListByUserAndRange は指定ユーザーの食事記録をeaten_at降順で取得する。
	ListByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error)

	// Update は食事記録を上書き更新する。
	Update(ctx context.Context, log *model.FoodLog) error

	// MarkSynced は指定IDの食事記録に同期完了時刻を記録する。
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error

	// DeleteByID は指定IDの食事記録を削除する。
	DeleteByID(ctx context.Context, id string) error
}
