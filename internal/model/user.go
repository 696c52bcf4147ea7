// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// Emailは小文字に正規化された外部IDキーであり、大文字小文字を区別せず一意。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// ストアに存在し、期限切れでなく、明示的に破棄されていない場合のみ有効。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ProviderCredential はデータプロバイダー（Fitbit）の認可情報を表す。
// AccessTokenEnc / RefreshTokenEnc は暗号化済みのブロブであり、
// 平文トークンは永続化されない。
type ProviderCredential struct {
	UserID          string
	ProviderUserID  string
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
	Scopes          []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasScope は指定スコープが付与されているかを返す。
func (c *ProviderCredential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// APIKey は非対話クライアント用の長命ベアラー認証情報を表す。
// SecretHashには平文シークレットのbcryptハッシュのみを保持する。
type APIKey struct {
	ID         string
	UserID     string
	SecretHash string
	Name       string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Revoked はAPIキーが失効済みかどうかを返す。
// 一度失効したキーが再び有効になることはない。
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
