// Package apikey は非対話クライアント用APIキーの発行と検証を提供する。
//
// キーは "mlk_<キーID>_<シークレット>" 形式のベアラートークンで、
// シークレットはbcryptハッシュとしてのみ保存される。検証失敗は
// 原因（ヘッダーなし・形式不正・未知のキー・失効済み）を区別せず
// 同一のエラーを返し、攻撃者への情報漏えいを避ける。
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/repository"
)

// keyPrefix はAPIキーの接頭辞。ログ等でキー種別を識別しやすくする。
const keyPrefix = "mlk"

// Service はAPIキーの発行・検証・失効を提供する。
type Service struct {
	repo repository.APIKeyRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.APIKeyRepository) *Service {
	return &Service{repo: repo}
}

// Create は新しいAPIキーを発行する。
// 戻り値の平文キーはこの1回しか取得できない（シークレットは
// bcryptハッシュとしてのみ保存されるため）。
func (s *Service) Create(ctx context.Context, userID, name string) (*model.APIKey, string, error) {
	keyID, err := generateKeyID()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key ID: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	key := &model.APIKey{
		ID:         keyID,
		UserID:     userID,
		SecretHash: string(hash),
		Name:       name,
		CreatedAt:  time.Now(),
	}

	if err := s.repo.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to save api key: %w", err)
	}

	slog.Info("api key created",
		slog.String("key_id", keyID),
		slog.String("user_id", userID),
	)

	plaintext := fmt.Sprintf("%s_%s_%s", keyPrefix, keyID, secret)
	return key, plaintext, nil
}

// Validate はAuthorizationヘッダーの値を検証し、キー所有者のユーザーIDを返す。
// ヘッダーなし・Bearer接頭辞なし・形式不正・未知のキー・シークレット不一致・
// 失効済みのいずれもAUTH_MISSING_SESSIONで拒否する（原因を区別しない）。
func (s *Service) Validate(ctx context.Context, authorizationHeader string) (string, error) {
	bearer, ok := strings.CutPrefix(authorizationHeader, "Bearer ")
	if !ok || bearer == "" {
		return "", model.NewAuthMissingSessionError()
	}

	keyID, secret, ok := parseKey(bearer)
	if !ok {
		return "", model.NewAuthMissingSessionError()
	}

	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("failed to find api key: %w", err)
	}
	if key == nil || key.Revoked() {
		return "", model.NewAuthMissingSessionError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return "", model.NewAuthMissingSessionError()
	}

	return key.UserID, nil
}

// Revoke は指定IDのAPIキーを失効させる。冪等。
// 一度失効したキーが再び有効になることはない。
// 存在しないキーや他ユーザーのキーに対しては何もしない
// （キーの存在を呼び出し側に漏らさない）。
func (s *Service) Revoke(ctx context.Context, userID, keyID string) error {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return fmt.Errorf("failed to find api key: %w", err)
	}
	if key == nil || key.UserID != userID {
		return nil
	}

	if err := s.repo.Revoke(ctx, keyID, time.Now()); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	slog.Info("api key revoked",
		slog.String("key_id", keyID),
	)

	return nil
}

// List は指定ユーザーのAPIキー一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.APIKey, error) {
	keys, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// parseKey は平文キーをキーIDとシークレットに分解する。
// 形式: mlk_<キーID>_<シークレット>
func parseKey(bearer string) (keyID, secret string, ok bool) {
	parts := strings.SplitN(bearer, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// generateKeyID はキー識別子を生成する。8バイトの乱数をhexエンコードする。
func generateKeyID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateSecret は暗号的に安全なシークレットを生成する。
// 32バイト（256ビット）の乱数をbase64urlエンコードする。
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
