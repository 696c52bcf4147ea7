package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/repository"
	"github.com/hitoshi/meallog/internal/security"
)

// RefreshMetrics はトークンリフレッシュ結果の記録に必要なインターフェース。
// metrics.Collectorの部分集合として定義する。
type RefreshMetrics interface {
	RecordTokenRefresh(result string)
}

// TokenServiceConfig はトークン管理サービスの設定。
type TokenServiceConfig struct {
	// SafetyMargin は期限切れ前にリフレッシュを開始する余裕時間。
	SafetyMargin time.Duration
	// RefreshTimeout はリフレッシュ呼び出し1回あたりの上限時間。
	RefreshTimeout time.Duration
}

// TokenService はデータプロバイダー認可情報の保存とリフレッシュを提供する。
//
// リフレッシュの「確認→更新→保存」はリクエスト間のロックなしで行う。
// 同時リクエストが二重にリフレッシュする狭い競合はあり得るが、
// プロバイダーのリフレッシュは毎回有効なトークン対を返すため、
// 後勝ちの保存で問題ない。先に保存されたリフレッシュトークンが
// 無効化されていた場合も、次回アクセス時に再度リフレッシュされる。
type TokenService struct {
	provider DataProvider
	credRepo repository.CredentialRepository
	cipher   *security.TokenCipher
	config   TokenServiceConfig
	metrics  RefreshMetrics

	// now はテストで時刻を固定するためのフック。
	now func() time.Time
}

// NewTokenService はTokenServiceを生成する。
// metricsはnilでもよい（記録をスキップする）。
func NewTokenService(
	provider DataProvider,
	credRepo repository.CredentialRepository,
	cipher *security.TokenCipher,
	config TokenServiceConfig,
	metrics RefreshMetrics,
) *TokenService {
	if config.SafetyMargin <= 0 {
		config.SafetyMargin = 5 * time.Minute
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 10 * time.Second
	}
	return &TokenService{
		provider: provider,
		credRepo: credRepo,
		cipher:   cipher,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
	}
}

// GetConnectURL はデータプロバイダーの認可URLを生成する。
func (s *TokenService) GetConnectURL(state string) string {
	return s.provider.GetConnectURL(state)
}

// HandleConnectCallback はデータプロバイダーのOAuthコールバックを処理し、
// トークンを暗号化して認可情報をUPSERTする。
// stateの検証は呼び出し側（ハンドラー）がトークン交換より前に行うこと。
// このフローはアカウント作成には使えず、認証済みユーザーにのみ許可される。
func (s *TokenService) HandleConnectCallback(ctx context.Context, userID, code string) error {
	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange provider code: %w", err)
	}

	if err := s.persistToken(ctx, userID, token); err != nil {
		return err
	}

	slog.Info("data provider connected",
		slog.String("user_id", userID),
		slog.Any("scopes", token.Scopes),
	)

	return nil
}

// EnsureFreshToken は有効なアクセストークンを返す。
// データプロバイダーAPIを呼ぶ直前に必ず呼び出すこと。
//
// 期限まで余裕がある場合は保存済みトークンを復号して返す。
// 期限切れ・期限間近の場合はリフレッシュし、新しいトークン対を
// 暗号化して保存してから返す。リフレッシュ失敗は1回だけ分類して
// 呼び出し側に返し、このコンポーネントでは再試行しない。
func (s *TokenService) EnsureFreshToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.credRepo.FindByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return "", model.NewCredentialsMissingError()
	}

	// 期限まで余裕があれば保存済みトークンをそのまま使う
	if s.now().Before(cred.ExpiresAt.Add(-s.config.SafetyMargin)) {
		accessToken, err := s.cipher.Decrypt(cred.AccessTokenEnc)
		if err != nil {
			// 復号失敗（改ざん・鍵不一致）は致命的エラーとして中断する
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		return accessToken, nil
	}

	refreshToken, err := s.cipher.Decrypt(cred.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.config.RefreshTimeout)
	defer cancel()

	token, err := s.provider.Refresh(refreshCtx, refreshToken)
	if err != nil {
		classified := s.classifyRefreshError(err)
		s.recordRefresh(classified)
		slog.Warn("token refresh failed",
			slog.String("user_id", userID),
			slog.String("reason", refreshFailureReason(classified)),
		)
		return "", classified
	}

	if err := s.persistToken(ctx, userID, token); err != nil {
		return "", err
	}

	s.recordRefresh(nil)
	slog.Info("token refreshed",
		slog.String("user_id", userID),
		slog.Time("expires_at", token.ExpiresAt),
	)

	return token.AccessToken, nil
}

// Disconnect は認可情報を削除し、データプロバイダー連携を解除する。
func (s *TokenService) Disconnect(ctx context.Context, userID string) error {
	if err := s.credRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	slog.Info("data provider disconnected",
		slog.String("user_id", userID),
	)

	return nil
}

// Connected は指定ユーザーがデータプロバイダー連携済みかどうかを返す。
func (s *TokenService) Connected(ctx context.Context, userID string) (bool, error) {
	cred, err := s.credRepo.FindByUserID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred != nil, nil
}

// persistToken はトークン対を暗号化して認可情報をUPSERTする。
// 行は丸ごと置き換えられる。
func (s *TokenService) persistToken(ctx context.Context, userID string, token *ProviderToken) error {
	accessEnc, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshEnc, err := s.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cred := &model.ProviderCredential{
		UserID:          userID,
		ProviderUserID:  token.ProviderUserID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       token.ExpiresAt,
		Scopes:          token.Scopes,
	}

	if err := s.credRepo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	return nil
}

// classifyRefreshError はリフレッシュ失敗を1回だけ分類する。
//   - invalid_grant（リフレッシュトークン失効）→ TOKEN_INVALID（再接続を促す）
//   - invalid_scope / insufficient_scope → SCOPE_MISSING（再認可を促す）
//   - それ以外（タイムアウト含む）→ UPSTREAM_FAILURE（呼び出し側の判断で再試行可能）
func (s *TokenService) classifyRefreshError(err error) *model.APIError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant":
			return model.NewTokenInvalidError()
		case "invalid_scope", "insufficient_scope":
			return model.NewScopeMissingError()
		}
	}
	return model.NewUpstreamFailureError()
}

// recordRefresh はリフレッシュ結果をメトリクスに記録する。
func (s *TokenService) recordRefresh(classified *model.APIError) {
	if s.metrics == nil {
		return
	}
	if classified == nil {
		s.metrics.RecordTokenRefresh("success")
		return
	}
	s.metrics.RecordTokenRefresh(refreshFailureReason(classified))
}

// refreshFailureReason は分類済みエラーのログ・メトリクス用ラベルを返す。
func refreshFailureReason(apiErr *model.APIError) string {
	switch apiErr.Code {
	case model.ErrCodeTokenInvalid:
		return "token_invalid"
	case model.ErrCodeScopeMissing:
		return "scope_missing"
	default:
		return "upstream_failure"
	}
}
