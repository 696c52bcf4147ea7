// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/meallog/internal/auth"
	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/ratelimit"
	"github.com/hitoshi/meallog/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	TestLogin(ctx context.Context, email, name string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, *model.Session, error)
}

// ProviderStatusInterface はデータプロバイダー連携状態の参照インターフェース。
type ProviderStatusInterface interface {
	Connected(ctx context.Context, userID string) (bool, error)
}

// AuthMetrics は認証ハンドラーのメトリクス記録インターフェース。
type AuthMetrics interface {
	RecordOAuthStart(flow string)
	RecordOAuthCallback(flow string, result string)
	RecordRateLimitRejection(class string)
	RecordLogout(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// LandingPath は認証後の正規ランディングパス。
	LandingPath string

	// LoginRateMax / LoginRateWindow はIPごとのログイン開始レート制限。
	LoginRateMax    int
	LoginRateWindow time.Duration

	// EnableTestLogin はIDプロバイダーを経由しないテストログインを有効にする。
	// ローカル開発専用。
	EnableTestLogin bool
}

// AuthHandler はIDプロバイダーOAuth認証関連のHTTPハンドラー。
// セッションの状態はすべて暗号化Cookie封筒（session.Codec）経由で運ぶ。
type AuthHandler struct {
	service  AuthServiceInterface
	provider ProviderStatusInterface
	codec    *session.Codec
	limiter  *ratelimit.Store
	metrics  AuthMetrics
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
// metricsはnilでもよい（記録をスキップする）。
func NewAuthHandler(
	service AuthServiceInterface,
	provider ProviderStatusInterface,
	codec *session.Codec,
	limiter *ratelimit.Store,
	metrics AuthMetrics,
	config AuthHandlerConfig,
) *AuthHandler {
	if config.LandingPath == "" {
		config.LandingPath = "/dashboard"
	}
	if config.LoginRateMax <= 0 {
		config.LoginRateMax = 10
	}
	if config.LoginRateWindow <= 0 {
		config.LoginRateWindow = time.Minute
	}
	return &AuthHandler{
		service:  service,
		provider: provider,
		codec:    codec,
		limiter:  limiter,
		metrics:  metrics,
		config:   config,
	}
}

// Login はIDプロバイダーのOAuthフローを開始する。
// POST /auth/google/login?return_to=/path
// stateは暗号化Cookie封筒に保存する（平文Cookieには載せない）。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	// 1. IPごとの固定ウィンドウレート制限（認可コード総当たりとフロー連打の抑止）
	result := h.limiter.Check("oauth_login:"+middleware.ClientIP(r), h.config.LoginRateMax, h.config.LoginRateWindow)
	if !result.Allowed {
		if h.metrics != nil {
			h.metrics.RecordRateLimitRejection("oauth_login")
		}
		slog.Warn("rate limit exceeded",
			slog.String("limit_type", "oauth_login"),
		)
		middleware.WriteRateLimitResponse(w, result.RetryAfter)
		return
	}

	// 2. CSRF対策のstate値を生成
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 3. stateと戻り先を封筒に保存（既存セッション参照は保持する）
	payload := h.codec.Read(r)
	if payload == nil {
		payload = &session.Payload{}
	}
	payload.OAuthState = state
	payload.ReturnTo = sanitizeReturnTo(r.URL.Query().Get("return_to"))
	if err := h.codec.Write(w, payload); err != nil {
		slog.Error("failed to write session envelope", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOAuthStart("identity")
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はIDプロバイダーのOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
// stateの検証はトークン交換より前に行う。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	payload := h.codec.Read(r)

	// 1. stateの検証（交換前に必ず行う）
	state := r.URL.Query().Get("state")
	if payload == nil || payload.OAuthState == "" || payload.OAuthState != state {
		if h.metrics != nil {
			h.metrics.RecordOAuthCallback("identity", "state_mismatch")
		}
		slog.Warn("oauth state mismatch", slog.String("flow", "identity"))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewStateMismatchError())
		return
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewStateMismatchError())
		return
	}

	// 3. 認証処理（コード交換・許可リスト検証・セッション発行）
	sess, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEmailNotAllowed {
			if h.metrics != nil {
				h.metrics.RecordOAuthCallback("identity", "email_not_allowed")
			}
			middleware.WriteErrorResponse(w, http.StatusForbidden, apiErr)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordOAuthCallback("identity", "error")
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. 封筒を新しいセッション参照で書き換える（使用済みstateは破棄）
	returnTo := payload.ReturnTo
	if err := h.codec.Write(w, &session.Payload{SessionID: sess.ID}); err != nil {
		slog.Error("failed to write session envelope", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOAuthCallback("identity", "success")
	}

	// 5. 保存されていた戻り先、なければランディングへ
	target := h.config.LandingPath
	if returnTo != "" {
		target = returnTo
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Logout はセッションを破棄する。常に204を返す（冪等）。
// POST /auth/logout
// Cookieが破棄済みセッションを参照している場合もCookieをクリアして成功とする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	payload := h.codec.Read(r)
	if payload != nil && payload.SessionID != "" {
		if _, _, err := h.service.GetCurrentUser(r.Context(), payload.SessionID); err != nil {
			// 参照先セッションが既に存在しない
			slog.Info("stale session cookie cleared")
			if h.metrics != nil {
				h.metrics.RecordLogout("stale_cookie_cleared")
			}
		} else {
			if err := h.service.Logout(r.Context(), payload.SessionID); err != nil {
				slog.Error("failed to logout", slog.String("error", err.Error()))
				// 削除に失敗してもCookieはクリアする
			}
			if h.metrics != nil {
				h.metrics.RecordLogout("ok")
			}
		}
	}

	h.codec.Destroy(w)
	w.WriteHeader(http.StatusNoContent)
}

// meResponse は/auth/meのレスポンス。
type meResponse struct {
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	FitbitConnected bool      `json:"fitbitConnected"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Me は現在のセッション情報を返す。
// GET /auth/me
// 有効なセッションがない場合は401のJSONを返す。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	payload := h.codec.Read(r)
	if payload == nil || payload.SessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	user, sess, err := h.service.GetCurrentUser(r.Context(), payload.SessionID)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	connected, err := h.provider.Connected(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to check provider connection", slog.String("error", err.Error()))
		connected = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		Email:           user.Email,
		Name:            user.Name,
		FitbitConnected: connected,
		ExpiresAt:       sess.ExpiresAt,
	})
}

// testLoginRequest はテストログインのリクエストボディ。
type testLoginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TestLogin はIDプロバイダーを経由しないログイン。ローカル開発専用。
// POST /auth/test-login
// 設定で無効の場合は404を返す（エンドポイントの存在自体を隠す）。
func (h *AuthHandler) TestLogin(w http.ResponseWriter, r *http.Request) {
	if !h.config.EnableTestLogin {
		http.NotFound(w, r)
		return
	}

	var req testLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	sess, err := h.service.TestLogin(r.Context(), req.Email, req.Name)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEmailNotAllowed {
			middleware.WriteErrorResponse(w, http.StatusForbidden, apiErr)
			return
		}
		slog.Error("test login failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if err := h.codec.Write(w, &session.Payload{SessionID: sess.ID}); err != nil {
		slog.Error("failed to write session envelope", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sanitizeReturnTo はオープンリダイレクトを防ぐため、
// サイト内の絶対パス以外の戻り先を破棄する。
func sanitizeReturnTo(raw string) string {
	if raw == "" {
		return ""
	}
	// スキーム付きURLやプロトコル相対URL（//evil.example）は拒否
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	return raw
}
