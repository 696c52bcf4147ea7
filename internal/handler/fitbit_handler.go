package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meallog/internal/auth"
	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/ratelimit"
	"github.com/hitoshi/meallog/internal/session"
)

// TokenServiceInterface はデータプロバイダー連携ハンドラーが必要とするインターフェース。
type TokenServiceInterface interface {
	GetConnectURL(state string) string
	HandleConnectCallback(ctx context.Context, userID, code string) error
	Disconnect(ctx context.Context, userID string) error
}

// FitbitHandlerConfig はデータプロバイダー連携ハンドラーの設定。
type FitbitHandlerConfig struct {
	// ConnectedRedirect は連携完了後のリダイレクト先。
	ConnectedRedirect string

	// ConnectRateMax / ConnectRateWindow はユーザーごとの連携開始レート制限。
	ConnectRateMax    int
	ConnectRateWindow time.Duration
}

// FitbitHandler はFitbit連携フローのHTTPハンドラー。
// 連携開始はログイン済みセッションを前提とし、コールバックでは
// 封筒内のstateとセッション参照の両方を検証する。
type FitbitHandler struct {
	tokens   TokenServiceInterface
	sessions middleware.SessionFinder
	codec    *session.Codec
	limiter  *ratelimit.Store
	metrics  AuthMetrics
	config   FitbitHandlerConfig
}

// NewFitbitHandler はFitbitHandlerを生成する。
// metricsはnilでもよい（記録をスキップする）。
func NewFitbitHandler(
	tokens TokenServiceInterface,
	sessions middleware.SessionFinder,
	codec *session.Codec,
	limiter *ratelimit.Store,
	metrics AuthMetrics,
	config FitbitHandlerConfig,
) *FitbitHandler {
	if config.ConnectedRedirect == "" {
		config.ConnectedRedirect = "/settings"
	}
	if config.ConnectRateMax <= 0 {
		config.ConnectRateMax = 10
	}
	if config.ConnectRateWindow <= 0 {
		config.ConnectRateWindow = time.Minute
	}
	return &FitbitHandler{
		tokens:   tokens,
		sessions: sessions,
		codec:    codec,
		limiter:  limiter,
		metrics:  metrics,
		config:   config,
	}
}

// Connect はFitbit連携のOAuthフローを開始する。
// POST /api/fitbit/connect
// ゲートキーパー通過後のルートに配置されるため、セッションは検証済み。
func (h *FitbitHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	// 1. ユーザーごとの固定ウィンドウレート制限
	result := h.limiter.Check("fitbit_connect:"+userID, h.config.ConnectRateMax, h.config.ConnectRateWindow)
	if !result.Allowed {
		if h.metrics != nil {
			h.metrics.RecordRateLimitRejection("fitbit_connect")
		}
		slog.Warn("rate limit exceeded",
			slog.String("limit_type", "fitbit_connect"),
			slog.String("user_id", userID),
		)
		middleware.WriteRateLimitResponse(w, result.RetryAfter)
		return
	}

	// 2. CSRF対策のstate値を生成し、封筒に保存（セッション参照は保持）
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	payload := h.codec.Read(r)
	if payload == nil || payload.SessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}
	payload.OAuthState = state
	if err := h.codec.Write(w, payload); err != nil {
		slog.Error("failed to write session envelope", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOAuthStart("provider")
	}

	http.Redirect(w, r, h.tokens.GetConnectURL(state), http.StatusFound)
}

// Callback はFitbit連携のOAuthコールバックを処理する。
// GET /auth/fitbit/callback?code=xxx&state=yyy
// OAuthリダイレクトURIのためゲートキーパーの外に置くが、
// 封筒内のセッション参照を自前で検証する。
func (h *FitbitHandler) Callback(w http.ResponseWriter, r *http.Request) {
	payload := h.codec.Read(r)

	// 1. ログイン済みセッションが前提
	if payload == nil || payload.SessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	// 2. stateの検証（交換前に必ず行う）
	state := r.URL.Query().Get("state")
	if payload.OAuthState == "" || payload.OAuthState != state {
		if h.metrics != nil {
			h.metrics.RecordOAuthCallback("provider", "state_mismatch")
		}
		slog.Warn("oauth state mismatch", slog.String("flow", "provider"))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewStateMismatchError())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewStateMismatchError())
		return
	}

	// 3. セッションの有効性を確認してユーザーを特定
	sess, err := h.sessions.FindByID(r.Context(), payload.SessionID)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if sess == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	// 4. コード交換とトークンの暗号化保存
	if err := h.tokens.HandleConnectCallback(r.Context(), sess.UserID, code); err != nil {
		if h.metrics != nil {
			h.metrics.RecordOAuthCallback("provider", "error")
		}
		handleServiceError(w, err)
		return
	}

	// 5. 使用済みstateを封筒から破棄
	payload.OAuthState = ""
	if err := h.codec.Write(w, payload); err != nil {
		slog.Error("failed to write session envelope", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOAuthCallback("provider", "success")
	}

	http.Redirect(w, r, h.config.ConnectedRedirect, http.StatusFound)
}

// Disconnect はFitbit連携を解除し、保存済みトークンを削除する。
// DELETE /api/fitbit
func (h *FitbitHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	if err := h.tokens.Disconnect(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
