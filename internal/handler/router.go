package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/ratelimit"
	"github.com/hitoshi/meallog/internal/session"
)

// HealthChecker はヘルスチェックに必要なDB疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Gatekeeper        *middleware.Gatekeeper
	GeneralRateLimit  *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig

	// ヘルスチェックとメトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// セッション封筒とレート制限ストア
	Codec        *session.Codec
	LimiterStore *ratelimit.Store

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// Fitbit連携
	TokenService   TokenServiceInterface
	ProviderStatus ProviderStatusInterface
	SessionFinder  middleware.SessionFinder
	FitbitConfig   FitbitHandlerConfig

	// メトリクス
	Metrics AuthMetrics

	// 食事記録
	FoodLogService FoodLogServiceInterface

	// APIキー
	APIKeyService APIKeyServiceInterface

	// ユーザー
	UserDeleter UserDeleter
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF
//
// 認証ルート（/auth/*）とログインページはゲートキーパーの外に配置する。
// /api/*、/machine/*、およびページルートはゲートキーパーを通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(
		deps.AuthService,
		deps.ProviderStatus,
		deps.Codec,
		deps.LimiterStore,
		deps.Metrics,
		deps.AuthConfig,
	)
	fitbitHandler := NewFitbitHandler(
		deps.TokenService,
		deps.SessionFinder,
		deps.Codec,
		deps.LimiterStore,
		deps.Metrics,
		deps.FitbitConfig,
	)
	logHandler := NewFoodLogHandler(deps.FoodLogService)
	keyHandler := NewAPIKeyHandler(deps.APIKeyService)
	userHandler := NewUserHandler(deps.UserDeleter, deps.Codec)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerヘルスチェックと監視用）
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		code := http.StatusOK
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				status = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	// Prometheusスクレイプエンドポイント
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		// IDプロバイダーOAuthフロー（開始はPOST、プロバイダーからの戻りはGET）
		r.Post("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)

		// データプロバイダーのコールバック（封筒内セッションを自前検証）
		r.Get("/fitbit/callback", fitbitHandler.Callback)

		// セッション管理
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// ローカル開発専用（無効時は404）
		r.Post("/test-login", authHandler.TestLogin)
	})

	// CSRFトークン配布（認証不要）
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// ログインページ（未認証リダイレクトの着地点）
	r.Get("/login", servePage("login"))

	// --- ゲートキーパーを通すルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.Gatekeeper.Middleware())

		// ページルート（SPAシェル）
		r.Get("/dashboard", servePage("dashboard"))
		r.Get("/settings", servePage("settings"))

		// マシンAPI（APIキー認証）。Cookie系と同じ食事記録ハンドラーを共有する
		r.Route("/machine/v1", func(r chi.Router) {
			r.Get("/logs", logHandler.ListLogs)
			r.Post("/logs", logHandler.CreateLog)
		})

		// Cookie認証API（ユーザーごとのトークンバケット制限を追加）
		r.Group(func(r chi.Router) {
			r.Use(deps.GeneralRateLimit.Middleware())

			// Fitbit連携（開始はPOST、戻りは/auth/fitbit/callback）
			r.Post("/api/fitbit/connect", fitbitHandler.Connect)
			r.Delete("/api/fitbit", fitbitHandler.Disconnect)

			// 食事記録
			r.Route("/api/logs", func(r chi.Router) {
				r.Get("/", logHandler.ListLogs)
				r.Post("/", logHandler.CreateLog)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", logHandler.GetLog)
					r.Patch("/", logHandler.UpdateLog)
					r.Delete("/", logHandler.DeleteLog)
					r.Post("/sync", logHandler.SyncLog)
				})
			})

			// APIキー管理
			r.Route("/api/keys", func(r chi.Router) {
				r.Get("/", keyHandler.ListKeys)
				r.Post("/", keyHandler.CreateKey)
				r.Delete("/{id}", keyHandler.RevokeKey)
			})

			// ユーザー管理
			r.Delete("/api/users/me", userHandler.Withdraw)
		})
	})

	return r
}

// servePage はSPAシェルの最小HTMLを返すハンドラーを生成する。
// UIのレンダリング自体はフロントエンド側の責務。
func servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>meallog</title></head><body><div id="app" data-page="` + name + `"></div></body></html>`))
	}
}
