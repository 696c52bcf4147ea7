// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/meallog/internal/apikey"
	"github.com/hitoshi/meallog/internal/auth"
	"github.com/hitoshi/meallog/internal/config"
	"github.com/hitoshi/meallog/internal/database"
	"github.com/hitoshi/meallog/internal/foodlog"
	"github.com/hitoshi/meallog/internal/handler"
	"github.com/hitoshi/meallog/internal/logger"
	"github.com/hitoshi/meallog/internal/metrics"
	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/ratelimit"
	"github.com/hitoshi/meallog/internal/repository"
	"github.com/hitoshi/meallog/internal/security"
	"github.com/hitoshi/meallog/internal/session"
	"github.com/hitoshi/meallog/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	credRepo := repository.NewPostgresCredentialRepo(db)
	apiKeyRepo := repository.NewPostgresAPIKeyRepo(db)
	foodLogRepo := repository.NewPostgresFoodLogRepo(db)

	// 3. 暗号・セキュリティ部品の初期化（鍵の検証はconfig.Loadで完了済み）
	tokenCipher, err := security.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create token cipher: %w", err)
	}

	codec, err := session.NewCodec(session.CodecConfig{
		Secret:       cfg.SessionSecret,
		MaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	if err != nil {
		return fmt.Errorf("failed to create session codec: %w", err)
	}

	sanitizer := security.NewNotesSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	identityProvider := auth.NewGoogleIdentityProvider(auth.GoogleIdentityConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: cfg.ProviderTimeout},
	})
	authService := auth.NewService(
		identityProvider, userRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			AllowedEmails: cfg.AllowedEmails,
		},
	)

	fitbitProvider := auth.NewFitbitProvider(auth.FitbitProviderConfig{
		ClientID:     cfg.FitbitClientID,
		ClientSecret: cfg.FitbitClientSecret,
		RedirectURL:  cfg.FitbitRedirectURL,
		Scopes:       cfg.FitbitScopes,
		Timeout:      cfg.ProviderTimeout,
	})
	tokenService := auth.NewTokenService(
		fitbitProvider, credRepo, tokenCipher,
		auth.TokenServiceConfig{
			SafetyMargin:   cfg.RefreshSafetyMargin,
			RefreshTimeout: cfg.ProviderTimeout,
		},
		collector,
	)

	apiKeyService := apikey.NewService(apiKeyRepo)
	platformClient := foodlog.NewFitbitFoodClient(&http.Client{Timeout: cfg.ProviderTimeout})
	foodLogService := foodlog.NewService(foodLogRepo, sanitizer, tokenService, platformClient)

	// 6. エッジゲートキーパーとレート制限の初期化
	limiterStore := ratelimit.NewStore()
	gatekeeper := middleware.NewGatekeeper(
		codec, sessionRepo, apiKeyService, limiterStore, collector,
		middleware.GatekeeperConfig{
			APIKeyRateMax:    cfg.RateLimitAPIKeyMax,
			APIKeyRateWindow: cfg.RateLimitAPIKeyWindow,
		},
	)

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		Burst:           cfg.RateLimitGeneral,
		CleanupInterval: 5 * time.Minute,
	}, collector)
	defer generalLimiter.Stop()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Gatekeeper:        gatekeeper,
		GeneralRateLimit:  generalLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			SkipPrefix:   "/machine/",
		},

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Codec:        codec,
		LimiterStore: limiterStore,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			LoginRateMax:    cfg.RateLimitOAuthMax,
			LoginRateWindow: cfg.RateLimitOAuthWindow,
			EnableTestLogin: cfg.EnableTestLogin,
		},

		TokenService:   tokenService,
		ProviderStatus: tokenService,
		SessionFinder:  sessionRepo,
		FitbitConfig: handler.FitbitHandlerConfig{
			ConnectRateMax:    cfg.RateLimitOAuthMax,
			ConnectRateWindow: cfg.RateLimitOAuthWindow,
		},

		Metrics: collector,

		FoodLogService: foodLogService,
		APIKeyService:  apiKeyService,
		UserDeleter:    userRepo,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.RunPeriodic(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
