package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/ratelimit"
	"github.com/hitoshi/meallog/internal/session"
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// APIKeyValidator はAPIキー検証に必要なインターフェース。
// apikey.Serviceの部分集合として定義する。
type APIKeyValidator interface {
	Validate(ctx context.Context, authorizationHeader string) (string, error)
}

// GatekeeperMetrics はゲートキーパーのメトリクス記録に必要なインターフェース。
type GatekeeperMetrics interface {
	RecordRateLimitRejection(class string)
	RecordMachineAuthFailure()
}

// GatekeeperConfig はゲートキーパーの経路クラス設定。
type GatekeeperConfig struct {
	// MachinePrefix はAPIキー認証のみを使う名前空間（例: "/machine/"）。
	MachinePrefix string
	// APIPrefix は未認証時にJSON 401を返す名前空間（例: "/api/"）。
	APIPrefix string
	// LoginPath は未認証ページリクエストのリダイレクト先。
	LoginPath string
	// LandingPath は認証後の正規ランディングパス。
	// このパスへの未認証アクセスだけはreturn_toを付けずにリダイレクトする。
	LandingPath string

	// APIKeyRateMax / APIKeyRateWindow はAPIキーごとの固定ウィンドウ制限。
	APIKeyRateMax    int
	APIKeyRateWindow time.Duration
}

// Gatekeeper はすべての保護対象ハンドラーの前段で認証方式と
// 失敗時の応答形式を決定する単一の判断点。
//
//   - マシンAPI名前空間: Cookieの状態に関係なくAPIキー認証に委譲する
//   - API名前空間: セッションがなければ構造化JSON 401
//   - その他（ページ）: セッションがなければログインページへリダイレクト
//     （元のパスをreturn_toとして保持）
//
// APIクライアントとブラウザナビゲーションでは失敗時に必要なUXが異なるため、
// この分岐を1か所に集約している。
type Gatekeeper struct {
	codec    *session.Codec
	sessions SessionFinder
	apiKeys  APIKeyValidator
	limiter  *ratelimit.Store
	metrics  GatekeeperMetrics
	config   GatekeeperConfig
}

// NewGatekeeper はGatekeeperを生成する。
// metricsはnilでもよい（記録をスキップする）。
func NewGatekeeper(
	codec *session.Codec,
	sessions SessionFinder,
	apiKeys APIKeyValidator,
	limiter *ratelimit.Store,
	metrics GatekeeperMetrics,
	config GatekeeperConfig,
) *Gatekeeper {
	if config.MachinePrefix == "" {
		config.MachinePrefix = "/machine/"
	}
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/"
	}
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.LandingPath == "" {
		config.LandingPath = "/dashboard"
	}
	if config.APIKeyRateMax <= 0 {
		config.APIKeyRateMax = 60
	}
	if config.APIKeyRateWindow <= 0 {
		config.APIKeyRateWindow = time.Minute
	}
	return &Gatekeeper{
		codec:    codec,
		sessions: sessions,
		apiKeys:  apiKeys,
		limiter:  limiter,
		metrics:  metrics,
		config:   config,
	}
}

// Middleware は経路クラスに応じた認証判断を行うミドルウェアを返す。
// 認証に成功した場合、ユーザーID（とCookie経由の場合はセッションID）を
// リクエストコンテキストに注入する。
func (g *Gatekeeper) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// マシンAPI名前空間はAPIキー認証に完全委譲（Cookieは見ない）
			if strings.HasPrefix(r.URL.Path, g.config.MachinePrefix) {
				g.serveMachine(w, r, next)
				return
			}

			// Cookie封筒の復号とセッションストアでの有効性検証
			payload := g.codec.Read(r)
			if payload == nil || payload.SessionID == "" {
				g.reject(w, r)
				return
			}

			sess, err := g.sessions.FindByID(r.Context(), payload.SessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				g.reject(w, r)
				return
			}
			if sess == nil {
				// Cookieが破棄済みセッションを参照している
				g.reject(w, r)
				return
			}

			ctx := ContextWithUserID(r.Context(), sess.UserID)
			ctx = contextWithSessionID(ctx, sess.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// serveMachine はマシンAPIリクエストをAPIキーで認証する。
// 提示されたキーごとにCookie側とは独立した固定ウィンドウで制限する。
func (g *Gatekeeper) serveMachine(w http.ResponseWriter, r *http.Request, next http.Handler) {
	header := r.Header.Get("Authorization")

	// 提示キー単位のレート制限（検証前に適用し、総当たりを抑える）
	result := g.limiter.Check("apikey:"+header, g.config.APIKeyRateMax, g.config.APIKeyRateWindow)
	if !result.Allowed {
		if g.metrics != nil {
			g.metrics.RecordRateLimitRejection("machine_api")
		}
		slog.Warn("rate limit exceeded",
			slog.String("limit_type", "machine_api"),
			slog.String("path", r.URL.Path),
		)
		WriteRateLimitResponse(w, result.RetryAfter)
		return
	}

	userID, err := g.apiKeys.Validate(r.Context(), header)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordMachineAuthFailure()
		}
		// 失敗理由に関係なく同一のエラーコードを返す
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
}

// reject は未認証リクエストを経路クラスに応じた形式で拒否する。
func (g *Gatekeeper) reject(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, g.config.APIPrefix) {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	// ページリクエスト: 元のパスを保持してログインページへ
	target := g.config.LoginPath
	if r.URL.Path != g.config.LandingPath {
		target += "?return_to=" + url.QueryEscape(r.URL.Path)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
