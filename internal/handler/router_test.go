package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/ratelimit"
)

type mockMachineValidator struct{}

func (m *mockMachineValidator) Validate(ctx context.Context, authorizationHeader string) (string, error) {
	return "", model.NewAuthMissingSessionError()
}

type mockUserDeleter struct{}

func (m *mockUserDeleter) DeleteByID(ctx context.Context, id string) error {
	return errors.New("not implemented")
}

// newTestRouter は全依存をモックで埋めたルーターを構築する。
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	codec := newHandlerCodec(t)
	store := ratelimit.NewStore()

	gatekeeper := middleware.NewGatekeeper(
		codec,
		&mockSessionFinder{},
		&mockMachineValidator{},
		store,
		nil,
		middleware.GatekeeperConfig{},
	)

	generalRL := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), nil)
	t.Cleanup(generalRL.Stop)

	return NewRouter(&RouterDeps{
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Gatekeeper:       gatekeeper,
		GeneralRateLimit: generalRL,
		CSRFConfig:       middleware.CSRFConfig{SkipPrefix: "/machine/"},
		Codec:            codec,
		LimiterStore:     store,
		AuthService:      &mockAuthService{},
		AuthConfig:       AuthHandlerConfig{},
		TokenService:     &mockTokenService{},
		ProviderStatus:   &mockProviderStatus{},
		SessionFinder:    &mockSessionFinder{},
		FitbitConfig:     FitbitHandlerConfig{},
		Metrics:          &mockAuthMetrics{},
		FoodLogService:   &mockFoodLogService{},
		APIKeyService:    &mockAPIKeyService{},
		UserDeleter:      &mockUserDeleter{},
	})
}

// withCSRFToken はダブルサブミット検証を通過するCookieとヘッダーを付与する。
func withCSRFToken(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "meallog_csrf", Value: "csrf-token"})
	req.Header.Set("X-CSRF-Token", "csrf-token")
	return req
}

func TestRouter_CSRFTokenEndpoint_IssuesToken(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] == "" {
		t.Error("token should not be empty")
	}

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "meallog_csrf" && c.Value == body["token"] {
			found = true
		}
	}
	if !found {
		t.Error("csrf cookie matching the response token should be set")
	}
}

func TestRouter_OAuthInitiation_RequiresPost(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		path string
	}{
		{"IDプロバイダーログイン開始", "/auth/google/login"},
		{"データプロバイダー連携開始", "/api/fitbit/connect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("GET %s status = %d, want 405", tt.path, w.Code)
			}
		})
	}
}

func TestRouter_LoginInitiation_Post_RedirectsToProvider(t *testing.T) {
	router := newTestRouter(t)

	req := withCSRFToken(httptest.NewRequest(http.MethodPost, "/auth/google/login", nil))
	req.RemoteAddr = "192.0.2.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://identity.example/auth?state=") {
		t.Errorf("Location = %q, want provider authorize URL", loc)
	}
}

func TestRouter_ConnectInitiation_Post_WithoutSession_Returns401(t *testing.T) {
	router := newTestRouter(t)

	req := withCSRFToken(httptest.NewRequest(http.MethodPost, "/api/fitbit/connect", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := decodeErrorCode(t, w); code != "AUTH_MISSING_SESSION" {
		t.Errorf("code = %q, want AUTH_MISSING_SESSION", code)
	}
}
