package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meallog/internal/foodlog"
	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
)

type mockFoodLogService struct {
	createFn      func(ctx context.Context, userID string, input foodlog.CreateInput) (*model.FoodLog, error)
	getFn         func(ctx context.Context, userID, logID string) (*model.FoodLog, error)
	listByDayFn   func(ctx context.Context, userID string, day time.Time) ([]*model.FoodLog, error)
	listByRangeFn func(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error)
	updateFn      func(ctx context.Context, userID, logID string, input foodlog.UpdateInput) (*model.FoodLog, error)
	deleteFn      func(ctx context.Context, userID, logID string) error
	syncFn        func(ctx context.Context, userID, logID string) (*model.FoodLog, error)
}

func (m *mockFoodLogService) Create(ctx context.Context, userID string, input foodlog.CreateInput) (*model.FoodLog, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return nil, model.NewLogNotFoundError("")
}

func (m *mockFoodLogService) Get(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, logID)
	}
	return nil, model.NewLogNotFoundError(logID)
}

func (m *mockFoodLogService) ListByDay(ctx context.Context, userID string, day time.Time) ([]*model.FoodLog, error) {
	if m.listByDayFn != nil {
		return m.listByDayFn(ctx, userID, day)
	}
	return nil, nil
}

func (m *mockFoodLogService) ListByRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
	if m.listByRangeFn != nil {
		return m.listByRangeFn(ctx, userID, from, to)
	}
	return nil, nil
}

func (m *mockFoodLogService) Update(ctx context.Context, userID, logID string, input foodlog.UpdateInput) (*model.FoodLog, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, logID, input)
	}
	return nil, model.NewLogNotFoundError(logID)
}

func (m *mockFoodLogService) Delete(ctx context.Context, userID, logID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, logID)
	}
	return nil
}

func (m *mockFoodLogService) Sync(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, userID, logID)
	}
	return nil, model.NewLogNotFoundError(logID)
}

// newLogRouter はURLパラメータの解決込みでハンドラーを呼べるルーターを組む。
func newLogRouter(h *FoodLogHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/logs", h.CreateLog)
	r.Get("/api/logs", h.ListLogs)
	r.Get("/api/logs/{id}", h.GetLog)
	r.Patch("/api/logs/{id}", h.UpdateLog)
	r.Delete("/api/logs/{id}", h.DeleteLog)
	r.Post("/api/logs/{id}/sync", h.SyncLog)
	return r
}

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func TestCreateLog_Valid_Returns201(t *testing.T) {
	svc := &mockFoodLogService{
		createFn: func(ctx context.Context, userID string, input foodlog.CreateInput) (*model.FoodLog, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			if input.MealType != "lunch" {
				t.Errorf("MealType = %q, want lunch", input.MealType)
			}
			return &model.FoodLog{
				ID:       "log-1",
				Name:     input.Name,
				MealType: model.MealType(input.MealType),
				Calories: input.Calories,
			}, nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/logs",
		`{"name":"サラダ","meal_type":"lunch","calories":350}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}

	var body foodLogResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.ID != "log-1" || body.Name != "サラダ" || body.Calories != 350 {
		t.Errorf("unexpected response: %+v", body)
	}
}

func TestCreateLog_InvalidJSON_Returns400(t *testing.T) {
	router := newLogRouter(NewFoodLogHandler(&mockFoodLogService{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/logs", `{not json`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if code := decodeErrorCode(t, w); code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", code)
	}
}

func TestCreateLog_InvalidMealType_Returns400(t *testing.T) {
	svc := &mockFoodLogService{
		createFn: func(ctx context.Context, userID string, input foodlog.CreateInput) (*model.FoodLog, error) {
			return nil, model.NewInvalidMealTypeError(input.MealType)
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/logs",
		`{"name":"x","meal_type":"brunch"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidMealType {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidMealType)
	}
}

func TestCreateLog_NoUserInContext_Returns401(t *testing.T) {
	router := newLogRouter(NewFoodLogHandler(&mockFoodLogService{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/logs", strings.NewReader(`{}`)))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListLogs_DateParam_UsesListByDay(t *testing.T) {
	var gotDay time.Time
	svc := &mockFoodLogService{
		listByDayFn: func(ctx context.Context, userID string, day time.Time) ([]*model.FoodLog, error) {
			gotDay = day
			return []*model.FoodLog{{ID: "log-1", MealType: model.MealLunch}}, nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/logs?date=2026-08-28", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotDay.Year() != 2026 || gotDay.Month() != time.August || gotDay.Day() != 28 {
		t.Errorf("day = %v, want 2026-08-28", gotDay)
	}

	var body struct {
		Logs []foodLogResponse `json:"logs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].ID != "log-1" {
		t.Errorf("unexpected logs: %+v", body.Logs)
	}
}

func TestListLogs_RangeParams_UsesListByRange(t *testing.T) {
	var gotFrom, gotTo time.Time
	svc := &mockFoodLogService{
		listByRangeFn: func(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error) {
			gotFrom, gotTo = from, to
			return nil, nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet,
		"/api/logs?from=2026-08-01T00:00:00Z&to=2026-08-28T00:00:00Z", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotFrom.IsZero() || gotTo.IsZero() {
		t.Error("range query should delegate to ListByRange")
	}
}

func TestListLogs_BadDate_Returns400(t *testing.T) {
	router := newLogRouter(NewFoodLogHandler(&mockFoodLogService{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/logs?date=28-08-2026", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetLog_NotFound_Returns404(t *testing.T) {
	router := newLogRouter(NewFoodLogHandler(&mockFoodLogService{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/logs/no-such-log", ""))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeLogNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeLogNotFound)
	}
}

func TestUpdateLog_PartialBody_PassesPointers(t *testing.T) {
	var gotInput foodlog.UpdateInput
	svc := &mockFoodLogService{
		updateFn: func(ctx context.Context, userID, logID string, input foodlog.UpdateInput) (*model.FoodLog, error) {
			gotInput = input
			return &model.FoodLog{ID: logID, MealType: model.MealLunch, Calories: 400}, nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPatch, "/api/logs/log-1", `{"calories":400}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotInput.Calories == nil || *gotInput.Calories != 400 {
		t.Errorf("Calories = %v, want pointer to 400", gotInput.Calories)
	}
	// ボディに載っていないフィールドはnilのまま
	if gotInput.Name != nil || gotInput.MealType != nil || gotInput.Notes != nil {
		t.Errorf("absent fields should stay nil, got %+v", gotInput)
	}
}

func TestDeleteLog_Returns204(t *testing.T) {
	var deletedID string
	svc := &mockFoodLogService{
		deleteFn: func(ctx context.Context, userID, logID string) error {
			deletedID = logID
			return nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodDelete, "/api/logs/log-1", ""))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deletedID != "log-1" {
		t.Errorf("deleted log = %q, want log-1", deletedID)
	}
}

func TestSyncLog_Success_ReturnsSyncedLog(t *testing.T) {
	syncedAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	svc := &mockFoodLogService{
		syncFn: func(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
			return &model.FoodLog{ID: logID, MealType: model.MealLunch, SyncedAt: &syncedAt}, nil
		},
	}
	router := newLogRouter(NewFoodLogHandler(svc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/logs/log-1/sync", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body foodLogResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.SyncedAt == nil || !body.SyncedAt.Equal(syncedAt) {
		t.Errorf("SyncedAt = %v, want %v", body.SyncedAt, syncedAt)
	}
}

func TestSyncLog_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"未連携は409", model.NewCredentialsMissingError(), http.StatusConflict},
		{"失効トークンは409", model.NewTokenInvalidError(), http.StatusConflict},
		{"スコープ不足は409", model.NewScopeMissingError(), http.StatusConflict},
		{"上流障害は502", model.NewUpstreamFailureError(), http.StatusBadGateway},
		{"記録なしは404", model.NewLogNotFoundError("log-1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockFoodLogService{
				syncFn: func(ctx context.Context, userID, logID string) (*model.FoodLog, error) {
					return nil, tt.err
				},
			}
			router := newLogRouter(NewFoodLogHandler(svc))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/logs/log-1/sync", ""))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
