package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meallog/internal/foodlog"
	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
)

// FoodLogServiceInterface は食事記録ハンドラーが必要とするサービスインターフェース。
type FoodLogServiceInterface interface {
	Create(ctx context.Context, userID string, input foodlog.CreateInput) (*model.FoodLog, error)
	Get(ctx context.Context, userID, logID string) (*model.FoodLog, error)
	ListByDay(ctx context.Context, userID string, day time.Time) ([]*model.FoodLog, error)
	ListByRange(ctx context.Context, userID string, from, to time.Time) ([]*model.FoodLog, error)
	Update(ctx context.Context, userID, logID string, input foodlog.UpdateInput) (*model.FoodLog, error)
	Delete(ctx context.Context, userID, logID string) error
	Sync(ctx context.Context, userID, logID string) (*model.FoodLog, error)
}

// FoodLogHandler は食事記録のHTTPハンドラー。
type FoodLogHandler struct {
	service FoodLogServiceInterface
}

// NewFoodLogHandler はFoodLogHandlerを生成する。
func NewFoodLogHandler(service FoodLogServiceInterface) *FoodLogHandler {
	return &FoodLogHandler{service: service}
}

// createLogRequest は食事記録作成リクエストのボディ。
type createLogRequest struct {
	Name     string     `json:"name"`
	MealType string     `json:"meal_type"`
	Calories float64    `json:"calories"`
	ProteinG float64    `json:"protein_g"`
	FatG     float64    `json:"fat_g"`
	CarbsG   float64    `json:"carbs_g"`
	Notes    string     `json:"notes"`
	EatenAt  *time.Time `json:"eaten_at"`
}

// updateLogRequest は食事記録更新リクエストのボディ。nilのフィールドは変更しない。
type updateLogRequest struct {
	Name     *string    `json:"name"`
	MealType *string    `json:"meal_type"`
	Calories *float64   `json:"calories"`
	ProteinG *float64   `json:"protein_g"`
	FatG     *float64   `json:"fat_g"`
	CarbsG   *float64   `json:"carbs_g"`
	Notes    *string    `json:"notes"`
	EatenAt  *time.Time `json:"eaten_at"`
}

// foodLogResponse は食事記録のAPIレスポンス。
type foodLogResponse struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	MealType string     `json:"meal_type"`
	Calories float64    `json:"calories"`
	ProteinG float64    `json:"protein_g"`
	FatG     float64    `json:"fat_g"`
	CarbsG   float64    `json:"carbs_g"`
	Notes    string     `json:"notes"`
	EatenAt  time.Time  `json:"eaten_at"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// CreateLog は食事記録を作成する。
// POST /api/logs
func (h *FoodLogHandler) CreateLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	var req createLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestError(w)
		return
	}

	input := foodlog.CreateInput{
		Name:     req.Name,
		MealType: req.MealType,
		Calories: req.Calories,
		ProteinG: req.ProteinG,
		FatG:     req.FatG,
		CarbsG:   req.CarbsG,
		Notes:    req.Notes,
	}
	if req.EatenAt != nil {
		input.EatenAt = *req.EatenAt
	}

	log, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toFoodLogResponse(log))
}

// ListLogs は食事記録の一覧を返す。
// GET /api/logs?date=2026-08-28 または ?from=...&to=...（RFC3339）
// どちらも未指定の場合は当日分を返す。
func (h *FoodLogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	var logs []*model.FoodLog

	q := r.URL.Query()
	switch {
	case q.Get("from") != "" && q.Get("to") != "":
		from, errFrom := time.Parse(time.RFC3339, q.Get("from"))
		to, errTo := time.Parse(time.RFC3339, q.Get("to"))
		if errFrom != nil || errTo != nil {
			writeInvalidRequestError(w)
			return
		}
		logs, err = h.service.ListByRange(r.Context(), userID, from, to)
	case q.Get("date") != "":
		day, parseErr := time.Parse("2006-01-02", q.Get("date"))
		if parseErr != nil {
			writeInvalidRequestError(w)
			return
		}
		logs, err = h.service.ListByDay(r.Context(), userID, day)
	default:
		logs, err = h.service.ListByDay(r.Context(), userID, time.Now())
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]foodLogResponse, len(logs))
	for i, log := range logs {
		results[i] = toFoodLogResponse(log)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logs": results,
	})
}

// GetLog は食事記録の詳細を返す。
// GET /api/logs/:id
func (h *FoodLogHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	log, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toFoodLogResponse(log))
}

// UpdateLog は食事記録を部分更新する。
// PATCH /api/logs/:id
func (h *FoodLogHandler) UpdateLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	var req updateLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestError(w)
		return
	}

	log, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), foodlog.UpdateInput{
		Name:     req.Name,
		MealType: req.MealType,
		Calories: req.Calories,
		ProteinG: req.ProteinG,
		FatG:     req.FatG,
		CarbsG:   req.CarbsG,
		Notes:    req.Notes,
		EatenAt:  req.EatenAt,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toFoodLogResponse(log))
}

// DeleteLog は食事記録を削除する。
// DELETE /api/logs/:id
func (h *FoodLogHandler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncLog は食事記録を外部ヘルスプラットフォームへ同期する。
// POST /api/logs/:id/sync
// 保存済みトークンが失効している場合は409（再連携が必要）を返す。
func (h *FoodLogHandler) SyncLog(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	log, err := h.service.Sync(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toFoodLogResponse(log))
}

// --- ヘルパー関数 ---

// toFoodLogResponse はmodel.FoodLogからAPIレスポンスに変換する。
func toFoodLogResponse(log *model.FoodLog) foodLogResponse {
	return foodLogResponse{
		ID:       log.ID,
		Name:     log.Name,
		MealType: string(log.MealType),
		Calories: log.Calories,
		ProteinG: log.ProteinG,
		FatG:     log.FatG,
		CarbsG:   log.CarbsG,
		Notes:    log.Notes,
		EatenAt:  log.EatenAt,
		SyncedAt: log.SyncedAt,
	}
}

// writeInvalidRequestError はリクエストボディ・パラメータ不正の統一レスポンスを書き込む。
func writeInvalidRequestError(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストの解析に失敗しました。",
		Category: "validation",
		Action:   "リクエスト形式を確認してください。",
	})
}
