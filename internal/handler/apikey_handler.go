package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
)

// APIKeyServiceInterface はAPIキーハンドラーが必要とするサービスインターフェース。
type APIKeyServiceInterface interface {
	Create(ctx context.Context, userID, name string) (*model.APIKey, string, error)
	Revoke(ctx context.Context, userID, keyID string) error
	List(ctx context.Context, userID string) ([]*model.APIKey, error)
}

// APIKeyHandler はAPIキー管理のHTTPハンドラー。
type APIKeyHandler struct {
	service APIKeyServiceInterface
}

// NewAPIKeyHandler はAPIKeyHandlerを生成する。
func NewAPIKeyHandler(service APIKeyServiceInterface) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// createKeyRequest はAPIキー発行リクエストのボディ。
type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse はAPIキー発行のレスポンス。
// Keyフィールドの平文はこのレスポンスでしか取得できない。
type createKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// keySummaryResponse はAPIキー一覧のレスポンス。平文・ハッシュは含まない。
type keySummaryResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// CreateKey は新しいAPIキーを発行する。
// POST /api/keys
func (h *APIKeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeInvalidRequestError(w)
		return
	}

	key, plaintext, err := h.service.Create(r.Context(), userID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		CreatedAt: key.CreatedAt,
	})
}

// ListKeys はユーザーのAPIキー一覧を返す。
// GET /api/keys
func (h *APIKeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	keys, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]keySummaryResponse, len(keys))
	for i, key := range keys {
		results[i] = keySummaryResponse{
			ID:        key.ID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			RevokedAt: key.RevokedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": results,
	})
}

// RevokeKey はAPIキーを失効させる。冪等なため常に204を返す。
// DELETE /api/keys/:id
func (h *APIKeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	if err := h.service.Revoke(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
