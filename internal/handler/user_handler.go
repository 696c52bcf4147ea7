package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
	"github.com/hitoshi/meallog/internal/session"
)

// UserDeleter は退会処理に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	deleter UserDeleter
	codec   *session.Codec
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(deleter UserDeleter, codec *session.Codec) *UserHandler {
	return &UserHandler{
		deleter: deleter,
		codec:   codec,
	}
}

// Withdraw は退会処理を実行する。
// DELETE /api/users/me
// セッション・プロバイダー認可情報・APIキー・食事記録はCASCADE削除される。
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthMissingSessionError())
		return
	}

	if err := h.deleter.DeleteByID(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("user withdrawn", slog.String("user_id", userID))

	// 退会後はCookieもクリアする
	h.codec.Destroy(w)
	w.WriteHeader(http.StatusNoContent)
}
