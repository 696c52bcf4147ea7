package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/meallog/internal/middleware"
	"github.com/hitoshi/meallog/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthMissingSession:
		return http.StatusUnauthorized
	case model.ErrCodeEmailNotAllowed:
		return http.StatusForbidden
	case model.ErrCodeStateMismatch, model.ErrCodeInvalidMealType,
		model.ErrCodeInvalidFormat, model.ErrCodeTampered:
		return http.StatusBadRequest
	case model.ErrCodeCredentialsMissing, model.ErrCodeTokenInvalid, model.ErrCodeScopeMissing:
		// 再連携が必要な状態。401と区別するため409を返す
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeUpstreamFailure:
		return http.StatusBadGateway
	case model.ErrCodeLogNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
