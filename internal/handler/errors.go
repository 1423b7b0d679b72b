package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/apptwatch/internal/middleware"
	"github.com/hitoshi/apptwatch/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外は内部エラーとして扱い、詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	logger.Error("内部エラーが発生しました", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSiteNotFound, model.ErrCodeAppointmentNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeCheckFailed:
		return http.StatusBadGateway
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
