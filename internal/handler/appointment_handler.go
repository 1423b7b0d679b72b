package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/apptwatch/internal/middleware"
	"github.com/hitoshi/apptwatch/internal/model"
)

// StatsServiceInterface はユーザー単位の監視統計を提供する。
type StatsServiceInterface interface {
	GetAppointmentStats(ctx context.Context, userID string) (*model.AppointmentStats, error)
}

// UserFinder はユーザーを取得する。見つからない場合はnilを返す。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// AppointmentUpdater は予約枠の状態を更新する。
type AppointmentUpdater interface {
	// MarkUnavailable は存在しない場合 model.ErrAppointmentNotFound を返す。
	MarkUnavailable(ctx context.Context, id string) error
}

// AppointmentHandler は統計と予約枠状態のHTTPハンドラー。
type AppointmentHandler struct {
	stats        StatsServiceInterface
	users        UserFinder
	appointments AppointmentUpdater
	logger       *slog.Logger
}

// NewAppointmentHandler はAppointmentHandlerを生成する。
func NewAppointmentHandler(stats StatsServiceInterface, users UserFinder, appointments AppointmentUpdater, logger *slog.Logger) *AppointmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppointmentHandler{
		stats:        stats,
		users:        users,
		appointments: appointments,
		logger:       logger,
	}
}

// GetStats はユーザーの監視統計を返す。
// GET /api/users/{id}/stats
func (h *AppointmentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	stats, err := h.stats.GetAppointmentStats(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}

// MarkUnavailable は予約枠を利用不可にする。以後の再送対象からも外れる。
// POST /api/appointments/{id}/unavailable
func (h *AppointmentHandler) MarkUnavailable(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "id")

	if err := h.appointments.MarkUnavailable(r.Context(), appointmentID); err != nil {
		if errors.Is(err, model.ErrAppointmentNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAppointmentNotFoundError(appointmentID))
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
