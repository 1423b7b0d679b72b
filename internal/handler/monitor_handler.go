package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/apptwatch/internal/middleware"
	"github.com/hitoshi/apptwatch/internal/model"
)

// BatchRunner はチェック対象サイトを一括チェックする。
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time) (model.BatchSummary, error)
}

// SiteChecker は単一サイトをチェックする。
type SiteChecker interface {
	CheckSite(ctx context.Context, site *model.MonitoredSite) model.CheckResult
}

// SiteFinder は監視サイトを取得する。見つからない場合はnilを返す。
type SiteFinder interface {
	FindByID(ctx context.Context, id string) (*model.MonitoredSite, error)
}

// AppointmentSweeper は保持期間を過ぎた予約枠を削除する。
type AppointmentSweeper interface {
	Run(ctx context.Context, now time.Time) (int64, error)
}

// MonitorHandler はチェック実行とクリーンアップのHTTPハンドラー。
type MonitorHandler struct {
	batch   BatchRunner
	checker SiteChecker
	sites   SiteFinder
	sweeper AppointmentSweeper
	logger  *slog.Logger
	now     func() time.Time
}

// NewMonitorHandler はMonitorHandlerを生成する。
func NewMonitorHandler(batch BatchRunner, checker SiteChecker, sites SiteFinder, sweeper AppointmentSweeper, logger *slog.Logger) *MonitorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorHandler{
		batch:   batch,
		checker: checker,
		sites:   sites,
		sweeper: sweeper,
		logger:  logger,
		now:     time.Now,
	}
}

// cleanupResponse はクリーンアップ結果のレスポンス。
type cleanupResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// RunBatch はバッチチェックを実行して集計を返す。
// POST /api/batch
func (h *MonitorHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.batch.RunBatch(r.Context(), h.now())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// CheckSite は指定サイトを即時チェックする。
// 実行中のチェックがある場合はスキップ結果を200で返す。
// POST /api/sites/{id}/check
func (h *MonitorHandler) CheckSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")

	site, err := h.sites.FindByID(r.Context(), siteID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if site == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteID))
		return
	}

	result := h.checker.CheckSite(r.Context(), site)
	if !result.Success && !result.Skipped {
		// 失敗の詳細はチェック処理側でログ出力済み
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewCheckFailedError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// CleanupAppointments は古い予約枠の削除を即時実行する。
// POST /api/cleanup
func (h *MonitorHandler) CleanupAppointments(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.sweeper.Run(r.Context(), h.now())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cleanupResponse{DeletedCount: deleted})
}
