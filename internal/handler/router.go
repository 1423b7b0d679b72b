package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/apptwatch/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken    string
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// チェック実行
	BatchRunner BatchRunner
	SiteChecker SiteChecker
	Sites       SiteFinder
	Sweeper     AppointmentSweeper

	// 統計・予約枠
	Stats        StatsServiceInterface
	Users        UserFinder
	Appointments AppointmentUpdater
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → TokenAuth → RateLimit(General) → RateLimit(Check)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	monitorHandler := NewMonitorHandler(deps.BatchRunner, deps.SiteChecker, deps.Sites, deps.Sweeper, logger)
	apptHandler := NewAppointmentHandler(deps.Stats, deps.Users, deps.Appointments, logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.APIToken, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ブラウザを起動するエンドポイントはチェック専用のレート制限を追加
		r.With(deps.RateLimiter.CheckMiddleware()).Post("/api/batch", monitorHandler.RunBatch)
		r.With(deps.RateLimiter.CheckMiddleware()).Post("/api/sites/{id}/check", monitorHandler.CheckSite)

		r.Post("/api/cleanup", monitorHandler.CleanupAppointments)
		r.Get("/api/users/{id}/stats", apptHandler.GetStats)
		r.Post("/api/appointments/{id}/unavailable", apptHandler.MarkUnavailable)
	})

	return r
}

// healthHandler はDB疎通を確認し、結果をJSONで返す。
func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				logger.Error("ヘルスチェックでDB接続に失敗しました", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
