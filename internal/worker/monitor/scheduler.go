package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
)

// MinRecheckWindow は同じサイトを再チェックするまでの最短間隔。
// サイトごとのチェック間隔とは独立した固定値。
const MinRecheckWindow = 5 * time.Minute

// DefaultMaxConcurrency は同時に実行するサイトチェック数のデフォルト値。
const DefaultMaxConcurrency = 5

// DueCutoff はチェック対象とする最終チェック日時の上限を返す。
func DueCutoff(now time.Time) time.Time {
	return now.Add(-MinRecheckWindow)
}

// SiteChecker は1サイト分のチェックを実行する。
type SiteChecker interface {
	CheckSite(ctx context.Context, site *model.MonitoredSite) model.CheckResult
}

// BatchReporter はバッチの集計結果を外部に報告する。
type BatchReporter interface {
	ReportBatch(ctx context.Context, summary model.BatchSummary, now time.Time)
}

// Scheduler はチェック対象サイトを取得し、上限付きの並列数でチェックを実行する。
type Scheduler struct {
	sites          repository.SiteRepository
	checker        SiteChecker
	reporter       BatchReporter
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。
// maxConcurrencyが0以下の場合はDefaultMaxConcurrencyを使う。reporterはnilでもよい。
func NewScheduler(
	sites repository.SiteRepository,
	checker SiteChecker,
	reporter BatchReporter,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sites:          sites,
		checker:        checker,
		reporter:       reporter,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は起動直後に1回、その後interval間隔でバッチを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("監視スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runAndReport(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("監視スケジューラを停止しました")
			return
		case now := <-ticker.C:
			s.runAndReport(ctx, now)
		}
	}
}

func (s *Scheduler) runAndReport(ctx context.Context, now time.Time) {
	summary, err := s.RunBatch(ctx, now)
	if err != nil {
		s.logger.Error("監視バッチの実行に失敗しました", slog.String("error", err.Error()))
		return
	}
	if s.reporter != nil && summary.TotalSites > 0 {
		s.reporter.ReportBatch(ctx, summary, now)
	}
}

// RunBatch はチェック対象の全サイトを並列にチェックし、集計結果を返す。
// サイト単位の失敗やパニックは集計に数えるだけで、対象サイトの取得失敗のみエラーを返す。
func (s *Scheduler) RunBatch(ctx context.Context, now time.Time) (model.BatchSummary, error) {
	start := time.Now()

	sites, err := s.sites.ListDueForCheck(ctx, DueCutoff(now))
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("チェック対象サイトの取得に失敗しました: %w", err)
	}

	summary := model.BatchSummary{TotalSites: len(sites)}
	if len(sites) == 0 {
		s.logger.Info("チェック対象のサイトはありません")
		return summary, nil
	}

	s.logger.Info("監視バッチを開始します", slog.Int("site_count", len(sites)))

	p := pool.NewWithResults[model.CheckResult]().WithMaxGoroutines(s.maxConcurrency)
	for _, site := range sites {
		p.Go(func() model.CheckResult {
			return s.checkIsolated(ctx, site)
		})
	}

	for _, result := range p.Wait() {
		switch {
		case result.Skipped:
			summary.SkippedCount++
		case result.Success:
			summary.SuccessCount++
			summary.AppointmentsFound += result.AppointmentsFound
		default:
			summary.ErrorCount++
		}
	}

	s.logger.Info("監視バッチが完了しました",
		slog.Int("total_sites", summary.TotalSites),
		slog.Int("success_count", summary.SuccessCount),
		slog.Int("error_count", summary.ErrorCount),
		slog.Int("skipped_count", summary.SkippedCount),
		slog.Int("appointments_found", summary.AppointmentsFound),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return summary, nil
}

// checkIsolated はチェック中のパニックを失敗結果に変換する。
func (s *Scheduler) checkIsolated(ctx context.Context, site *model.MonitoredSite) (result model.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("サイトチェック中にパニックが発生しました",
				slog.String("site_id", site.ID),
				slog.Any("panic", r),
			)
			result = model.CheckResult{
				SiteID:       site.ID,
				Appointments: []model.Slot{},
				Message:      "サイトのチェックに失敗しました",
				Error:        fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return s.checker.CheckSite(ctx, site)
}
