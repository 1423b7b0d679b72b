package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/apptwatch/internal/metrics"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
	"github.com/hitoshi/apptwatch/internal/security"
)

// Scraper はサイトを開いて予約可能な枠を抽出する。
type Scraper interface {
	CheckAppointments(ctx context.Context, site *model.MonitoredSite, creds model.Credentials) model.ScrapeResult
}

// SlotReconciler は抽出した枠を保存し、新規分を返す。
type SlotReconciler interface {
	Reconcile(ctx context.Context, site *model.MonitoredSite, slots []model.Slot, now time.Time) ([]*model.Appointment, error)
}

// チェック失敗の理由。メトリクスのラベルに使う。
const (
	reasonInvalidSite = "invalid_site"
	reasonCredentials = "credentials"
	reasonScrape      = "scrape"
	reasonPersistence = "persistence"
)

// Checker は1サイト分のチェックを実行する。
type Checker struct {
	registry   *Registry
	sites      repository.SiteRepository
	vault      security.CredentialCipher
	scraper    Scraper
	reconciler SlotReconciler
	validate   *validator.Validate
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewChecker はCheckerを生成する。
func NewChecker(
	registry *Registry,
	sites repository.SiteRepository,
	vault security.CredentialCipher,
	scraper Scraper,
	reconciler SlotReconciler,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		registry:   registry,
		sites:      sites,
		vault:      vault,
		scraper:    scraper,
		reconciler: reconciler,
		validate:   validator.New(),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckSite はサイトをチェックし、新規の予約枠を保存・通知する。
// 同じサイトのチェックが実行中の場合は永続化に触れずにスキップ結果を返す。
// 失敗はすべて結果に閉じ込め、呼び出し側には伝播しない。
func (c *Checker) CheckSite(ctx context.Context, site *model.MonitoredSite) model.CheckResult {
	release, ok := c.registry.TryAcquire(site.ID)
	if !ok {
		c.metrics.RecordCheckSkipped()
		c.logger.Info("サイトは既にチェック中のためスキップします", slog.String("site_id", site.ID))
		return model.CheckResult{
			SiteID:       site.ID,
			Skipped:      true,
			Appointments: []model.Slot{},
			Message:      model.CheckInProgressMessage,
		}
	}
	defer release()

	start := time.Now()
	logger := c.logger.With(
		slog.String("site_id", site.ID),
		slog.String("site_type", string(site.SiteType)),
	)

	scrape, reason := c.scrape(ctx, site)

	checkedAt := c.now()
	if err := c.sites.UpdateLastChecked(ctx, site.ID, checkedAt); err != nil {
		logger.Error("最終チェック日時の更新に失敗しました", slog.String("error", err.Error()))
		return c.fail(site, reasonPersistence, start, fmt.Errorf("最終チェック日時の更新に失敗しました: %w", err))
	}

	if !scrape.Success {
		logger.Warn("サイトのチェックに失敗しました", slog.String("error", scrape.Error))
		c.metrics.RecordCheckFailure(string(site.SiteType), reason)
		c.metrics.RecordCheckLatency(time.Since(start))
		return model.CheckResult{
			SiteID:       site.ID,
			Appointments: []model.Slot{},
			Message:      scrape.Message,
			Error:        scrape.Error,
		}
	}

	result := model.CheckResult{
		SiteID:            site.ID,
		Success:           true,
		Appointments:      scrape.Appointments,
		AppointmentsFound: len(scrape.Appointments),
		Message:           "予約枠は見つかりませんでした",
	}

	if len(scrape.Appointments) > 0 {
		created, err := c.reconciler.Reconcile(ctx, site, scrape.Appointments, checkedAt)
		if err != nil {
			logger.Error("予約枠の保存に失敗しました",
				slog.Int("saved", len(created)),
				slog.String("error", err.Error()),
			)
			return c.fail(site, reasonPersistence, start, err)
		}
		result.NewAppointments = len(created)
		result.Message = fmt.Sprintf("%d件の予約枠が見つかりました（新規%d件）", result.AppointmentsFound, result.NewAppointments)
	}

	c.metrics.RecordCheckSuccess(string(site.SiteType))
	c.metrics.RecordSlotsFound(result.AppointmentsFound)
	c.metrics.RecordNewAppointments(result.NewAppointments)
	c.metrics.RecordCheckLatency(time.Since(start))

	logger.Info("サイトのチェックが完了しました",
		slog.Int("appointments_found", result.AppointmentsFound),
		slog.Int("new_appointments", result.NewAppointments),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result
}

// scrape はサイト設定の検証と認証情報の復号を行ってからスクレイプする。
// 失敗時は失敗理由のラベルも返す。
func (c *Checker) scrape(ctx context.Context, site *model.MonitoredSite) (model.ScrapeResult, string) {
	if err := c.validate.Struct(site); err != nil {
		return model.ScrapeResult{
			Message: "サイト設定が不正です",
			Error:   err.Error(),
		}, reasonInvalidSite
	}

	creds, err := c.vault.Decrypt(site.EncryptedCredentials)
	if err != nil {
		return model.ScrapeResult{
			Message: "認証情報を復号できません",
			Error:   model.ErrDecryption.Error(),
		}, reasonCredentials
	}

	return c.scraper.CheckAppointments(ctx, site, creds), reasonScrape
}

func (c *Checker) fail(site *model.MonitoredSite, reason string, start time.Time, err error) model.CheckResult {
	c.metrics.RecordCheckFailure(string(site.SiteType), reason)
	c.metrics.RecordCheckLatency(time.Since(start))
	return model.CheckResult{
		SiteID:       site.ID,
		Appointments: []model.Slot{},
		Message:      "サイトのチェックに失敗しました",
		Error:        err.Error(),
	}
}
