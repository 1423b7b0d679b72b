package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/security"
)

// EngineConfig はスクレイプの待機時間とプリフライト設定。
type EngineConfig struct {
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	SettleTimeout     time.Duration
	// Preflight がtrueの場合、ページを開く前にSSRF防止クライアントでHEADを送る。
	Preflight bool
}

// DefaultEngineConfig はデフォルトの設定を返す。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   3 * time.Second,
		SettleTimeout:     15 * time.Second,
		Preflight:         true,
	}
}

// Engine は1サイト分のチェックを実行する。
// ページはチェックごとに開き、どの経路で終了しても閉じる。
type Engine struct {
	browser   Browser
	guard     security.URLGuard
	limiter   *HostLimiter
	extractor *Extractor
	config    EngineConfig
	logger    *slog.Logger

	userAgent func() string
}

// NewEngine はEngineを生成する。limiterがnilの場合はホストごとの制限を行わない。
func NewEngine(
	browser Browser,
	guard security.URLGuard,
	limiter *HostLimiter,
	extractor *Extractor,
	config EngineConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		browser:   browser,
		guard:     guard,
		limiter:   limiter,
		extractor: extractor,
		config:    config,
		logger:    logger,
		userAgent: RandomUserAgent,
	}
}

// CheckAppointments はサイトを開き、必要ならログインして予約可能な枠を抽出する。
// 遷移の失敗や未対応のサイト種別はSuccess=falseで返す。枠が0件でも成功扱い。
func (e *Engine) CheckAppointments(ctx context.Context, site *model.MonitoredSite, creds model.Credentials) model.ScrapeResult {
	start := time.Now()
	logger := e.logger.With(
		slog.String("site_id", site.ID),
		slog.String("site_type", string(site.SiteType)),
	)

	strategy, ok := StrategyFor(site.SiteType)
	if !ok {
		return failure(fmt.Errorf("%w: %s", model.ErrUnsupportedSiteType, site.SiteType))
	}

	if err := e.guard.ValidateURL(site.URL); err != nil {
		return failure(err)
	}
	if e.config.Preflight {
		if err := e.guard.Preflight(ctx, site.URL); err != nil {
			return failure(fmt.Errorf("%w: %v", model.ErrNavigation, err))
		}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, site.URL); err != nil {
			return failure(err)
		}
	}

	page, err := e.browser.NewPage(ctx, e.userAgent())
	if err != nil {
		return failure(err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Warn("ページのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}()

	if err := page.Navigate(site.URL, e.config.NavigationTimeout); err != nil {
		return failure(fmt.Errorf("%w: %v", model.ErrNavigation, err))
	}

	outcome := strategy.Login(page, creds, LoginTimeouts{
		Selector: e.config.SelectorTimeout,
		Settle:   e.config.SettleTimeout,
	}, logger)

	content, err := page.Content()
	if err != nil {
		return failure(fmt.Errorf("ページ内容の取得に失敗しました: %w", err))
	}
	slots, err := e.extractor.Extract(content)
	if err != nil {
		return failure(err)
	}

	logger.Info("予約枠を抽出しました",
		slog.String("login", string(outcome)),
		slog.Int("appointments_found", len(slots)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return model.ScrapeResult{
		Success:           true,
		Appointments:      slots,
		AppointmentsFound: len(slots),
		Message:           fmt.Sprintf("%d件の予約枠が見つかりました", len(slots)),
	}
}

func failure(err error) model.ScrapeResult {
	return model.ScrapeResult{
		Success:      false,
		Appointments: []model.Slot{},
		Message:      "サイトのチェックに失敗しました",
		Error:        err.Error(),
	}
}
