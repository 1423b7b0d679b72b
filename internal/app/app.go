package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/apptwatch/internal/appointment"
	"github.com/hitoshi/apptwatch/internal/config"
	"github.com/hitoshi/apptwatch/internal/database"
	"github.com/hitoshi/apptwatch/internal/handler"
	"github.com/hitoshi/apptwatch/internal/logger"
	"github.com/hitoshi/apptwatch/internal/metrics"
	"github.com/hitoshi/apptwatch/internal/middleware"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/notify"
	"github.com/hitoshi/apptwatch/internal/repository"
	"github.com/hitoshi/apptwatch/internal/scrape"
	"github.com/hitoshi/apptwatch/internal/security"
	"github.com/hitoshi/apptwatch/internal/worker/cleanup"
	"github.com/hitoshi/apptwatch/internal/worker/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const (
	// apiWriteTimeout はブラウザを使うチェックがレスポンスを返すまでの上限。
	apiWriteTimeout  = 5 * time.Minute
	preflightTimeout = 10 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// LOG_FILEが設定されている場合はローテーション付きのファイルにも出力する。
// 戻り値のCloserはログファイルを閉じるためのもので、終了時に閉じること。
func Init(w io.Writer) (*config.Config, io.Closer, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	closer := logger.SetupDefaultWithFile(w, cfg.LogFile, cfg.LogRetentionDays)
	return cfg, closer, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, closer, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closer.Close()

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCheckNow:
		return runCheckNow(cfg)
	case CommandAddSite:
		return runAddSite(w, cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// components はserve、worker、check-nowで共有する依存関係。
type components struct {
	db       *sql.DB
	registry *prometheus.Registry
	session  *scrape.Session

	sites        *repository.PostgresSiteRepo
	users        *repository.PostgresUserRepo
	appointments *repository.PostgresAppointmentRepo

	channel   notify.Channel
	notifier  *notify.Notifier
	stats     *appointment.StatsService
	checker   *monitor.Checker
	scheduler *monitor.Scheduler
	cleanup   *cleanup.CleanupJob
	collector *metrics.Collector
}

// buildComponents はDB接続からスケジューラまでを組み立てる。
// ブラウザは最初のチェックで起動する。
func buildComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("データベースに接続しました")

	vault, err := security.NewCredentialVault(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	c := &components{
		db:           db,
		registry:     prometheus.NewRegistry(),
		sites:        repository.NewPostgresSiteRepo(db),
		users:        repository.NewPostgresUserRepo(db),
		appointments: repository.NewPostgresAppointmentRepo(db),
	}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.collector = metrics.NewCollector(c.registry)

	// 通知チャネル: トークン未設定時はログ出力のみ
	if cfg.DiscordToken != "" {
		c.channel = notify.NewDiscordChannel(cfg.DiscordToken)
	} else {
		log.Warn("DISCORD_TOKENが未設定のため通知はログ出力のみになります")
		c.channel = notify.NewLogChannel(log)
	}
	c.notifier = notify.NewNotifier(c.channel, c.appointments, c.collector, log)

	// スクレイプエンジン
	c.session = scrape.NewSession(scrape.SessionOptions{
		ExecutablePath: cfg.BrowserExecutablePath,
		InstallDriver:  true,
	}, log)
	engine := scrape.NewEngine(
		c.session,
		security.NewSSRFGuard(preflightTimeout),
		scrape.NewHostLimiter(cfg.ScrapeHostRPS, 1),
		scrape.NewExtractor(security.NewTextSanitizer()),
		scrape.EngineConfig{
			NavigationTimeout: cfg.NavigationTimeout,
			SelectorTimeout:   cfg.SelectorTimeout,
			SettleTimeout:     cfg.SettleTimeout,
			Preflight:         cfg.ScrapePreflight,
		},
		log,
	)

	reconciler := appointment.NewReconciler(
		c.appointments, c.users,
		appointment.NewDateNormalizer(log, c.collector),
		c.notifier, log,
	)
	c.checker = monitor.NewChecker(monitor.NewRegistry(), c.sites, vault, engine, reconciler, c.collector, log)
	c.scheduler = monitor.NewScheduler(
		c.sites, c.checker,
		notify.NewStatusReporter(c.channel, cfg.StatusChannelID, log),
		log, cfg.MonitorMaxConcurrent,
	)
	c.stats = appointment.NewStatsService(c.sites, c.appointments)

	c.cleanup = cleanup.NewCleanupJob(db, c.collector, log)
	c.cleanup.RetentionDays = cfg.RetentionDays

	return c, nil
}

// Close はブラウザとDB接続を閉じる。
func (c *components) Close() {
	if err := c.session.Close(); err != nil {
		slog.Warn("ブラウザの停止に失敗しました", slog.String("error", err.Error()))
	}
	c.db.Close()
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.APIToken == "" {
		log.Warn("API_TOKENが未設定のため /api 以下はすべて401を返します")
	}

	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// RATE_LIMIT_GENERALはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = perMinute(cfg.RateLimitGeneral)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg, log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		APIToken:       cfg.APIToken,
		RateLimiter:    rateLimiter,
		Logger:         log,
		HealthChecker:  c.db,
		MetricsHandler: metrics.Handler(c.registry),
		BatchRunner:    c.scheduler,
		SiteChecker:    c.checker,
		Sites:          c.sites,
		Sweeper:        c.cleanup,
		Stats:          c.stats,
		Users:          c.users,
		Appointments:   c.appointments,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: apiWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("APIサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("APIサーバーの待ち受けに失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	log.Info("APIサーバーを停止しています")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("APIサーバーを停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// 定期バッチ、通知の再送、定期サマリー、クリーンアップを実行し、
// メトリクスをMETRICS_PORTで公開する。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("ワーカーを停止しています")
		cancel()
	}()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(c.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("メトリクスサーバーの待ち受けに失敗しました", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	redeliverer := notify.NewRedeliverer(c.appointments, c.sites, c.users, c.notifier, notify.DefaultRedeliveryGrace, log)
	go redeliverer.Start(ctx, cfg.RedeliveryInterval)

	summaries := notify.NewSummaryJob(c.users, c.appointments, c.stats, c.channel, log)
	go summaries.Start(ctx, model.SummaryDaily)
	go summaries.Start(ctx, model.SummaryWeekly)

	go func() {
		// 起動直後に1回実行する。エラーはRun内でログ出力済み
		_, _ = c.cleanup.Run(ctx, time.Now())
		c.cleanup.Start(ctx, cfg.CleanupInterval)
	}()

	log.Info("ワーカーを起動します",
		slog.Duration("check_interval", cfg.CheckInterval),
		slog.Int("max_concurrent", cfg.MonitorMaxConcurrent),
		slog.Int("retention_days", cfg.RetentionDays),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	c.scheduler.Start(ctx, cfg.CheckInterval)

	log.Info("ワーカーを停止しました")
	return nil
}

// runCheckNow はバッチを1回だけ実行して終了する。
// 運用時の手動確認やcronからの起動を想定している。
func runCheckNow(cfg *config.Config) error {
	log := slog.Default()
	ctx := context.Background()

	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	summary, err := c.scheduler.RunBatch(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	log.Info("単発チェックが完了しました",
		slog.Int("total_sites", summary.TotalSites),
		slog.Int("success_count", summary.SuccessCount),
		slog.Int("error_count", summary.ErrorCount),
		slog.Int("skipped_count", summary.SkippedCount),
		slog.Int("appointments_found", summary.AppointmentsFound),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// コンテナのヘルスチェック用サブコマンドで、/health にHTTPリクエストを送る。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// perMinute はreq/minをreq/secのrate.Limitに変換する。
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
