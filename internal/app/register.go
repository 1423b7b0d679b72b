package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/hitoshi/apptwatch/internal/config"
	"github.com/hitoshi/apptwatch/internal/database"
	"github.com/hitoshi/apptwatch/internal/model"
	"github.com/hitoshi/apptwatch/internal/repository"
	"github.com/hitoshi/apptwatch/internal/scrape"
	"github.com/hitoshi/apptwatch/internal/security"
)

// SiteRegistration は監視サイト登録の入力。
type SiteRegistration struct {
	UserID          string
	DisplayName     string
	URL             string
	SiteType        model.SiteType
	Username        string
	Password        string
	IntervalMinutes int
}

// userUpserter はサイト所有者を登録する。
type userUpserter interface {
	Upsert(ctx context.Context, user *model.User) error
}

// siteCreator は監視サイトを保存する。
type siteCreator interface {
	Create(ctx context.Context, site *model.MonitoredSite) error
}

// siteRegistrar は認証情報を暗号化して監視サイトを登録する。
type siteRegistrar struct {
	users    userUpserter
	sites    siteCreator
	vault    security.CredentialCipher
	guard    security.URLGuard
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func newSiteRegistrar(users userUpserter, sites siteCreator, vault security.CredentialCipher, guard security.URLGuard, logger *slog.Logger) *siteRegistrar {
	return &siteRegistrar{
		users:    users,
		sites:    sites,
		vault:    vault,
		guard:    guard,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Register はサイト種別とURLを検証し、所有者を登録してから監視サイトを作成する。
// 既存ユーザーの通知設定は変更しない。
func (r *siteRegistrar) Register(ctx context.Context, reg SiteRegistration) (*model.MonitoredSite, error) {
	if _, ok := scrape.StrategyFor(reg.SiteType); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedSiteType, reg.SiteType)
	}
	if err := r.guard.ValidateURL(reg.URL); err != nil {
		return nil, fmt.Errorf("URLが不正です: %w", err)
	}

	blob, err := r.vault.Encrypt(model.Credentials{Username: reg.Username, Password: reg.Password})
	if err != nil {
		return nil, fmt.Errorf("認証情報の暗号化に失敗しました: %w", err)
	}

	interval := reg.IntervalMinutes
	if interval == 0 {
		interval = model.DefaultCheckIntervalMinutes
	}
	now := r.now()
	site := &model.MonitoredSite{
		ID:                   uuid.New().String(),
		UserID:               reg.UserID,
		URL:                  reg.URL,
		SiteType:             reg.SiteType,
		EncryptedCredentials: blob,
		CheckIntervalMinutes: interval,
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := r.validate.Struct(site); err != nil {
		return nil, fmt.Errorf("監視サイトの設定が不正です: %w", err)
	}

	displayName := reg.DisplayName
	if displayName == "" {
		displayName = reg.UserID
	}
	if err := r.users.Upsert(ctx, &model.User{
		ID:          reg.UserID,
		DisplayName: displayName,
		Preferences: model.DefaultNotificationPreferences(),
	}); err != nil {
		return nil, err
	}
	if err := r.sites.Create(ctx, site); err != nil {
		return nil, err
	}

	r.logger.Info("監視サイトを登録しました",
		slog.String("site_id", site.ID),
		slog.String("user_id", site.UserID),
		slog.String("site_type", string(site.SiteType)),
	)
	return site, nil
}

// sitePasswordEnv はパスワードをフラグで渡さない場合に読む環境変数。
const sitePasswordEnv = "SITE_PASSWORD"

// newAddSiteCommand はadd-siteサブコマンドのフラグ定義を返す。
// 解析結果はregisterに渡す。
func newAddSiteCommand(register func(ctx context.Context, reg SiteRegistration) error) *cli.Command {
	return &cli.Command{
		Name:  string(CommandAddSite),
		Usage: "監視サイトを登録する",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "通知先のDiscordユーザーID", Required: true},
			&cli.StringFlag{Name: "name", Usage: "ユーザーの表示名"},
			&cli.StringFlag{Name: "url", Usage: "監視するURL", Required: true},
			&cli.StringFlag{Name: "type", Usage: "サイト種別 (generic, government)", Value: string(model.SiteTypeGeneric)},
			&cli.StringFlag{Name: "username", Usage: "ログインユーザー名"},
			&cli.StringFlag{Name: "password", Usage: "ログインパスワード。未指定時は " + sitePasswordEnv + " を使う"},
			&cli.IntFlag{Name: "interval", Usage: "チェック間隔（分）", Value: model.DefaultCheckIntervalMinutes},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			password := c.String("password")
			if password == "" {
				password = os.Getenv(sitePasswordEnv)
			}
			return register(ctx, SiteRegistration{
				UserID:          c.String("user"),
				DisplayName:     c.String("name"),
				URL:             c.String("url"),
				SiteType:        model.SiteType(c.String("type")),
				Username:        c.String("username"),
				Password:        password,
				IntervalMinutes: int(c.Int("interval")),
			})
		},
	}
}

// runAddSite は監視サイトを1件登録して終了する。
// argsにはサブコマンド名に続くフラグを渡す。
func runAddSite(w io.Writer, cfg *config.Config, args []string) error {
	log := slog.Default()
	ctx := context.Background()

	cmd := newAddSiteCommand(func(ctx context.Context, reg SiteRegistration) error {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		vault, err := security.NewCredentialVault(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize credential vault: %w", err)
		}

		registrar := newSiteRegistrar(
			repository.NewPostgresUserRepo(db),
			repository.NewPostgresSiteRepo(db),
			vault,
			security.NewSSRFGuard(preflightTimeout),
			log,
		)
		site, err := registrar.Register(ctx, reg)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, site.ID)
		return nil
	})
	cmd.Writer = w

	return cmd.Run(ctx, append([]string{string(CommandAddSite)}, args...))
}
