package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用した監視サイトリポジトリ。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

const siteColumns = `id, user_id, website_url, site_type, encrypted_credentials,
		        check_interval, last_checked, is_active, created_at, updated_at`

// FindByID は指定IDの監視サイトを取得する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) FindByID(ctx context.Context, id string) (*model.MonitoredSite, error) {
	site, err := scanSite(r.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM monitored_sites WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("監視サイトの取得に失敗しました: %w", err)
	}
	return site, nil
}

// Create は監視サイトを作成する。
func (r *PostgresSiteRepo) Create(ctx context.Context, site *model.MonitoredSite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monitored_sites (id, user_id, website_url, site_type, encrypted_credentials,
		                             check_interval, last_checked, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		site.ID, site.UserID, site.URL, string(site.SiteType), site.EncryptedCredentials,
		site.CheckIntervalMinutes, nullTime(site.LastChecked), site.Active,
		site.CreatedAt, site.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("監視サイトの作成に失敗しました: %w", err)
	}
	return nil
}

// ListDueForCheck はチェック対象のサイトを取得する。
// チェック間隔はユーザー向けの参考値であり、ここでは cutoff のみで判定する。
func (r *PostgresSiteRepo) ListDueForCheck(ctx context.Context, cutoff time.Time) ([]*model.MonitoredSite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+`
		 FROM monitored_sites
		 WHERE is_active
		   AND (last_checked IS NULL OR last_checked <= $1)
		 ORDER BY last_checked ASC NULLS FIRST`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("チェック対象サイトの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.MonitoredSite
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("チェック対象サイトの読み取りに失敗しました: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チェック対象サイトの読み取りに失敗しました: %w", err)
	}
	return sites, nil
}

// UpdateLastChecked は最終チェック日時を更新する。
func (r *PostgresSiteRepo) UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monitored_sites SET last_checked = $2, updated_at = now() WHERE id = $1`,
		id, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("最終チェック日時の更新に失敗しました: %w", err)
	}
	return nil
}

// SummarizeByUserID はユーザーのサイト集計を返す。
func (r *PostgresSiteRepo) SummarizeByUserID(ctx context.Context, userID string) (SiteSummary, error) {
	var summary SiteSummary
	var lastChecked sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE is_active),
		        max(last_checked)
		 FROM monitored_sites WHERE user_id = $1`,
		userID,
	).Scan(&summary.TotalSites, &summary.ActiveSites, &lastChecked)
	if err != nil {
		return SiteSummary{}, fmt.Errorf("サイト集計の取得に失敗しました: %w", err)
	}

	summary.LastChecked = nullTimeValue(lastChecked)
	return summary, nil
}

func scanSite(row rowScanner) (*model.MonitoredSite, error) {
	site := &model.MonitoredSite{}
	var siteType string
	var lastChecked sql.NullTime

	if err := row.Scan(
		&site.ID, &site.UserID, &site.URL, &siteType, &site.EncryptedCredentials,
		&site.CheckIntervalMinutes, &lastChecked, &site.Active,
		&site.CreatedAt, &site.UpdatedAt,
	); err != nil {
		return nil, err
	}

	site.SiteType = model.SiteType(siteType)
	site.LastChecked = nullTimeValue(lastChecked)
	return site, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。nilの場合はNULLとなる。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
