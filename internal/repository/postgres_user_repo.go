package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/apptwatch/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, display_name, notification_preferences, is_active, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// Upsert はユーザーを登録する。既存ユーザーの通知設定は上書きしない。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("通知設定のシリアライズに失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, display_name, notification_preferences, is_active)
		 VALUES ($1, $2, $3, true)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = now()
		 RETURNING is_active, created_at, updated_at`,
		user.ID, user.DisplayName, prefs,
	).Scan(&user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}
	return nil
}

// ListBySummaryPreference は指定期間のサマリーを希望するアクティブなユーザーを返す。
func (r *PostgresUserRepo) ListBySummaryPreference(ctx context.Context, period model.SummaryPeriod) ([]*model.User, error) {
	var key string
	switch period {
	case model.SummaryDaily:
		key = "daily_summary"
	case model.SummaryWeekly:
		key = "weekly_summary"
	default:
		return nil, fmt.Errorf("未対応のサマリー期間です: %s", period)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name, notification_preferences, is_active, created_at, updated_at
		 FROM users
		 WHERE is_active AND (notification_preferences->>$1)::boolean
		 ORDER BY id`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("サマリー対象ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("サマリー対象ユーザーの読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サマリー対象ユーザーの読み取りに失敗しました: %w", err)
	}
	return users, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var prefs []byte
	if err := row.Scan(&user.ID, &user.DisplayName, &prefs, &user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}

	user.Preferences = model.DefaultNotificationPreferences()
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.Preferences); err != nil {
			return nil, fmt.Errorf("通知設定の読み取りに失敗しました: %w", err)
		}
	}
	return user, nil
}
