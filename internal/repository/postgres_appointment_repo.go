package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/apptwatch/internal/model"
)

// PostgresAppointmentRepo はPostgreSQLを使用した予約枠リポジトリ。
type PostgresAppointmentRepo struct {
	db *sql.DB
}

// NewPostgresAppointmentRepo はPostgresAppointmentRepoを生成する。
func NewPostgresAppointmentRepo(db *sql.DB) *PostgresAppointmentRepo {
	return &PostgresAppointmentRepo{db: db}
}

const appointmentColumns = `id, monitored_site_id, appointment_date, appointment_details,
		        is_available, notified, found_at, created_at, updated_at`

// FindOrCreate は (site_id, appointment_date) の予約枠を検索し、無ければ作成する。
// INSERT ... ON CONFLICT DO NOTHING により同時実行時も重複は作られない。
func (r *PostgresAppointmentRepo) FindOrCreate(ctx context.Context, appt *model.Appointment) (*model.Appointment, bool, error) {
	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}
	// timestamptzはマイクロ秒精度のため、比較前にそろえておく。
	appt.AppointmentDate = appt.AppointmentDate.Truncate(time.Microsecond)
	details, err := json.Marshal(appt.Details)
	if err != nil {
		return nil, false, fmt.Errorf("予約枠詳細のシリアライズに失敗しました: %w", err)
	}

	created, err := scanAppointment(r.db.QueryRowContext(ctx,
		`INSERT INTO appointments (id, monitored_site_id, appointment_date, appointment_details,
		                          is_available, notified, found_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 ON CONFLICT (monitored_site_id, appointment_date) DO NOTHING
		 RETURNING `+appointmentColumns,
		appt.ID, appt.SiteID, appt.AppointmentDate, details, appt.IsAvailable, appt.FoundAt,
	))
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("予約枠の作成に失敗しました: %w", err)
	}

	existing, err := scanAppointment(r.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+`
		 FROM appointments WHERE monitored_site_id = $1 AND appointment_date = $2`,
		appt.SiteID, appt.AppointmentDate,
	))
	if err != nil {
		return nil, false, fmt.Errorf("既存予約枠の取得に失敗しました: %w", err)
	}
	return existing, false, nil
}

// MarkNotified は指定IDの予約枠を1文で通知済みにする。
func (r *PostgresAppointmentRepo) MarkNotified(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE appointments SET notified = true, updated_at = now()
		 WHERE id = ANY($1) AND NOT notified`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("通知済みフラグの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// MarkUnavailable は予約枠を利用不可にする。
func (r *PostgresAppointmentRepo) MarkUnavailable(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE appointments SET is_available = false, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("予約枠の利用不可更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrAppointmentNotFound
	}
	return nil
}

// ListPendingNotification は未通知の予約枠を found_at 昇順で返す。
// 即時通知を無効にしているユーザーや停止中のサイトの予約枠は含めない。
func (r *PostgresAppointmentRepo) ListPendingNotification(ctx context.Context, foundBefore time.Time, limit int) ([]*model.Appointment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.monitored_site_id, a.appointment_date, a.appointment_details,
		        a.is_available, a.notified, a.found_at, a.created_at, a.updated_at
		 FROM appointments a
		 INNER JOIN monitored_sites s ON s.id = a.monitored_site_id
		 INNER JOIN users u ON u.id = s.user_id
		 WHERE NOT a.notified AND a.is_available AND a.found_at < $1
		   AND s.is_active AND u.is_active
		   AND (u.notification_preferences->>'immediate')::boolean
		 ORDER BY a.found_at ASC
		 LIMIT $2`,
		foundBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未通知予約枠の取得に失敗しました: %w", err)
	}
	return collectAppointments(rows)
}

// CountByUserID はユーザーの全予約枠数と利用可能な予約枠数を返す。
func (r *PostgresAppointmentRepo) CountByUserID(ctx context.Context, userID string) (int, int, error) {
	var total, available int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE a.is_available)
		 FROM appointments a
		 INNER JOIN monitored_sites s ON s.id = a.monitored_site_id
		 WHERE s.user_id = $1`,
		userID,
	).Scan(&total, &available)
	if err != nil {
		return 0, 0, fmt.Errorf("予約枠数の取得に失敗しました: %w", err)
	}
	return total, available, nil
}

// CountFoundSinceByUserID は since 以降に検出された利用可能な予約枠数を返す。
func (r *PostgresAppointmentRepo) CountFoundSinceByUserID(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*)
		 FROM appointments a
		 INNER JOIN monitored_sites s ON s.id = a.monitored_site_id
		 WHERE s.user_id = $1 AND a.is_available AND a.found_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("期間内の予約枠数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListRecentAvailableByUserID は利用可能な予約枠を found_at 降順で返す。
func (r *PostgresAppointmentRepo) ListRecentAvailableByUserID(ctx context.Context, userID string, limit int) ([]*model.Appointment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.monitored_site_id, a.appointment_date, a.appointment_details,
		        a.is_available, a.notified, a.found_at, a.created_at, a.updated_at
		 FROM appointments a
		 INNER JOIN monitored_sites s ON s.id = a.monitored_site_id
		 WHERE s.user_id = $1 AND a.is_available
		 ORDER BY a.found_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("最近の予約枠の取得に失敗しました: %w", err)
	}
	return collectAppointments(rows)
}

func collectAppointments(rows *sql.Rows) ([]*model.Appointment, error) {
	defer rows.Close()

	var appts []*model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("予約枠の読み取りに失敗しました: %w", err)
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約枠の読み取りに失敗しました: %w", err)
	}
	return appts, nil
}

func scanAppointment(row rowScanner) (*model.Appointment, error) {
	appt := &model.Appointment{}
	var details []byte

	if err := row.Scan(
		&appt.ID, &appt.SiteID, &appt.AppointmentDate, &details,
		&appt.IsAvailable, &appt.Notified, &appt.FoundAt,
		&appt.CreatedAt, &appt.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(details) > 0 {
		if err := json.Unmarshal(details, &appt.Details); err != nil {
			return nil, fmt.Errorf("予約枠詳細の読み取りに失敗しました: %w", err)
		}
	}
	return appt, nil
}
