// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// サイトチェック内部で使用するセンチネルエラー。
// いずれもサイト単位で閉じ込められ、バッチ全体には伝播しない。
var (
	// ErrUnsupportedSiteType は未対応のサイト種別。
	ErrUnsupportedSiteType = errors.New("unsupported site type")
	// ErrNavigation はページ遷移の失敗（タイムアウト・ネットワークエラー）。
	ErrNavigation = errors.New("navigation failed")
	// ErrDecryption は認証情報の復号失敗。鍵の変更や不正なデータで発生する。
	ErrDecryption = errors.New("failed to decrypt credentials")
	// ErrBlockedURL はSSRF防止ポリシーによりブロックされたURL。
	ErrBlockedURL = errors.New("blocked url")
	// ErrSiteNotFound は監視サイトが存在しない。
	ErrSiteNotFound = errors.New("monitored site not found")
	// ErrAppointmentNotFound は予約枠が存在しない。
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, site, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSiteNotFound        = "SITE_NOT_FOUND"
	ErrCodeAppointmentNotFound = "APPOINTMENT_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeCheckFailed         = "CHECK_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimited         = "RATE_LIMITED"
)

// NewSiteNotFoundError は監視サイト未検出エラーを生成する。
func NewSiteNotFoundError(siteID string) *APIError {
	return &APIError{
		Code:     ErrCodeSiteNotFound,
		Message:  fmt.Sprintf("指定された監視サイトが見つかりません: %s", siteID),
		Category: "site",
		Action:   "サイトIDを確認してください。",
	}
}

// NewAppointmentNotFoundError は予約枠未検出エラーを生成する。
func NewAppointmentNotFoundError(appointmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAppointmentNotFound,
		Message:  fmt.Sprintf("指定された予約枠が見つかりません: %s", appointmentID),
		Category: "site",
		Action:   "予約枠IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "先にユーザー登録を行ってください。",
	}
}

// NewCheckFailedError はサイトチェック失敗エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewCheckFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCheckFailed,
		Message:  "サイトのチェックに失敗しました。",
		Category: "site",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "APIトークンを確認してください。",
	}
}

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
