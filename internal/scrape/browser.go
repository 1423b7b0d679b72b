// Package scrape はヘッドレスブラウザで監視サイトを開き、
// ログイン後のページから予約可能な枠を抽出する。
package scrape

import (
	"context"
	"time"
)

// Browser はページを生成するブラウザセッションのインターフェース。
// テストではフェイク実装に差し替える。
type Browser interface {
	// NewPage は指定したUser-Agentで新しいページを開く。
	NewPage(ctx context.Context, userAgent string) (Page, error)
	// Close はブラウザプロセスを終了する。
	Close() error
}

// Page は1回のチェックで使用するブラウザページのインターフェース。
// 全ての待機操作はタイムアウトで上限を設ける。
type Page interface {
	Navigate(url string, timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	Fill(selector, text string) error
	Click(selector string) error
	WaitForSettle(timeout time.Duration) error
	// Content は現在のDOMをHTML文字列として返す。
	Content() (string, error)
	Close() error
}
