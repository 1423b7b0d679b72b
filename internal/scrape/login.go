package scrape

import (
	"log/slog"
	"time"

	"github.com/hitoshi/apptwatch/internal/model"
)

// LoginStrategy はサイト種別ごとのログインフォームのセレクタチェーン。
type LoginStrategy struct {
	Username Chain
	Password Chain
	Submit   Chain
}

// LoginOutcome はログイン試行の結果。いずれの場合も抽出は続行する。
type LoginOutcome string

const (
	// LoginSkipped はユーザー名またはパスワード欄が見つからずログインしなかった。
	LoginSkipped LoginOutcome = "skipped"
	// LoginSubmitted はフォームを送信した。
	LoginSubmitted LoginOutcome = "submitted"
	// LoginNoSubmit は入力欄に入力したが送信ボタンが見つからなかった。
	LoginNoSubmit LoginOutcome = "no_submit"
	// LoginFailed は入力またはクリックでエラーが発生した。
	LoginFailed LoginOutcome = "failed"
)

var genericSubmit = Chain{
	Role: "submit",
	Candidates: []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
	},
}

// loginStrategies は対応しているサイト種別の一覧。ここにない種別は未対応として扱う。
var loginStrategies = map[model.SiteType]LoginStrategy{
	model.SiteTypeGeneric: {
		Username: Chain{Role: "username", Candidates: []string{
			`input[name="username"]`,
			`input[name="email"]`,
			`input[type="email"]`,
		}},
		Password: Chain{Role: "password", Candidates: []string{
			`input[name="password"]`,
			`input[type="password"]`,
		}},
		Submit: genericSubmit,
	},
	model.SiteTypeGovernment: {
		Username: Chain{Role: "username", Candidates: []string{
			`input[name="userId"]`,
			`input[name="loginId"]`,
			`input[name="login_id"]`,
			`input[autocomplete="username"]`,
			`input[name="username"]`,
			`input[name="email"]`,
			`input[type="email"]`,
		}},
		Password: Chain{Role: "password", Candidates: []string{
			`input[autocomplete="current-password"]`,
			`input[name="password"]`,
			`input[type="password"]`,
		}},
		Submit: Chain{Role: "submit", Candidates: []string{
			`button[name="login"]`,
			`input[name="login"]`,
			`button[type="submit"]`,
			`input[type="submit"]`,
		}},
	},
}

// StrategyFor はサイト種別に対応するログイン戦略を返す。
func StrategyFor(siteType model.SiteType) (LoginStrategy, bool) {
	s, ok := loginStrategies[siteType]
	return s, ok
}

// LoginTimeouts はログイン中の待機時間の上限。
type LoginTimeouts struct {
	Selector time.Duration
	Settle   time.Duration
}

// Login はフォームに認証情報を入力して送信する。
// 入力欄が見つからない場合はログインせずに戻り、呼び出し側は未ログインのまま抽出する。
// 送信後の待機タイムアウトは致命的ではない。
func (s LoginStrategy) Login(page Page, creds model.Credentials, timeouts LoginTimeouts, logger *slog.Logger) LoginOutcome {
	userSel, ok := s.Username.Resolve(page, timeouts.Selector)
	if !ok {
		logger.Warn("ユーザー名の入力欄が見つからないためログインをスキップします")
		return LoginSkipped
	}
	passSel, ok := s.Password.Resolve(page, timeouts.Selector)
	if !ok {
		logger.Warn("パスワードの入力欄が見つからないためログインをスキップします")
		return LoginSkipped
	}

	if err := page.Fill(userSel, creds.Username); err != nil {
		logger.Warn("ユーザー名の入力に失敗しました", slog.String("error", err.Error()))
		return LoginFailed
	}
	if err := page.Fill(passSel, creds.Password); err != nil {
		logger.Warn("パスワードの入力に失敗しました", slog.String("error", err.Error()))
		return LoginFailed
	}

	submitSel, ok := s.Submit.Resolve(page, timeouts.Selector)
	if !ok {
		logger.Info("送信ボタンが見つからないため送信せずに抽出します")
		return LoginNoSubmit
	}
	if err := page.Click(submitSel); err != nil {
		logger.Warn("送信ボタンのクリックに失敗しました", slog.String("error", err.Error()))
		return LoginFailed
	}

	if err := page.WaitForSettle(timeouts.Settle); err != nil {
		logger.Warn("ログイン後のページ読み込み待機がタイムアウトしました",
			slog.String("error", err.Error()),
		)
	}
	return LoginSubmitted
}
