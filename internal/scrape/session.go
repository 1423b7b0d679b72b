package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// chromiumArgs はコンテナ内でChromiumを安定して動かすための起動フラグ。
var chromiumArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--single-process",
	"--disable-gpu",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
}

// SessionOptions はブラウザセッションの起動設定。
type SessionOptions struct {
	// ExecutablePath はChromiumの実行ファイルパス。空の場合はPlaywright同梱のブラウザを使う。
	ExecutablePath string
	// InstallDriver がtrueの場合、初回起動前にPlaywrightドライバをインストールする。
	InstallDriver bool
}

// Session はPlaywrightのChromiumを保持するブラウザセッション。
// 最初のNewPageで遅延起動し、以降のチェックで再利用する。
// 切断を検出した場合は次のNewPageで再起動する。
type Session struct {
	opts   SessionOptions
	logger *slog.Logger

	mu      sync.Mutex
	pw      *pw.Playwright
	browser pw.Browser
	closed  bool
}

// NewSession は未起動のSessionを生成する。
func NewSession(opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opts: opts, logger: logger}
}

// NewPage はブラウザが未起動なら起動し、新しいページを開く。
func (s *Session) NewPage(ctx context.Context, userAgent string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := s.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.NewPage(pw.BrowserNewPageOptions{
		UserAgent: pw.String(userAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("ページの作成に失敗しました: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

// Close はブラウザとPlaywrightドライバを停止する。Close後のNewPageはエラーになる。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	var firstErr error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			firstErr = fmt.Errorf("ブラウザの終了に失敗しました: %w", err)
		}
		s.browser = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("Playwrightの停止に失敗しました: %w", err)
		}
		s.pw = nil
	}
	return firstErr
}

func (s *Session) ensureBrowser() (pw.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("ブラウザセッションは終了済みです")
	}
	if s.browser != nil && s.browser.IsConnected() {
		return s.browser, nil
	}

	if s.pw == nil {
		if s.opts.InstallDriver {
			if err := pw.Install(&pw.RunOptions{SkipInstallBrowsers: true}); err != nil {
				return nil, fmt.Errorf("Playwrightドライバのインストールに失敗しました: %w", err)
			}
		}
		instance, err := pw.Run()
		if err != nil {
			return nil, fmt.Errorf("Playwrightの起動に失敗しました: %w", err)
		}
		s.pw = instance
	}

	launch := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(true),
		Args:     chromiumArgs,
	}
	if s.opts.ExecutablePath != "" {
		launch.ExecutablePath = pw.String(s.opts.ExecutablePath)
	}

	start := time.Now()
	browser, err := s.pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("Chromiumの起動に失敗しました: %w", err)
	}

	if s.browser != nil {
		s.logger.Warn("ブラウザの切断を検出したため再起動しました")
	}
	s.browser = browser
	s.logger.Info("ブラウザを起動しました",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return browser, nil
}

// playwrightPage はplaywright-goのPageをPageインターフェースに適合させる。
type playwrightPage struct {
	page pw.Page
}

func millis(d time.Duration) *float64 {
	return pw.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) Navigate(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   millis(timeout),
	})
	return err
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
}

func (p *playwrightPage) Fill(selector, text string) error {
	return p.page.Locator(selector).First().Fill(text)
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) WaitForSettle(timeout time.Duration) error {
	return p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateNetworkidle,
		Timeout: millis(timeout),
	})
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
