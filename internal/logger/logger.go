package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ローテーションの1ファイルあたりの上限（MB）。
const maxLogFileSizeMB = 100

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// NewRotatingWriter はファイル出力用のローテーション付きwriterを返す。
// retentionDaysを過ぎたファイルは削除される。
func NewRotatingWriter(path string, retentionDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxLogFileSizeMB,
		MaxAge:   retentionDays,
		Compress: true,
	}
}

// SetupDefaultWithFile は標準出力に加えてファイルにもログを出力する。
// pathが空の場合はSetupDefaultと同じ動作になる。
// 戻り値のCloserはシャットダウン時に閉じること。
func SetupDefaultWithFile(w io.Writer, path string, retentionDays int) io.Closer {
	if w == nil {
		w = os.Stdout
	}
	if path == "" {
		SetupDefault(w)
		return nopCloser{}
	}

	file := NewRotatingWriter(path, retentionDays)
	SetupDefault(io.MultiWriter(w, file))
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
