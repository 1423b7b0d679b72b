package notify

import (
	"context"
	"log/slog"
)

// Channel は通知の配信先。Deliverはユーザー宛て、Postはチャンネル宛てに送る。
// nilが返った場合のみ配信済みとみなす。
type Channel interface {
	Deliver(ctx context.Context, recipientID string, p Payload) error
	Post(ctx context.Context, channelID string, p Payload) error
}

// LogChannel は通知内容をログに出力するだけのチャネル。
// 配信用のトークンが設定されていない環境で使用する。
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel はLogChannelを生成する。
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Deliver(_ context.Context, recipientID string, p Payload) error {
	c.logger.Info("通知を出力しました",
		slog.String("recipient_id", recipientID),
		slog.String("title", p.Title),
		slog.Int("fields", len(p.Fields)),
	)
	return nil
}

func (c *LogChannel) Post(_ context.Context, channelID string, p Payload) error {
	c.logger.Info("ステータスを出力しました",
		slog.String("channel_id", channelID),
		slog.String("title", p.Title),
	)
	return nil
}
