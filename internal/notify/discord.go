package notify

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// discordMessenger はDiscordChannelが使うREST APIの部分集合。
type discordMessenger interface {
	CreateDMChannel(userID snowflake.ID, opts ...rest.RequestOpt) (*discord.DMChannel, error)
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

// DiscordChannel はDiscordのDMとテキストチャンネルに埋め込みメッセージを送る。
type DiscordChannel struct {
	client discordMessenger
}

// NewDiscordChannel はBotトークンからDiscordChannelを生成する。
func NewDiscordChannel(token string) *DiscordChannel {
	return &DiscordChannel{client: rest.New(rest.NewClient(token))}
}

// Deliver はユーザーとのDMチャンネルを開いて通知を送る。
func (c *DiscordChannel) Deliver(ctx context.Context, recipientID string, p Payload) error {
	userID, err := snowflake.Parse(recipientID)
	if err != nil {
		return fmt.Errorf("DiscordユーザーIDが不正です: %w", err)
	}

	dm, err := c.client.CreateDMChannel(userID, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("DMチャンネルの作成に失敗しました: %w", err)
	}
	if _, err := c.client.CreateMessage(dm.ID(), buildMessage(p), rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("DMの送信に失敗しました: %w", err)
	}
	return nil
}

// Post はテキストチャンネルに通知を送る。
func (c *DiscordChannel) Post(ctx context.Context, channelID string, p Payload) error {
	id, err := snowflake.Parse(channelID)
	if err != nil {
		return fmt.Errorf("DiscordチャンネルIDが不正です: %w", err)
	}
	if _, err := c.client.CreateMessage(id, buildMessage(p), rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("チャンネルへの送信に失敗しました: %w", err)
	}
	return nil
}

func buildMessage(p Payload) discord.MessageCreate {
	p = p.Fit()
	embed := discord.NewEmbedBuilder().
		SetTitle(p.Title).
		SetDescription(p.Description).
		SetColor(p.Color).
		SetFooter(p.Footer, "")
	if !p.Timestamp.IsZero() {
		embed.SetTimestamp(p.Timestamp)
	}
	for _, f := range p.Fields {
		embed.AddField(f.Name, f.Value, f.Inline)
	}

	return discord.NewMessageCreateBuilder().
		SetEmbeds(embed.Build()).
		Build()
}
