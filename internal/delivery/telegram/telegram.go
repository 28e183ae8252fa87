// Package telegram adapts the funnel engine to Telegram: it delivers
// outbound messages and converts incoming private-chat updates into inbound
// signals.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"usebot/internal/funnel"
)

// InboundHandler consumes user replies surfaced by the listener.
type InboundHandler interface {
	OnInboundSignal(ctx context.Context, sig funnel.InboundSignal) error
}

// Client wraps the Telegram bot API as a message sender and update listener.
type Client struct {
	logger  *slog.Logger
	bot     *bot.Bot
	handler InboundHandler
}

// New creates the Telegram client. RegisterHandler must be called before Run
// for inbound updates to be processed.
func New(logger *slog.Logger, token string) (*Client, error) {
	c := &Client{logger: logger.With("component", "telegram")}

	b, err := bot.New(token, bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c.bot = b

	return c, nil
}

// RegisterHandler wires the inbound signal consumer. Must happen before Run.
func (c *Client) RegisterHandler(h InboundHandler) {
	c.handler = h
}

// Run starts long polling and blocks until the context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("starting telegram listener")
	c.bot.Start(ctx)
	c.logger.Info("telegram listener stopped")

	return ctx.Err()
}

// Send delivers one message. ChatID may be an int64 chat id or a chat
// username string such as "@channel".
func (c *Client) Send(ctx context.Context, chatID any, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	return nil
}

// handleUpdate converts private-chat text messages into inbound signals.
// Group messages and non-text updates are ignored; group outreach is driven
// by the auto-post task, not by replies.
func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if c.handler == nil {
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}
	if msg.From.IsBot {
		return
	}

	sig := funnel.InboundSignal{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		FirstName: msg.From.FirstName,
		Text:      msg.Text,
		At:        time.Unix(int64(msg.Date), 0),
	}

	if err := c.handler.OnInboundSignal(ctx, sig); err != nil {
		c.logger.Error("failed to handle inbound message",
			"user_id", sig.UserID, "chat_id", sig.ChatID, "error", err)
	}
}
