// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rthiery/tempmarket/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSignal pushes one emitted signal, with the confidence marker for its
// tier.
func (c *Client) SendSignal(sig models.Signal) error {
	return c.sendMarkdownV2(formatSignal(sig))
}

// SendMorningSummary pushes the consolidated post-cutoff rundown of every
// bracket killed so far, grouped by tier.
func (c *Client) SendMorningSummary(sum models.MorningSummary) error {
	return c.sendMarkdownV2(formatMorningSummary(sum))
}

// tierMarker distinguishes tiers by confidence: green is mathematically
// settled, yellow is forecast-driven, purple is late-day and guard-vetted.
func tierMarker(tier int) (emoji, confidence string) {
	switch tier {
	case 1:
		return "🟢", "CERTAIN"
	case 2, 3, 4:
		return "🟡", "FORECAST"
	case 5:
		return "🟣", "GUARDED"
	}
	return "🔵", "SIGNAL"
}

func formatSignal(sig models.Signal) string {
	emoji, conf := tierMarker(sig.Tier)
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s: %s on %s*\n",
		emoji,
		escapeMarkdownV2(conf),
		escapeMarkdownV2(string(sig.Side)),
		escapeMarkdownV2(sig.Bracket))
	fmt.Fprintf(&b, "Entry: %s \\| Edge: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", sig.EntryPrice)),
		escapeMarkdownV2(fmt.Sprintf("%.3f", sig.Edge)))
	b.WriteString(escapeMarkdownV2(sig.Note))
	return b.String()
}

func formatMorningSummary(sum models.MorningSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Morning Summary \\- %s*\n",
		escapeMarkdownV2(sum.At.Format("Jan 2, 15:04")))
	if sum.RunningHigh != nil {
		fmt.Fprintf(&b, "Running high: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f°C", *sum.RunningHigh)))
	}
	if sum.ForecastHigh != nil {
		fmt.Fprintf(&b, "Forecast high: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f°C", *sum.ForecastHigh)))
	}
	if sum.DynamicBias != nil && sum.DynamicForecast != nil {
		fmt.Fprintf(&b, "Dynamic bias: %s\n",
			escapeMarkdownV2(fmt.Sprintf("%+.1f°C → adjusted %.1f°C", *sum.DynamicBias, *sum.DynamicForecast)))
	}

	writeTier := func(header string, dead []models.BracketQuote) {
		if len(dead) == 0 {
			fmt.Fprintf(&b, "\n%s: none\n", escapeMarkdownV2(header))
			return
		}
		fmt.Fprintf(&b, "\n*%s*:\n", escapeMarkdownV2(header))
		for _, q := range dead {
			if q.YesPrice != nil {
				fmt.Fprintf(&b, "  %s %s\n",
					escapeMarkdownV2("- "+q.Label),
					escapeMarkdownV2(fmt.Sprintf("- YES=%.0f%%", *q.YesPrice*100)))
			} else {
				fmt.Fprintf(&b, "  %s\n", escapeMarkdownV2("- "+q.Label))
			}
		}
	}
	writeTier("🟢 TIER 1 - CERTAIN", sum.Tier1Dead)
	writeTier("🟡 TIER 2 - FORECAST", sum.Tier2Dead)
	if len(sum.UpperDead) > 0 {
		writeTier("🟡 UPPER - BELOW FORECAST", sum.UpperDead)
	}
	if len(sum.Alive) > 0 {
		fmt.Fprintf(&b, "\nStill alive: %s\n", escapeMarkdownV2(strings.Join(sum.Alive, ", ")))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
