package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/web3-frozen/portfolio-reporter/internal/metrics"
)

const (
	telegramAPI   = "https://api.telegram.org/bot"
	pollTimeout   = 30 // seconds, Telegram long-poll
	pollBackoff   = 5 * time.Second
	clientTimeout = (pollTimeout + 10) * time.Second
)

// Reporter runs reports on behalf of bot commands. Implemented by
// *monitor.Engine.
type Reporter interface {
	RunOnce(ctx context.Context) error
	SendReport(ctx context.Context, name string) error
}

type Bot struct {
	token    string
	chatID   string
	reporter Reporter
	logger   *slog.Logger
	client   *http.Client
	apiURL   string
	backoff  time.Duration
	offset   int64
}

// NewBot creates a bot that delivers to chatID.
func NewBot(token, chatID string, logger *slog.Logger) *Bot {
	return &Bot{
		token:   token,
		chatID:  chatID,
		logger:  logger,
		client:  &http.Client{Timeout: clientTimeout},
		apiURL:  telegramAPI,
		backoff: pollBackoff,
	}
}

// Notify sends text to the configured chat.
func (b *Bot) Notify(ctx context.Context, text string) error {
	return b.SendMessage(ctx, b.chatID, text)
}

// SendMessage sends an HTML message to a Telegram chat.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.method("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", redact(err, b.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// Run starts the long-polling loop for incoming Telegram messages and
// answers report commands through reporter.
func (b *Bot) Run(ctx context.Context, reporter Reporter) {
	b.reporter = reporter
	b.logger.Info("telegram bot started", "chat_id", b.chatID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := b.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("poll updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.backoff):
			}
		}
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
		Text string `json:"text"`
	} `json:"message"`
}

func (b *Bot) poll(ctx context.Context) error {
	q := url.Values{
		"offset":  {strconv.FormatInt(b.offset, 10)},
		"timeout": {strconv.Itoa(pollTimeout)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.method("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create poll request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return redact(err, b.token)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getUpdates status: %d", resp.StatusCode)
	}

	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode updates: %w", err)
	}

	for _, u := range result.Result {
		b.offset = u.UpdateID + 1
		b.handleUpdate(ctx, u)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	if u.Message == nil {
		return
	}
	chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
	if chatID != b.chatID {
		b.logger.Warn("ignoring message from unknown chat", "chat_id", chatID, "username", u.Message.From.Username)
		return
	}

	cmd := command(u.Message.Text)
	if cmd == "" {
		return
	}
	switch cmd {
	case "/help", "/start":
		metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
		b.reply(ctx, helpText)
	case "/report":
		metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
		b.run(ctx, cmd, func(ctx context.Context) error { return b.reporter.RunOnce(ctx) })
	case "/portfolio":
		metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
		b.run(ctx, cmd, func(ctx context.Context) error { return b.reporter.SendReport(ctx, "portfolio") })
	case "/vault":
		metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
		b.run(ctx, cmd, func(ctx context.Context) error { return b.reporter.SendReport(ctx, "vault") })
	default:
		metrics.BotCommandsTotal.WithLabelValues("unknown").Inc()
		b.reply(ctx, "Unknown command. Send /help for available commands.")
	}
}

// run executes a report command; the report itself is delivered by the
// reporter, so only failures are answered here.
func (b *Bot) run(ctx context.Context, cmd string, fn func(context.Context) error) {
	if b.reporter == nil {
		b.reply(ctx, "Reports are not available.")
		return
	}
	if err := fn(ctx); err != nil {
		b.logger.Error("bot command failed", "command", cmd, "error", err)
		b.reply(ctx, fmt.Sprintf("❌ %s failed: %s", cmd, html.EscapeString(err.Error())))
	}
}

func (b *Bot) reply(ctx context.Context, text string) {
	if err := b.Notify(ctx, text); err != nil {
		b.logger.Error("send reply", "error", err)
	}
}

func (b *Bot) method(name string) string {
	return b.apiURL + b.token + "/" + name
}

const helpText = "🤖 <b>Portfolio Reporter</b>\n\n" +
	"Commands:\n" +
	"/report — Send all reports now\n" +
	"/portfolio — DeBank portfolio total and stablecoin share\n" +
	"/vault — Morpho vault TVL and APY\n" +
	"/help — Show this message"

// command extracts "/cmd" from message text, dropping arguments and a
// "@botname" suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

// redact strips the bot token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}
