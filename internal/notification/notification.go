// Package notification fans messages out to configured sinks. Delivery is
// best effort; a failed send never blocks the trading loop.
package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/logging"
)

// Notifier is one delivery channel
type Notifier interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, text string) error
}

// Manager fans a message out to every enabled notifier
type Manager struct {
	notifiers []Notifier
	log       zerolog.Logger
}

// NewManager creates a manager over the given notifiers
func NewManager(notifiers ...Notifier) *Manager {
	return &Manager{notifiers: notifiers, log: logging.Component("notification")}
}

// Send delivers text to every enabled notifier, logging failures
func (m *Manager) Send(ctx context.Context, text string) {
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, text); err != nil {
			m.log.Warn().Err(err).Str("notifier", n.Name()).Msg("notification failed")
		}
	}
}

// EnabledCount reports how many sinks will actually deliver
func (m *Manager) EnabledCount() int {
	count := 0
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			count++
		}
	}
	return count
}

// TelegramNotifier delivers messages through the Telegram bot API
type TelegramNotifier struct {
	botToken   string
	chatID     string
	apiBaseURL string
	httpClient *http.Client
}

// NewTelegramNotifier creates a Telegram sink. It is disabled until both the
// bot token and chat id are configured.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBaseURL: "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool {
	return t.botToken != "" && t.chatID != ""
}

// Send posts one HTML-formatted message
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBaseURL, t.botToken)

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
