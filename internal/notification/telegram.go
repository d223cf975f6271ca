// Package notification formats confirmed signals into alert records and
// delivers them: Telegram message, dashboard broadcast, database row.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"choch-scanner/internal/logging"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram delivery tuning. Transient failures retry with a short pause; a
// rejected message (4xx) does not.
const (
	telegramTimeout    = 10 * time.Second
	telegramMaxRetries = 2
	telegramRetryDelay = time.Second
)

// TelegramSender posts alert messages through the Telegram Bot API.
type TelegramSender struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
	logger   *logging.Logger
}

// NewTelegramSender creates a sender. Missing credentials disable it; Send
// then succeeds as a no-op so alert delivery stays best-effort.
func NewTelegramSender(botToken, chatID string) *TelegramSender {
	return &TelegramSender{
		botToken: botToken,
		chatID:   chatID,
		enabled:  botToken != "" && chatID != "",
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: telegramTimeout},
		logger:   logging.WithComponent("telegram"),
	}
}

// Enabled reports whether messages are actually delivered.
func (t *TelegramSender) Enabled() bool {
	return t.enabled
}

// Send posts a Markdown message to the configured chat, retrying transient
// failures.
func (t *TelegramSender) Send(text string) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	var lastErr error
	for attempt := 0; attempt <= telegramMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(telegramRetryDelay)
		}

		resp, err := t.client.Post(url, "application/json", bytes.NewReader(jsonData))
		if err != nil {
			lastErr = fmt.Errorf("failed to send telegram message: %w", err)
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch {
		case status == http.StatusOK:
			return nil
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("telegram API returned status %d", status)
		default:
			// Client error: the message itself is rejected, retrying cannot help.
			return fmt.Errorf("telegram API returned status %d", status)
		}
	}
	return lastErr
}

// TestConnection probes the bot with getMe. Used once at startup to log
// whether Telegram delivery is reachable; the scanner proceeds regardless.
func (t *TelegramSender) TestConnection() error {
	if !t.enabled {
		return fmt.Errorf("telegram sender is disabled")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/bot%s/getMe", t.apiBase, t.botToken))
	if err != nil {
		return fmt.Errorf("telegram connection test failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram getMe returned status %d", resp.StatusCode)
	}

	var botInfo struct {
		OK     bool `json:"ok"`
		Result struct {
			FirstName string `json:"first_name"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&botInfo); err != nil {
		return fmt.Errorf("failed to decode getMe response: %w", err)
	}
	if !botInfo.OK {
		return fmt.Errorf("telegram bot rejected the token")
	}

	t.logger.Info("Telegram bot connected", "bot", botInfo.Result.FirstName)
	return nil
}
