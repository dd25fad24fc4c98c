package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	telegramAPIBase     = "https://api.telegram.org"
	telegramSendTimeout = 10 * time.Second
)

var eventTitles = map[model.EventType]string{
	model.EventBlock:              "Source blocked",
	model.EventUnblock:            "Source unblocked",
	model.EventAutoUnblock:        "Block expired",
	model.EventEnforcementFailure: "Firewall action failed",
	model.EventCaptureStopped:     "Packet capture stopped",
}

// TelegramNotifier posts detector events to a chat through the Bot API.
type TelegramNotifier struct {
	botToken  string
	chatID    string
	parseMode string
	enabled   bool
	tmpl      *template.Template
	client    *http.Client
	logger    *logrus.Logger

	apiBase    string
	maxRetries int
	retryDelay time.Duration
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(botToken, chatID, parseMode string, enabled bool, logger *logrus.Logger) *TelegramNotifier {
	return NewTelegramNotifierWithTemplate(botToken, chatID, parseMode, enabled, "", logger)
}

// NewTelegramNotifierWithTemplate uses messageTemplate, a text/template
// executed against model.Event, instead of the built-in layout. A template
// that fails to parse is logged and ignored.
func NewTelegramNotifierWithTemplate(botToken, chatID, parseMode string, enabled bool, messageTemplate string, logger *logrus.Logger) *TelegramNotifier {
	tmpl, err := parseEventTemplate(messageTemplate)
	if err != nil {
		logger.Warnf("Invalid Telegram message template, using default layout: %v", err)
	}

	return &TelegramNotifier{
		botToken:   botToken,
		chatID:     chatID,
		parseMode:  parseMode,
		enabled:    enabled,
		tmpl:       tmpl,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		apiBase:    telegramAPIBase,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func parseEventTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return template.New("event").Funcs(template.FuncMap{
		"formatTime": func(t time.Time, layout string) string { return t.Format(layout) },
	}).Parse(text)
}

func (tn *TelegramNotifier) SendAlert(event model.Event) error {
	if !tn.enabled {
		tn.logger.Debug("Telegram notifier is disabled, skipping event")
		return nil
	}

	text := tn.formatEventMessage(event)

	var lastErr error
	for attempt := 1; attempt <= tn.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), telegramSendTimeout)
		lastErr = tn.sendMessage(ctx, text)
		cancel()
		if lastErr == nil {
			tn.logger.Debugf("Event %s sent to Telegram", event.ID)
			return nil
		}

		tn.logger.Warnf("Telegram delivery of %s event failed (attempt %d/%d): %v", event.Type, attempt, tn.maxRetries, lastErr)
		if attempt < tn.maxRetries {
			time.Sleep(time.Duration(attempt) * tn.retryDelay)
		}
	}

	return fmt.Errorf("telegram: giving up on event %s after %d attempts: %w", event.ID, tn.maxRetries, lastErr)
}

func (tn *TelegramNotifier) formatEventMessage(event model.Event) string {
	if tn.tmpl != nil {
		var buf bytes.Buffer
		err := tn.tmpl.Execute(&buf, event)
		if err == nil {
			return buf.String()
		}
		tn.logger.Warnf("Telegram message template failed, using default layout: %v", err)
	}

	title, ok := eventTitles[event.Type]
	if !ok {
		title = string(event.Type)
	}
	source := event.Source.String()
	if source == "" {
		source = "-"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DDoS GUARD: %s\n\n", title)
	fmt.Fprintf(&b, "time: %s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "severity: %s\n", event.Severity)
	fmt.Fprintf(&b, "source: %s\n", source)
	if event.Count > 0 {
		fmt.Fprintf(&b, "packets in window: %d\n", event.Count)
	}
	fmt.Fprintf(&b, "description: %s", event.Message)
	return b.String()
}

// effectiveParseMode drops Markdown modes: IPv6 colons and the underscores
// in event types would need escaping.
func (tn *TelegramNotifier) effectiveParseMode() string {
	switch tn.parseMode {
	case "Markdown", "MarkdownV2":
		return ""
	}
	return tn.parseMode
}

func (tn *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(TelegramMessage{
		ChatID:    tn.chatID,
		Text:      text,
		ParseMode: tn.effectiveParseMode(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("unreadable response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error (HTTP %d): %s", resp.StatusCode, result.Description)
	}
	return nil
}

func (tn *TelegramNotifier) SendTestMessage() error {
	if !tn.enabled {
		return fmt.Errorf("telegram notifier is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), telegramSendTimeout)
	defer cancel()
	return tn.sendMessage(ctx, "Test Message\n\nDDoS guard is working correctly!")
}

func (tn *TelegramNotifier) IsEnabled() bool {
	return tn.enabled
}
