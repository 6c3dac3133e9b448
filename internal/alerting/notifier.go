package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"pm-embed/internal/watch"
)

// maxListed 单条消息最多列出的变更数。
const maxListed = 20

// maxValueChars 截断过长的新旧值。
const maxValueChars = 80

// Notification 封装一次 watch run 的变更摘要。
type Notification struct {
	RunID         string
	RanAt         time.Time
	Checked       int
	Changes       []watch.Change
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     RenderMessage(note),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("changes", len(note.Changes)).
		Msg("change summary sent (Telegram)")
	return nil
}

// RenderMessage formats a plain-text change summary.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[pm-embed watch]\n")
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	if !note.RanAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Ran at: %s UTC\n", note.RanAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Checked: %d, changes: %d\n", note.Checked, len(note.Changes)))
	for i, c := range note.Changes {
		if i == maxListed {
			builder.WriteString(fmt.Sprintf("... and %d more\n", len(note.Changes)-maxListed))
			break
		}
		builder.WriteString(fmt.Sprintf("- %s: %s", c.Slug, c.Kind))
		if c.OldValue != nil || c.NewValue != nil {
			builder.WriteString(fmt.Sprintf(" (%s -> %s)", short(c.OldValue), short(c.NewValue)))
		}
		builder.WriteString("\n")
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func short(v *string) string {
	if v == nil {
		return "null"
	}
	s := *v
	if utf8.RuneCountInString(s) <= maxValueChars {
		return s
	}
	return string([]rune(s)[:maxValueChars]) + "…"
}

// Filter drops changes whose kind is in skip.
func Filter(changes []watch.Change, skip []string) []watch.Change {
	if len(skip) == 0 {
		return changes
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, k := range skip {
		skipped[strings.TrimSpace(k)] = struct{}{}
	}
	out := make([]watch.Change, 0, len(changes))
	for _, c := range changes {
		if _, ok := skipped[c.Kind]; !ok {
			out = append(out, c)
		}
	}
	return out
}

var _ Notifier = (*TelegramNotifier)(nil)
