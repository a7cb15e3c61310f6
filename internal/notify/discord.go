package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const discordMaxLen = 2000

// discordEscaper neutralises the markdown characters market questions
// tend to contain, so the body renders as written.
var discordEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`", `~`, `\~`, `|`, `\|`, `>`, `\>`,
)

type discordMessage struct {
	Username        string                 `json:"username,omitempty"`
	Content         string                 `json:"content"`
	AllowedMentions discordAllowedMentions `json:"allowed_mentions"`
}

// An empty parse list stops "@everyone" in a market title from pinging.
type discordAllowedMentions struct {
	Parse []string `json:"parse"`
}

// DiscordSender posts notifications to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL with a 10-second
// HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "polyclaw",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the title in bold followed by the escaped message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username:        d.username,
		Content:         truncate("**"+discordEscaper.Replace(title)+"**\n"+discordEscaper.Replace(message), discordMaxLen),
		AllowedMentions: discordAllowedMentions{Parse: []string{}},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(respBody, &rl) == nil && rl.RetryAfter > 0 {
			return fmt.Errorf("discord: rate limited (status %d), retry after %.1fs", resp.StatusCode, rl.RetryAfter)
		}
	}
	return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
