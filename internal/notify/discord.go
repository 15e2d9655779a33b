package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"confluencebot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Цвета embed по уровню важности
const (
	colorInfo  = 0x3498db
	colorWarn  = 0xf1c40f
	colorError = 0xe74c3c
)

// DiscordPusher отправляет уведомления в Discord webhook
type DiscordPusher struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordPusher создает pusher; client == nil - http.DefaultClient
func NewDiscordPusher(webhookURL string, client *http.Client) *DiscordPusher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DiscordPusher{webhookURL: webhookURL, client: client}
}

// Name реализует Pusher
func (d *DiscordPusher) Name() string { return "discord" }

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Fields      []discordField    `json:"fields,omitempty"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Push отправляет embed с полями из meta
func (d *DiscordPusher) Push(ctx context.Context, n *models.Notification) error {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	data := Data(n)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]discordField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, discordField{Name: k, Value: data[k], Inline: true})
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title:       Title(n),
		Description: n.Message,
		Color:       severityColor(n.Severity),
		Fields:      fields,
		Footer:      map[string]string{"text": "confluence bot"},
		Timestamp:   ts.UTC().Format(time.RFC3339),
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}

func severityColor(severity string) int {
	switch SeverityRank(severity) {
	case 2:
		return colorError
	case 1:
		return colorWarn
	default:
		return colorInfo
	}
}
