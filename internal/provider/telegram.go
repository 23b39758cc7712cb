package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"refinery/internal/config"
	"refinery/internal/signal"
)

// Telegram is push-based: messages arrive through the ingest endpoint
// and are normalized with NormalizeMessages. Fetch always returns
// nothing.
type Telegram struct {
	cfg config.TelegramConfig
}

// NewTelegram creates the Telegram provider.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{cfg: cfg}
}

func (t *Telegram) Name() string { return string(signal.SourceTelegram) }

// Configured is always true: push delivery needs no credentials here.
func (t *Telegram) Configured() bool { return true }

func (t *Telegram) Enabled() bool { return t.cfg.Enabled }

func (t *Telegram) PollInterval() time.Duration { return 5 * time.Minute }

func (t *Telegram) Fetch(ctx context.Context, since string) ([]signal.Signal, error) {
	return nil, nil
}

// TelegramMessage is the raw push payload for one chat message.
type TelegramMessage struct {
	ID          json.Number `json:"id"`
	Text        string      `json:"text"`
	Sender      string      `json:"sender"`
	SenderName  string      `json:"sender_name"`
	Date        string      `json:"date"`
	LinkedFiles []string    `json:"linked_files"`
}

// NormalizeMessages converts raw pushed messages into signals. Messages
// have no stable external id guarantee, so the id field is passed
// through as-is; empty ids mean the signal is inserted without dedup.
func NormalizeMessages(messages []TelegramMessage) []signal.Signal {
	now := signal.Now()
	signals := make([]signal.Signal, 0, len(messages))
	for _, msg := range messages {
		sender := msg.SenderName
		if sender == "" {
			sender = msg.Sender
		}
		title := truncateText(msg.Text, 60)
		if sender != "" {
			title = fmt.Sprintf("[%s] %s", sender, truncateText(msg.Text, 60))
		}
		filePath := ""
		if len(msg.LinkedFiles) > 0 {
			filePath = msg.LinkedFiles[0]
		}
		externalID := msg.ID.String()
		msgID := externalID
		if msgID == "" {
			msgID = shortID()
		}

		signals = append(signals, signal.Signal{
			ID:         fmt.Sprintf("tg-%s-%s", msgID, shortID()),
			Source:     signal.SourceTelegram,
			ExternalID: externalID,
			Title:      title,
			Content:    msg.Text,
			FilePath:   filePath,
			Priority:   signal.PriorityDefault,
			ProviderMetadata: map[string]any{
				"sender":       sender,
				"date":         msg.Date,
				"linked_files": msg.LinkedFiles,
			},
			CreatedAt: now,
			UpdatedAt: now,
			FetchedAt: now,
		})
	}
	return signals
}
