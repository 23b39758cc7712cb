package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
)

// codeIndicators marks a message as referencing code even without an
// explicit @mention.
var codeIndicators = []string{
	".ts", ".tsx", ".py", ".js", ".jsx", ".rs", ".go",
	".java", ".cpp", ".h", ".css", ".html",
	"/src/", "/backend/", "/api/", "/components/",
}

// Slack fetches recent messages from monitored channels, keeping only
// @mentions (priority 3) and messages referencing code (priority 4).
type Slack struct {
	cfg  config.SlackConfig
	http *http.Client
	log  *zap.Logger
}

// NewSlack creates the Slack provider.
func NewSlack(cfg config.SlackConfig, log *zap.Logger) *Slack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://slack.com/api"
	}
	return &Slack{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

func (s *Slack) Name() string { return string(signal.SourceSlack) }

func (s *Slack) Configured() bool { return strings.TrimSpace(s.cfg.BotToken) != "" }

func (s *Slack) Enabled() bool { return s.cfg.Enabled }

func (s *Slack) PollInterval() time.Duration {
	return config.ParseDuration(s.cfg.PollInterval, 5*time.Minute)
}

func (s *Slack) Fetch(ctx context.Context, since string) ([]signal.Signal, error) {
	channels := s.channelList()
	if len(channels) == 0 {
		var err error
		channels, err = s.discoverChannels(ctx)
		if err != nil {
			return nil, err
		}
		if len(channels) == 0 {
			return nil, nil
		}
	}
	if len(channels) > 5 {
		channels = channels[:5]
	}

	oldest := ""
	if since != "" {
		if sinceTime, err := time.Parse(time.RFC3339, since); err == nil {
			oldest = strconv.FormatInt(sinceTime.Unix(), 10)
		}
	}

	now := signal.Now()
	var signals []signal.Signal
	for _, channelID := range channels {
		params := url.Values{
			"channel": {channelID},
			"limit":   {"20"},
		}
		if oldest != "" {
			params.Set("oldest", oldest)
		}
		var history struct {
			OK       bool `json:"ok"`
			Messages []struct {
				Text    string `json:"text"`
				User    string `json:"user"`
				TS      string `json:"ts"`
				Subtype string `json:"subtype"`
			} `json:"messages"`
		}
		if err := s.getJSON(ctx, "/conversations.history", params, &history); err != nil {
			return nil, err
		}
		if !history.OK {
			continue
		}

		channelName := s.channelName(ctx, channelID)
		for _, msg := range history.Messages {
			if msg.Text == "" || msg.Subtype == "bot_message" {
				continue
			}
			isMention := strings.Contains(msg.Text, "<@")
			hasFileRef := hasCodeReference(msg.Text)
			if !isMention && !hasFileRef {
				continue
			}

			priority := 4
			if isMention {
				priority = 3
			}
			msgTime := tsToRFC3339(msg.TS, now)

			signals = append(signals, signal.Signal{
				ID:         fmt.Sprintf("slack-%s-%s-%s", channelID, msg.TS, shortID()),
				Source:     signal.SourceSlack,
				ExternalID: channelID + ":" + msg.TS,
				Title:      fmt.Sprintf("#%s: %s", channelName, truncateText(msg.Text, 60)),
				Content:    msg.Text,
				URL: fmt.Sprintf("https://slack.com/archives/%s/p%s",
					channelID, strings.ReplaceAll(msg.TS, ".", "")),
				Priority: priority,
				ProviderMetadata: map[string]any{
					"channel_id":   channelID,
					"channel_name": channelName,
					"user_id":      msg.User,
					"ts":           msg.TS,
					"is_mention":   isMention,
					"has_file_ref": hasFileRef,
				},
				CreatedAt: msgTime,
				UpdatedAt: msgTime,
				FetchedAt: now,
			})
		}
	}
	return signals, nil
}

func (s *Slack) channelList() []string {
	var out []string
	for _, c := range s.cfg.Channels {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// discoverChannels returns up to five channels the bot is a member of,
// used when no channels are configured explicitly.
func (s *Slack) discoverChannels(ctx context.Context) ([]string, error) {
	var result struct {
		OK       bool `json:"ok"`
		Channels []struct {
			ID       string `json:"id"`
			IsMember bool   `json:"is_member"`
		} `json:"channels"`
	}
	err := s.getJSON(ctx, "/conversations.list", url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
		"limit":            {"5"},
	}, &result)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, nil
	}
	var out []string
	for _, ch := range result.Channels {
		if ch.IsMember {
			out = append(out, ch.ID)
		}
		if len(out) == 5 {
			break
		}
	}
	return out, nil
}

func (s *Slack) channelName(ctx context.Context, channelID string) string {
	var result struct {
		OK      bool `json:"ok"`
		Channel struct {
			Name string `json:"name"`
		} `json:"channel"`
	}
	err := s.getJSON(ctx, "/conversations.info", url.Values{"channel": {channelID}}, &result)
	if err != nil || !result.OK || result.Channel.Name == "" {
		return channelID
	}
	return result.Channel.Name
}

func (s *Slack) getJSON(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + method
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.cfg.BotToken))

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack api %s: status %d", method, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func hasCodeReference(text string) bool {
	lower := strings.ToLower(text)
	for _, ind := range codeIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// tsToRFC3339 converts a Slack "seconds.micros" timestamp.
func tsToRFC3339(ts, fallback string) string {
	epoch, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339)
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
