package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
)

// jiraPriorityMap converts Jira priority names onto the internal scale.
var jiraPriorityMap = map[string]int{
	"highest": 1,
	"high":    2,
	"medium":  3,
	"low":     4,
	"lowest":  5,
}

// Jira fetches issues assigned to the authenticated user via the REST
// API v3 search endpoint.
type Jira struct {
	cfg  config.JiraConfig
	http *http.Client
	log  *zap.Logger
}

// NewJira creates the Jira provider.
func NewJira(cfg config.JiraConfig, log *zap.Logger) *Jira {
	return &Jira{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

func (j *Jira) Name() string { return string(signal.SourceJira) }

func (j *Jira) Configured() bool {
	return strings.TrimSpace(j.cfg.BaseURL) != "" &&
		strings.TrimSpace(j.cfg.Email) != "" &&
		strings.TrimSpace(j.cfg.APIToken) != ""
}

func (j *Jira) Enabled() bool { return j.cfg.Enabled }

func (j *Jira) PollInterval() time.Duration {
	return config.ParseDuration(j.cfg.PollInterval, 5*time.Minute)
}

func (j *Jira) Fetch(ctx context.Context, since string) ([]signal.Signal, error) {
	base := strings.TrimRight(strings.TrimSpace(j.cfg.BaseURL), "/")

	jql := "assignee = currentUser() AND status != Done"
	if since != "" {
		if sinceTime, err := time.Parse(time.RFC3339, since); err == nil {
			minutes := int(time.Since(sinceTime).Minutes())
			if minutes < 1 {
				minutes = 1
			}
			jql += fmt.Sprintf(` AND updated >= "-%dm"`, minutes)
		}
	}

	params := url.Values{
		"jql":        {jql},
		"maxResults": {"30"},
		"fields":     {"summary,description,priority,status,issuetype,updated,created,labels,project"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		base+"/rest/api/3/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(strings.TrimSpace(j.cfg.Email), strings.TrimSpace(j.cfg.APIToken))
	req.Header.Set("Accept", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jira search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Issues []jiraIssue `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode jira response: %w", err)
	}

	now := signal.Now()
	var signals []signal.Signal
	for _, issue := range result.Issues {
		f := issue.Fields
		jiraPriority := strings.ToLower(f.Priority.Name)
		priority, ok := jiraPriorityMap[jiraPriority]
		if !ok {
			priority = signal.PriorityDefault
		}
		// Bugs never sit below priority 2.
		if strings.EqualFold(f.IssueType.Name, "bug") && priority > 2 {
			priority = 2
		}

		description := flattenADF(f.Description)
		if len(description) > 500 {
			description = description[:500]
		}

		signals = append(signals, signal.Signal{
			ID:         fmt.Sprintf("jira-%s-%s", issue.Key, shortID()),
			Source:     signal.SourceJira,
			ExternalID: issue.Key,
			Title:      fmt.Sprintf("[%s] %s", issue.Key, f.Summary),
			Content:    description,
			URL:        base + "/browse/" + issue.Key,
			Priority:   priority,
			ProviderMetadata: map[string]any{
				"type":          f.IssueType.Name,
				"status":        f.Status.Name,
				"project":       f.Project.Key,
				"labels":        f.Labels,
				"jira_priority": jiraPriority,
			},
			CreatedAt: orNow(f.Created, now),
			UpdatedAt: orNow(f.Updated, now),
			FetchedAt: now,
		})
	}
	return signals, nil
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Priority    struct {
			Name string `json:"name"`
		} `json:"priority"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Labels  []string `json:"labels"`
		Created string   `json:"created"`
		Updated string   `json:"updated"`
	} `json:"fields"`
}

// flattenADF extracts plain text from a Jira description, which may be
// a bare string or an Atlassian Document Format tree.
func flattenADF(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}
	var texts []string
	walkADF(node, &texts)
	return strings.Join(texts, " ")
}

func walkADF(node any, texts *[]string) {
	switch n := node.(type) {
	case map[string]any:
		if n["type"] == "text" {
			if text, ok := n["text"].(string); ok {
				*texts = append(*texts, text)
			}
		}
		if content, ok := n["content"].([]any); ok {
			for _, child := range content {
				walkADF(child, texts)
			}
		}
	case []any:
		for _, item := range n {
			walkADF(item, texts)
		}
	}
}
