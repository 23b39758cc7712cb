package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
)

// GitHub fetches open pull requests, assigned issues, and failed CI
// runs. Pull requests awaiting your review poll at priority 2, other
// PRs and issues at 3, and CI failures at 1.
type GitHub struct {
	cfg           config.GitHubConfig
	workspaceRoot string
	http          *http.Client
	log           *zap.Logger
}

// NewGitHub creates the GitHub provider.
func NewGitHub(cfg config.GitHubConfig, workspaceRoot string, log *zap.Logger) *GitHub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	return &GitHub{
		cfg:           cfg,
		workspaceRoot: workspaceRoot,
		http:          &http.Client{Timeout: 30 * time.Second},
		log:           log,
	}
}

func (g *GitHub) Name() string { return string(signal.SourceGitHub) }

func (g *GitHub) Configured() bool { return strings.TrimSpace(g.cfg.Token) != "" }

func (g *GitHub) Enabled() bool { return g.cfg.Enabled }

func (g *GitHub) PollInterval() time.Duration {
	return config.ParseDuration(g.cfg.PollInterval, 5*time.Minute)
}

func (g *GitHub) Fetch(ctx context.Context, since string) ([]signal.Signal, error) {
	owner, repo := g.ownerRepo()
	if owner == "" || repo == "" {
		return nil, nil
	}
	base := fmt.Sprintf("%s/repos/%s/%s", strings.TrimRight(g.cfg.BaseURL, "/"), owner, repo)
	now := signal.Now()

	var signals []signal.Signal

	// Open PRs, most recently updated first. An auth failure here is
	// retryable and aborts the sweep for this provider.
	var prs []ghPullRequest
	if err := g.getJSON(ctx, base+"/pulls", url.Values{
		"state": {"open"}, "sort": {"updated"}, "per_page": {"20"},
	}, &prs); err != nil {
		return nil, err
	}
	for _, pr := range prs {
		priority := 3
		if len(pr.RequestedReviewers) > 0 {
			priority = 2
		}
		files := g.prFiles(ctx, base, pr.Number)
		filePath := ""
		if len(files) > 0 {
			filePath = files[0]
		}
		changed := files
		if len(changed) > 5 {
			changed = changed[:5]
		}
		signals = append(signals, signal.Signal{
			ID:         fmt.Sprintf("gh-pr-%d-%s", pr.Number, shortID()),
			Source:     signal.SourceGitHub,
			ExternalID: fmt.Sprintf("pr-%d", pr.Number),
			Title:      fmt.Sprintf("PR #%d: %s", pr.Number, pr.Title),
			Content:    pr.Body,
			URL:        pr.HTMLURL,
			FilePath:   filePath,
			Priority:   priority,
			ProviderMetadata: map[string]any{
				"type":          "pull_request",
				"number":        pr.Number,
				"author":        pr.User.Login,
				"changed_files": changed,
				"labels":        labelNames(pr.Labels),
			},
			CreatedAt: orNow(pr.CreatedAt, now),
			UpdatedAt: orNow(pr.UpdatedAt, now),
			FetchedAt: now,
		})
	}

	// Assigned issues. The issues endpoint also returns PRs; skip them.
	var issues []ghIssue
	if err := g.getJSON(ctx, base+"/issues", url.Values{
		"assignee": {"@me"}, "state": {"open"}, "per_page": {"20"},
	}, &issues); err != nil {
		g.log.Debug("github issues fetch failed", zap.Error(err))
	} else {
		for _, issue := range issues {
			if issue.PullRequest != nil {
				continue
			}
			signals = append(signals, signal.Signal{
				ID:         fmt.Sprintf("gh-issue-%d-%s", issue.Number, shortID()),
				Source:     signal.SourceGitHub,
				ExternalID: fmt.Sprintf("issue-%d", issue.Number),
				Title:      fmt.Sprintf("Issue #%d: %s", issue.Number, issue.Title),
				Content:    issue.Body,
				URL:        issue.HTMLURL,
				Priority:   3,
				ProviderMetadata: map[string]any{
					"type":   "issue",
					"number": issue.Number,
					"labels": labelNames(issue.Labels),
				},
				CreatedAt: orNow(issue.CreatedAt, now),
				UpdatedAt: orNow(issue.UpdatedAt, now),
				FetchedAt: now,
			})
		}
	}

	// Failed CI runs surface at the highest priority.
	var runs ghWorkflowRuns
	if err := g.getJSON(ctx, base+"/actions/runs", url.Values{
		"status": {"failure"}, "per_page": {"5"},
	}, &runs); err != nil {
		g.log.Debug("github workflow runs fetch failed", zap.Error(err))
	} else {
		for _, run := range runs.WorkflowRuns {
			sha := run.HeadSHA
			if len(sha) > 8 {
				sha = sha[:8]
			}
			name := run.Name
			if name == "" {
				name = "workflow"
			}
			signals = append(signals, signal.Signal{
				ID:         fmt.Sprintf("gh-ci-%d-%s", run.ID, shortID()),
				Source:     signal.SourceGitHub,
				ExternalID: fmt.Sprintf("ci-%d", run.ID),
				Title:      "CI Failed: " + name,
				Content:    fmt.Sprintf("Branch: %s, commit: %s", run.HeadBranch, sha),
				URL:        run.HTMLURL,
				Priority:   signal.PriorityCritical,
				ProviderMetadata: map[string]any{
					"type":     "ci_failure",
					"run_id":   run.ID,
					"branch":   run.HeadBranch,
					"workflow": run.Name,
				},
				CreatedAt: orNow(run.CreatedAt, now),
				UpdatedAt: orNow(run.UpdatedAt, now),
				FetchedAt: now,
			})
		}
	}

	return signals, nil
}

// ownerRepo returns the configured owner/repo pair, falling back to
// parsing the workspace git remote.
func (g *GitHub) ownerRepo() (string, string) {
	owner := strings.TrimSpace(g.cfg.Owner)
	repo := strings.TrimSpace(g.cfg.Repo)
	if owner != "" && repo != "" {
		return owner, repo
	}
	return detectOwnerRepo(g.workspaceRoot)
}

func (g *GitHub) prFiles(ctx context.Context, base string, number int) []string {
	var files []struct {
		Filename string `json:"filename"`
	}
	err := g.getJSON(ctx, fmt.Sprintf("%s/pulls/%d/files", base, number),
		url.Values{"per_page": {"5"}}, &files)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Filename)
	}
	return out
}

func (g *GitHub) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github api %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// detectOwnerRepo parses the origin remote of the workspace git repo,
// handling both SSH (git@github.com:owner/repo.git) and HTTPS forms.
func detectOwnerRepo(workspaceRoot string) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	if workspaceRoot != "" {
		cmd.Dir = workspaceRoot
	}
	out, err := cmd.Output()
	if err != nil {
		return "", ""
	}
	remote := strings.TrimSpace(string(out))

	var path string
	switch {
	case strings.HasPrefix(remote, "git@"):
		parts := strings.Split(remote, ":")
		path = parts[len(parts)-1]
	case strings.Contains(remote, "github.com"):
		idx := strings.Index(remote, "github.com/")
		path = remote[idx+len("github.com/"):]
	default:
		return "", ""
	}
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghPullRequest struct {
	Number             int       `json:"number"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	HTMLURL            string    `json:"html_url"`
	User               ghUser    `json:"user"`
	Labels             []ghLabel `json:"labels"`
	RequestedReviewers []ghUser  `json:"requested_reviewers"`
	CreatedAt          string    `json:"created_at"`
	UpdatedAt          string    `json:"updated_at"`
}

type ghIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	Labels      []ghLabel `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

type ghWorkflowRuns struct {
	WorkflowRuns []struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		HTMLURL    string `json:"html_url"`
		CreatedAt  string `json:"created_at"`
		UpdatedAt  string `json:"updated_at"`
	} `json:"workflow_runs"`
}

func labelNames(labels []ghLabel) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Name)
	}
	return out
}

func orNow(ts, now string) string {
	if ts == "" {
		return now
	}
	return ts
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
