// Package signal defines the canonical data model shared across the
// refinery pipeline: unified signals, per-provider poll state, synthesized
// operations, and supervisor action plans.
package signal

import (
	"time"
)

// Source identifies the external system a signal originated from.
type Source string

const (
	SourceGitHub   Source = "github"   // issue tracker, PRs, CI
	SourceJira     Source = "jira"     // ticketing
	SourceSlack    Source = "slack"    // chat mentions
	SourceTelegram Source = "telegram" // push-based messaging channel
	SourceTodo     Source = "todo"     // in-code annotations
	SourceLSP      Source = "lsp"      // static analysis diagnostics
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceGitHub, SourceJira, SourceSlack, SourceTelegram, SourceTodo, SourceLSP:
		return true
	}
	return false
}

// Status tracks a signal through its lifecycle: new -> triaged -> linked,
// or dismissed at any point.
type Status string

const (
	StatusNew       Status = "new"
	StatusTriaged   Status = "triaged"
	StatusLinked    Status = "linked"
	StatusDismissed Status = "dismissed"
)

// Priority bounds. 1 is most urgent; 5 is noise. Note this is inverted
// relative to the external triage service, which reports 5 as most critical.
const (
	PriorityCritical = 1
	PriorityNoise    = 5
	PriorityDefault  = 3
)

// Signal is the unified record every provider normalizes into.
// (Source, ExternalID) is unique when ExternalID is non-empty; push-based
// signals without an external id are inserted once per ingestion call and
// never content-deduplicated.
type Signal struct {
	ID         string `json:"id"`
	Source     Source `json:"source"`
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	URL        string `json:"url,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`

	// Priority is on the internal 1..5 scale, 1 = most urgent.
	Priority int    `json:"priority"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`

	// ProviderMetadata is an opaque bag of source-specific details, kept
	// loosely typed on purpose: it is read only for display and debugging.
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`

	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	FetchedAt   string `json:"fetched_at"`
	OperationID string `json:"operation_id,omitempty"`
}

// Tag returns the annotation tag (TODO, BUG, FIXME, ...) recorded by the
// provider, or "" when none is present.
func (s *Signal) Tag() string {
	if s.ProviderMetadata == nil {
		return ""
	}
	tag, _ := s.ProviderMetadata["tag"].(string)
	return tag
}

// Severity returns the provider-reported severity marker, or "".
func (s *Signal) Severity() string {
	if s.ProviderMetadata == nil {
		return ""
	}
	sev, _ := s.ProviderMetadata["severity"].(string)
	return sev
}

// PollState records the bookkeeping for one provider's polling loop.
type PollState struct {
	Provider   string `json:"provider"`
	LastPollAt string `json:"last_poll_at,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// OperationStatus tracks an operation through its forward-only lifecycle.
type OperationStatus string

const (
	OperationAnalysis  OperationStatus = "analysis"
	OperationDeploying OperationStatus = "deploying"
	OperationTesting   OperationStatus = "testing"
	OperationCompleted OperationStatus = "completed"
)

// Operation is a cluster of related signals representing one unit of work.
// It owns its signal snapshot: later changes to a stored signal do not
// retroactively change the operation unless it is re-synthesized.
type Operation struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         OperationStatus `json:"status"`
	Signals        []Signal        `json:"signals"`
	RelatedSectors []string        `json:"related_sectors"`
	Reward         int             `json:"reward"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// PlanTool enumerates the whitelisted tool surface a plan step may invoke.
type PlanTool string

const (
	ToolReadFile   PlanTool = "read_file"
	ToolWriteFile  PlanTool = "write_file"
	ToolListFiles  PlanTool = "list_files"
	ToolSearchText PlanTool = "search_text"
	ToolRunCommand PlanTool = "run_command"
)

// Valid reports whether t names a whitelisted tool.
func (t PlanTool) Valid() bool {
	switch t {
	case ToolReadFile, ToolWriteFile, ToolListFiles, ToolSearchText, ToolRunCommand:
		return true
	}
	return false
}

// StepStatus tracks one plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepSimulated StepStatus = "simulated"
)

// PlanStatus tracks a whole action plan. Completed, failed and dismissed
// are terminal.
type PlanStatus string

const (
	PlanProposed  PlanStatus = "proposed"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanDismissed PlanStatus = "dismissed"
)

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanDismissed
}

// PlanStep is a single tool invocation inside an action plan.
// OldContent/NewContent/FilePath are captured only for write and
// simulated-write steps.
type PlanStep struct {
	Index         int            `json:"index"`
	Tool          PlanTool       `json:"tool"`
	Description   string         `json:"description"`
	Input         map[string]any `json:"input"`
	Status        StepStatus     `json:"status"`
	ResultSummary string         `json:"result_summary,omitempty"`
	OldContent    string         `json:"old_content,omitempty"`
	NewContent    string         `json:"new_content,omitempty"`
	FilePath      string         `json:"file_path,omitempty"`
}

// ActionPlan is a generated remediation sequence for one signal.
type ActionPlan struct {
	ID            string     `json:"id"`
	SignalID      string     `json:"signal_id"`
	SignalTitle   string     `json:"signal_title"`
	SignalReason  string     `json:"signal_reason,omitempty"`
	Steps         []PlanStep `json:"steps"`
	Status        PlanStatus `json:"status"`
	SandboxMode   bool       `json:"sandbox_mode"`
	AffectedFiles []string   `json:"affected_files"`
	ExecutionLog  []string   `json:"execution_log"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// ProviderStatus is the per-provider view returned by the status endpoints.
type ProviderStatus struct {
	Name         string `json:"name"`
	Configured   bool   `json:"configured"`
	Enabled      bool   `json:"enabled"`
	PollInterval int    `json:"poll_interval"`
	LastPoll     string `json:"last_poll,omitempty"`
	ErrorCount   int    `json:"error_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Now returns the current UTC time in the RFC3339 format used for every
// timestamp column and JSON field in the pipeline.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
