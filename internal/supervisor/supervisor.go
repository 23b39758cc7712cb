// Package supervisor generates remediation plans for high-priority
// signals and executes them step-by-step against the constrained tool
// surface, with sandbox containment for writes and commands.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/llm"
	"refinery/internal/signal"
	"refinery/internal/tools"
	"refinery/internal/workspace"
)

// maxPlanSteps caps how many steps a generated plan may carry.
const maxPlanSteps = 10

const planSystemPrompt = `You are a code assistant that creates actionable plans to resolve software issues.

Given a signal (issue / alert / message) and a project file listing, produce a concrete plan of tool calls that would investigate or fix the issue.

Available tools:
- read_file(path): Read file contents
- write_file(path, content): Write/overwrite a file
- list_files(path, max?): List directory contents
- search_text(pattern, path?, extension?): Search for text in files
- run_command(command): Execute a shell command

Return a JSON object:
{
  "steps": [
    {
      "tool": "read_file|write_file|list_files|search_text|run_command",
      "description": "Brief human-readable description of this step",
      "input": { ... tool-specific input ... },
      "file_path": "optional: primary file this step affects"
    }
  ],
  "affected_files": ["list of files this plan touches"],
  "rationale": "1-2 sentence explanation of the overall approach"
}

Rules:
- Maximum 10 steps
- Start with investigation (read/search) before modifications (write)
- Be specific: use real file paths from the project listing
- Only output valid JSON, nothing else`

// Supervisor owns the in-memory plan store and the execution machinery.
type Supervisor struct {
	cfg           config.SupervisorConfig
	client        llm.Client
	registry      *tools.Registry
	workspaceRoot string
	log           *zap.Logger

	mu    sync.RWMutex
	plans map[string]*signal.ActionPlan
}

// New creates a supervisor. client may be nil, in which case no plans
// are ever generated.
func New(cfg config.SupervisorConfig, client llm.Client, registry *tools.Registry, workspaceRoot string, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		cfg:           cfg,
		client:        client,
		registry:      registry,
		workspaceRoot: workspaceRoot,
		log:           log,
		plans:         make(map[string]*signal.ActionPlan),
	}
}

// OnSignalsTriaged inspects a freshly triaged batch and generates plans
// for signals in the two most urgent tiers that do not already have a
// live plan. Generation failures are logged and skipped.
func (s *Supervisor) OnSignalsTriaged(ctx context.Context, signals []signal.Signal) {
	if !s.cfg.Enabled || s.client == nil {
		return
	}
	for i := range signals {
		sig := &signals[i]
		if sig.Priority > 2 {
			continue
		}
		if s.hasLivePlan(sig.ID) {
			continue
		}
		plan, err := s.generatePlan(ctx, sig)
		if err != nil {
			s.log.Warn("plan generation failed",
				zap.String("signal_id", sig.ID), zap.Error(err))
			continue
		}
		if plan == nil {
			continue
		}
		s.mu.Lock()
		s.plans[plan.ID] = plan
		s.mu.Unlock()
		s.log.Info("generated remediation plan",
			zap.String("plan_id", plan.ID),
			zap.String("signal_id", sig.ID),
			zap.Int("steps", len(plan.Steps)))
	}
}

func (s *Supervisor) hasLivePlan(signalID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.SignalID == signalID && !p.Status.Terminal() {
			return true
		}
	}
	return false
}

type rawPlan struct {
	Steps []struct {
		Tool        string         `json:"tool"`
		Description string         `json:"description"`
		Input       map[string]any `json:"input"`
		FilePath    string         `json:"file_path"`
	} `json:"steps"`
	AffectedFiles []string `json:"affected_files"`
	Rationale     string   `json:"rationale"`
}

func (s *Supervisor) generatePlan(ctx context.Context, sig *signal.Signal) (*signal.ActionPlan, error) {
	userPrompt := fmt.Sprintf("Signal: %s\nContent: %s\n", sig.Title, sig.Content)
	if sig.Reason != "" {
		userPrompt += "Reason: " + sig.Reason + "\n"
	}
	if sig.FilePath != "" {
		userPrompt += "Related file: " + sig.FilePath + "\n"
	}
	listing := workspace.ListFiles(s.workspaceRoot, 100)
	userPrompt += "\nProject files:\n"
	if len(listing) == 0 {
		userPrompt += "(no listing available)"
	} else {
		for _, f := range listing {
			userPrompt += f + "\n"
		}
	}

	response, err := s.client.Complete(ctx, planSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("plan completion: %w", err)
	}
	extracted, err := llm.ExtractJSON(response)
	if err != nil {
		return nil, fmt.Errorf("plan response not parseable: %w", err)
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(raw.Steps) == 0 {
		return nil, nil
	}
	if len(raw.Steps) > maxPlanSteps {
		raw.Steps = raw.Steps[:maxPlanSteps]
	}

	var steps []signal.PlanStep
	for _, rs := range raw.Steps {
		tool := signal.PlanTool(rs.Tool)
		if !tool.Valid() {
			continue
		}
		steps = append(steps, signal.PlanStep{
			Index:       len(steps),
			Tool:        tool,
			Description: rs.Description,
			Input:       rs.Input,
			Status:      signal.StepPending,
			FilePath:    rs.FilePath,
		})
	}
	if len(steps) == 0 {
		return nil, nil
	}

	reason := sig.Reason
	if reason == "" {
		reason = raw.Rationale
	}
	now := signal.Now()
	return &signal.ActionPlan{
		ID:            uuid.NewString(),
		SignalID:      sig.ID,
		SignalTitle:   sig.Title,
		SignalReason:  reason,
		Steps:         steps,
		Status:        signal.PlanProposed,
		SandboxMode:   s.cfg.SandboxMode,
		AffectedFiles: raw.AffectedFiles,
		ExecutionLog:  []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Plans returns stored plans, newest first, optionally filtered by
// status and capped at limit.
func (s *Supervisor) Plans(status signal.PlanStatus, limit int) []signal.ActionPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []signal.ActionPlan
	for _, p := range s.plans {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Plan returns a copy of one plan.
func (s *Supervisor) Plan(id string) (signal.ActionPlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return signal.ActionPlan{}, false
	}
	return *p, true
}

// DismissPlan moves a proposed plan to dismissed. Returns the plan and
// whether it exists; dismissal only applies to proposed plans.
func (s *Supervisor) DismissPlan(id string) (signal.ActionPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return signal.ActionPlan{}, false
	}
	if p.Status == signal.PlanProposed {
		p.Status = signal.PlanDismissed
		p.UpdatedAt = signal.Now()
	}
	return *p, true
}

// ProposedCount returns how many plans await a decision.
func (s *Supervisor) ProposedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.plans {
		if p.Status == signal.PlanProposed {
			n++
		}
	}
	return n
}
