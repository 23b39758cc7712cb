package supervisor

import (
	"context"
	"fmt"

	"refinery/internal/signal"
	"refinery/internal/tools"
)

// Event types emitted during plan execution.
const (
	EventStepStart    = "step_start"
	EventStepResult   = "step_result"
	EventStepDiff     = "step_diff"
	EventPlanComplete = "plan_complete"
)

// Event is one entry in the ordered execution stream. The channel is
// closed after the terminal plan_complete event.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ErrPlanNotFound is returned when executing an unknown plan id.
var ErrPlanNotFound = fmt.Errorf("plan not found")

// ErrPlanNotExecutable is returned when a plan is not in a runnable
// state: terminal plans stay terminal and an executing plan cannot be
// started twice.
var ErrPlanNotExecutable = fmt.Errorf("plan is not executable")

// ExecutePlan runs a plan's steps strictly in index order, streaming
// events. Only proposed or approved plans may run. Sandbox mode skips
// command steps and simulates write steps; any step failure marks the
// plan failed and aborts the remainder. Cancelling the context while
// a consumer has stopped draining also fails the plan.
func (s *Supervisor) ExecutePlan(ctx context.Context, planID string) (<-chan Event, error) {
	s.mu.Lock()
	plan, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrPlanNotFound
	}
	if plan.Status != signal.PlanProposed && plan.Status != signal.PlanApproved {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: status %s", ErrPlanNotExecutable, plan.Status)
	}
	plan.Status = signal.PlanExecuting
	plan.UpdatedAt = signal.Now()
	s.mu.Unlock()

	events := make(chan Event, 8)
	go s.runPlan(ctx, plan, events)
	return events, nil
}

// emit delivers an event unless the consumer's context is gone.
// Returns false when delivery was abandoned.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) runPlan(ctx context.Context, plan *signal.ActionPlan, events chan<- Event) {
	defer close(events)

	abandon := func() {
		s.mu.Lock()
		plan.ExecutionLog = append(plan.ExecutionLog, "Execution abandoned: consumer gone")
		s.mu.Unlock()
		s.finishPlan(plan, signal.PlanFailed)
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		s.setStepStatus(plan, step, signal.StepRunning)
		if !emit(ctx, events, Event{Type: EventStepStart, Data: map[string]any{
			"index":       step.Index,
			"tool":        string(step.Tool),
			"description": step.Description,
		}}) {
			abandon()
			return
		}

		failed := s.executeStep(ctx, plan, step)

		if !emit(ctx, events, Event{Type: EventStepResult, Data: map[string]any{
			"index":   step.Index,
			"status":  string(step.Status),
			"summary": step.ResultSummary,
		}}) {
			abandon()
			return
		}
		if step.Tool == signal.ToolWriteFile && (step.Status == signal.StepSimulated || step.Status == signal.StepCompleted) {
			if !emit(ctx, events, Event{Type: EventStepDiff, Data: map[string]any{
				"index":       step.Index,
				"file_path":   step.FilePath,
				"old_content": step.OldContent,
				"new_content": step.NewContent,
				"simulated":   step.Status == signal.StepSimulated,
			}}) {
				abandon()
				return
			}
		}

		if failed {
			s.finishPlan(plan, signal.PlanFailed)
			emit(ctx, events, Event{Type: EventPlanComplete, Data: map[string]any{
				"plan_id": plan.ID,
				"status":  string(signal.PlanFailed),
				"message": fmt.Sprintf("Failed at step %d", step.Index),
			}})
			return
		}
	}

	s.finishPlan(plan, signal.PlanCompleted)
	emit(ctx, events, Event{Type: EventPlanComplete, Data: map[string]any{
		"plan_id": plan.ID,
		"status":  string(signal.PlanCompleted),
		"message": "All steps completed",
	}})
}

// executeStep runs one step, honoring sandbox containment. Returns true
// when the step failed and the plan must abort.
func (s *Supervisor) executeStep(ctx context.Context, plan *signal.ActionPlan, step *signal.PlanStep) bool {
	if plan.SandboxMode {
		switch step.Tool {
		case signal.ToolRunCommand:
			s.mu.Lock()
			step.Status = signal.StepSkipped
			step.ResultSummary = "Blocked in sandbox mode"
			plan.ExecutionLog = append(plan.ExecutionLog,
				fmt.Sprintf("Step %d: run_command skipped (sandbox)", step.Index))
			s.mu.Unlock()
			return false

		case signal.ToolWriteFile:
			s.simulateWrite(ctx, plan, step)
			return false
		}
	}

	result, err := s.registry.Execute(ctx, string(step.Tool), step.Input)
	if err != nil {
		s.mu.Lock()
		step.Status = signal.StepFailed
		step.ResultSummary = truncateSummary(err.Error())
		plan.ExecutionLog = append(plan.ExecutionLog,
			fmt.Sprintf("Step %d failed: %v", step.Index, err))
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Status != tools.StatusSuccess {
		step.Status = signal.StepFailed
		step.ResultSummary = truncateSummary(result.Summary)
		plan.ExecutionLog = append(plan.ExecutionLog,
			fmt.Sprintf("Step %d: %s failed — %s", step.Index, step.Tool, result.Summary))
		return true
	}

	step.Status = signal.StepCompleted
	step.ResultSummary = result.Summary
	if result.OldContent != "" || result.NewContent != "" {
		step.OldContent = result.OldContent
		step.NewContent = result.NewContent
	}
	if result.FilePath != "" {
		step.FilePath = result.FilePath
	}
	plan.ExecutionLog = append(plan.ExecutionLog,
		fmt.Sprintf("Step %d: %s completed", step.Index, step.Tool))
	return false
}

// simulateWrite captures old and proposed content without touching the
// file. Unreadable files record an empty old content.
func (s *Supervisor) simulateWrite(ctx context.Context, plan *signal.ActionPlan, step *signal.PlanStep) {
	filePath, _ := step.Input["path"].(string)
	if filePath == "" {
		filePath = step.FilePath
	}

	old := ""
	if filePath != "" {
		if result, err := s.registry.Execute(ctx, string(signal.ToolReadFile), map[string]any{"path": filePath}); err == nil && result.Status == tools.StatusSuccess {
			old = result.Content
		}
	}
	newContent, _ := step.Input["content"].(string)

	s.mu.Lock()
	step.OldContent = old
	step.NewContent = newContent
	step.FilePath = filePath
	step.Status = signal.StepSimulated
	step.ResultSummary = "Simulated write to " + filePath
	plan.ExecutionLog = append(plan.ExecutionLog,
		fmt.Sprintf("Step %d: write_file simulated for %s", step.Index, filePath))
	s.mu.Unlock()
}

func (s *Supervisor) setStepStatus(plan *signal.ActionPlan, step *signal.PlanStep, status signal.StepStatus) {
	s.mu.Lock()
	step.Status = status
	plan.UpdatedAt = signal.Now()
	s.mu.Unlock()
}

func (s *Supervisor) finishPlan(plan *signal.ActionPlan, status signal.PlanStatus) {
	s.mu.Lock()
	plan.Status = status
	plan.UpdatedAt = signal.Now()
	s.mu.Unlock()
}

func truncateSummary(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
