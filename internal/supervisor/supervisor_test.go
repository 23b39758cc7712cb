package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
	"refinery/internal/tools"
)

type fakeClient struct {
	resp  string
	err   error
	calls int
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	return f.resp, f.err
}

func planResponse(steps []map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"steps":          steps,
		"affected_files": []string{"main.go"},
		"rationale":      "investigate then patch",
	})
	return string(data)
}

func newTestSupervisor(t *testing.T, client *fakeClient, sandbox bool) (*Supervisor, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.SupervisorConfig{Enabled: true, SandboxMode: sandbox}
	s := New(cfg, client, tools.NewDefault(root), root, zap.NewNop())
	return s, root
}

func urgentSignal(id string) signal.Signal {
	return signal.Signal{
		ID:       id,
		Source:   signal.SourceGitHub,
		Title:    "CI failed on main",
		Content:  "build broken",
		Priority: 1,
		Status:   signal.StatusTriaged,
	}
}

func TestOnSignalsTriagedGeneratesPlanForUrgentSignals(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "read_file", "description": "inspect", "input": map[string]any{"path": "main.go"}},
	})}
	s, _ := newTestSupervisor(t, client, true)

	batch := []signal.Signal{urgentSignal("sig-1"), {ID: "sig-2", Priority: 3}}
	s.OnSignalsTriaged(context.Background(), batch)

	assert.Equal(t, 1, client.calls) // priority 3 signal skipped
	assert.Equal(t, 1, s.ProposedCount())

	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	assert.Equal(t, "sig-1", plans[0].SignalID)
	assert.Equal(t, signal.PlanProposed, plans[0].Status)
	assert.True(t, plans[0].SandboxMode)
}

func TestOnSignalsTriagedSkipsSignalsWithLivePlan(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "read_file", "input": map[string]any{"path": "main.go"}},
	})}
	s, _ := newTestSupervisor(t, client, true)

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	assert.Equal(t, 1, client.calls)

	// Dismissing the plan makes the signal eligible again.
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	_, ok := s.DismissPlan(plans[0].ID)
	require.True(t, ok)

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	assert.Equal(t, 2, client.calls)
}

func TestGeneratePlanTruncatesToTenSteps(t *testing.T) {
	var steps []map[string]any
	for i := 0; i < 14; i++ {
		steps = append(steps, map[string]any{
			"tool": "read_file", "description": fmt.Sprintf("step %d", i),
			"input": map[string]any{"path": "main.go"},
		})
	}
	client := &fakeClient{resp: planResponse(steps)}
	s, _ := newTestSupervisor(t, client, true)

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	assert.Len(t, plans[0].Steps, 10)
	assert.Equal(t, 9, plans[0].Steps[9].Index)
}

func TestGeneratePlanDropsUnknownToolsAndDiscardsEmptyPlans(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "delete_database", "input": map[string]any{}},
		{"tool": "read_file", "input": map[string]any{"path": "main.go"}},
		{"tool": "format_disk", "input": map[string]any{}},
	})}
	s, _ := newTestSupervisor(t, client, true)
	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})

	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	require.Len(t, plans[0].Steps, 1)
	assert.Equal(t, signal.ToolReadFile, plans[0].Steps[0].Tool)
	assert.Equal(t, 0, plans[0].Steps[0].Index)

	// All steps invalid: no plan at all.
	client2 := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "nonsense", "input": map[string]any{}},
	})}
	s2, _ := newTestSupervisor(t, client2, true)
	s2.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-9")})
	assert.Empty(t, s2.Plans("", 0))
}

func TestGeneratePlanToleratesFailures(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeClient{err: errors.New("timeout")}, true)
	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	assert.Empty(t, s.Plans("", 0))

	s2, _ := newTestSupervisor(t, &fakeClient{resp: "not json"}, true)
	s2.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-2")})
	assert.Empty(t, s2.Plans("", 0))
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestExecutePlanSandboxContainment(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "write_file", "description": "patch", "input": map[string]any{
			"path": "main.go", "content": "package main // patched",
		}},
		{"tool": "run_command", "description": "test", "input": map[string]any{"command": "go test ./..."}},
	})}
	s, root := newTestSupervisor(t, client, true)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)

	events, err := s.ExecutePlan(context.Background(), plans[0].ID)
	require.NoError(t, err)
	all := drain(t, events)

	// step_start, step_result, step_diff for the write; step_start,
	// step_result for the command; terminal plan_complete.
	require.Len(t, all, 6)
	assert.Equal(t, EventStepStart, all[0].Type)
	assert.Equal(t, EventStepResult, all[1].Type)
	assert.Equal(t, EventStepDiff, all[2].Type)
	assert.Equal(t, "package main", all[2].Data["old_content"])
	assert.Equal(t, "package main // patched", all[2].Data["new_content"])
	assert.Equal(t, true, all[2].Data["simulated"])
	assert.Equal(t, EventPlanComplete, all[5].Type)
	assert.Equal(t, "completed", all[5].Data["status"])

	// Sandbox: the file on disk is untouched.
	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	plan, ok := s.Plan(plans[0].ID)
	require.True(t, ok)
	assert.Equal(t, signal.PlanCompleted, plan.Status)
	assert.Equal(t, signal.StepSimulated, plan.Steps[0].Status)
	assert.Equal(t, signal.StepSkipped, plan.Steps[1].Status)
}

func TestExecutePlanLiveWrite(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "write_file", "input": map[string]any{"path": "out.txt", "content": "hello"}},
	})}
	s, root := newTestSupervisor(t, client, false)

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)

	events, err := s.ExecutePlan(context.Background(), plans[0].ID)
	require.NoError(t, err)
	all := drain(t, events)

	assert.Equal(t, EventStepDiff, all[2].Type)
	assert.Equal(t, false, all[2].Data["simulated"])
	assert.FileExists(t, filepath.Join(root, "out.txt"))
}

func TestExecutePlanFailureAbortsRemainingSteps(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "read_file", "input": map[string]any{"path": "does-not-exist.go"}},
		{"tool": "read_file", "input": map[string]any{"path": "also-never-read.go"}},
	})}
	s, _ := newTestSupervisor(t, client, true)

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)

	events, err := s.ExecutePlan(context.Background(), plans[0].ID)
	require.NoError(t, err)
	all := drain(t, events)

	// First step fails: step_start, step_result, plan_complete. The
	// second step never starts.
	require.Len(t, all, 3)
	assert.Equal(t, EventStepResult, all[1].Type)
	assert.Equal(t, "failed", all[1].Data["status"])
	assert.Equal(t, EventPlanComplete, all[2].Type)
	assert.Equal(t, "failed", all[2].Data["status"])
	assert.Equal(t, "Failed at step 0", all[2].Data["message"])

	plan, ok := s.Plan(plans[0].ID)
	require.True(t, ok)
	assert.Equal(t, signal.PlanFailed, plan.Status)
	assert.Equal(t, signal.StepFailed, plan.Steps[0].Status)
	assert.Equal(t, signal.StepPending, plan.Steps[1].Status)
	assert.NotEmpty(t, plan.ExecutionLog)
}

func TestExecutePlanUnknownID(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeClient{}, true)
	_, err := s.ExecutePlan(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestExecutePlanRejectsTerminalPlans(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "list_files", "input": map[string]any{}},
	})}
	s, _ := newTestSupervisor(t, client, true)
	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})

	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	id := plans[0].ID

	events, err := s.ExecutePlan(context.Background(), id)
	require.NoError(t, err)
	drain(t, events)

	plan, ok := s.Plan(id)
	require.True(t, ok)
	require.Equal(t, signal.PlanCompleted, plan.Status)

	// Completed is terminal: a second run is rejected and the plan is
	// left as it finished.
	_, err = s.ExecutePlan(context.Background(), id)
	assert.ErrorIs(t, err, ErrPlanNotExecutable)

	plan, ok = s.Plan(id)
	require.True(t, ok)
	assert.Equal(t, signal.PlanCompleted, plan.Status)
}

func TestExecutePlanFailsWhenConsumerGone(t *testing.T) {
	var steps []map[string]any
	for i := 0; i < 6; i++ {
		steps = append(steps, map[string]any{
			"tool": "read_file", "input": map[string]any{"path": "main.go"},
		})
	}
	client := &fakeClient{resp: planResponse(steps)}
	s, root := newTestSupervisor(t, client, true)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})
	plans := s.Plans("", 0)
	require.Len(t, plans, 1)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.ExecutePlan(ctx, plans[0].ID)
	require.NoError(t, err)

	// Nobody drains the stream. Cancelling the context unblocks the
	// executor and fails the plan instead of leaving it executing.
	cancel()
	require.Eventually(t, func() bool {
		plan, ok := s.Plan(plans[0].ID)
		return ok && plan.Status == signal.PlanFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDismissPlanOnlyFromProposed(t *testing.T) {
	client := &fakeClient{resp: planResponse([]map[string]any{
		{"tool": "list_files", "input": map[string]any{}},
	})}
	s, _ := newTestSupervisor(t, client, true)
	s.OnSignalsTriaged(context.Background(), []signal.Signal{urgentSignal("sig-1")})

	plans := s.Plans("", 0)
	require.Len(t, plans, 1)
	id := plans[0].ID

	events, err := s.ExecutePlan(context.Background(), id)
	require.NoError(t, err)
	drain(t, events)

	// Completed is terminal; dismiss leaves it untouched.
	plan, ok := s.DismissPlan(id)
	require.True(t, ok)
	assert.Equal(t, signal.PlanCompleted, plan.Status)

	_, ok = s.DismissPlan("missing")
	assert.False(t, ok)
}
