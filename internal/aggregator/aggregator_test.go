package aggregator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"refinery/internal/signal"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestProcessDeduplicatesByExternalID(t *testing.T) {
	a := newTestAggregator(t)

	batch := []signal.Signal{{
		Source:     signal.SourceGitHub,
		ExternalID: "issue-42",
		Title:      "Login broken",
		Content:    "Users cannot log in",
	}}

	fresh, err := a.Process(batch)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.NotEmpty(t, fresh[0].ID)
	assert.Equal(t, signal.StatusNew, fresh[0].Status)
	assert.Equal(t, signal.PriorityDefault, fresh[0].Priority)

	// Same batch again: upsert, nothing new.
	batch[0].Content = "Users cannot log in at all"
	again, err := a.Process(batch)
	require.NoError(t, err)
	assert.Empty(t, again)

	total, err := a.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Users cannot log in at all", stored.Content)
}

func TestProcessUpsertPreservesTriageStatusAndReason(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{{
		Source:     signal.SourceJira,
		ExternalID: "PROJ-7",
		Title:      "Checkout timeout",
	}})
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	triaged := fresh[0]
	triaged.Priority = 1
	triaged.Reason = "payment path"
	triaged.Status = signal.StatusTriaged
	require.NoError(t, a.persistTriage(triaged))

	_, err = a.Process([]signal.Signal{{
		Source:     signal.SourceJira,
		ExternalID: "PROJ-7",
		Title:      "Checkout timeout (updated)",
		Priority:   2,
	}})
	require.NoError(t, err)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, signal.StatusTriaged, stored.Status)
	assert.Equal(t, "payment path", stored.Reason)
	assert.Equal(t, "Checkout timeout (updated)", stored.Title)
	// Priority tracks the provider's latest assessment.
	assert.Equal(t, 2, stored.Priority)
}

func TestProcessUpsertUpdatesPriority(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{{
		Source:     signal.SourceGitHub,
		ExternalID: "ci-9",
		Title:      "flaky build",
		Priority:   3,
	}})
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	// The same run reported again as a hard failure escalates in place.
	_, err = a.Process([]signal.Signal{{
		Source:     signal.SourceGitHub,
		ExternalID: "ci-9",
		Title:      "flaky build",
		Priority:   1,
	}})
	require.NoError(t, err)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Priority)
}

func TestProcessInsertsSignalsWithoutExternalID(t *testing.T) {
	a := newTestAggregator(t)

	push := []signal.Signal{
		{Source: signal.SourceTelegram, Title: "ship it", Content: "deploy tonight please"},
	}
	first, err := a.Process(push)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	// No external id means no dedup across calls.
	second, err := a.Process(push)
	require.NoError(t, err)
	assert.Len(t, second, 1)

	total, err := a.TotalCount()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestGetSignalsOrderingAndFilters(t *testing.T) {
	a := newTestAggregator(t)

	_, err := a.Process([]signal.Signal{
		{Source: signal.SourceGitHub, ExternalID: "a", Title: "ci failure", Priority: 1, CreatedAt: "2026-08-01T00:00:00Z"},
		{Source: signal.SourceSlack, ExternalID: "b", Title: "mention", Priority: 3, CreatedAt: "2026-08-02T00:00:00Z"},
		{Source: signal.SourceGitHub, ExternalID: "c", Title: "old issue", Priority: 3, CreatedAt: "2026-08-01T00:00:00Z"},
		{Source: signal.SourceTodo, ExternalID: "d", Title: "todo", Priority: 5, CreatedAt: "2026-08-03T00:00:00Z"},
	})
	require.NoError(t, err)

	all, err := a.GetSignals(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "ci failure", all[0].Title)
	assert.Equal(t, "mention", all[1].Title) // newer within priority 3
	assert.Equal(t, "old issue", all[2].Title)
	assert.Equal(t, "todo", all[3].Title)

	urgent, err := a.GetSignals(Filter{PriorityMax: 2})
	require.NoError(t, err)
	require.Len(t, urgent, 1)
	assert.Equal(t, "ci failure", urgent[0].Title)

	github, err := a.GetSignals(Filter{Source: signal.SourceGitHub})
	require.NoError(t, err)
	assert.Len(t, github, 2)
}

func TestDismissAndLinkUnknownID(t *testing.T) {
	a := newTestAggregator(t)

	ok, err := a.DismissSignal("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.LinkSignalToFile("missing", "main.go", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkSignalToFileAdvancesStatus(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{{Source: signal.SourceSlack, ExternalID: "m1", Title: "fix parser"}})
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	ok, err := a.LinkSignalToFile(fresh[0].ID, "internal/parser.go", 12)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusLinked, stored.Status)
	assert.Equal(t, "internal/parser.go", stored.FilePath)
	assert.Equal(t, 12, stored.LineNumber)
}

func TestLinkSignalsToFilesMatchesByFilename(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "api"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "api", "routes.py"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "db.go"), []byte(""), 0o644))

	signals := []signal.Signal{
		{Title: "crash in Routes.py handler", Content: "traceback"},
		{Title: "unrelated", Content: "nothing to match"},
		{Title: "already linked", Content: "routes.py again", FilePath: "keep/this.go"},
	}
	linked := LinkSignalsToFiles(signals, root)

	assert.Equal(t, "api/routes.py", linked[0].FilePath)
	assert.Empty(t, linked[1].FilePath)
	assert.Equal(t, "keep/this.go", linked[2].FilePath)
	// "db.go" is too short a name to match on.
	assert.NotEqual(t, "db.go", linked[1].FilePath)
}

func TestPollStateCursorPreservedOnNilUpdate(t *testing.T) {
	a := newTestAggregator(t)

	cursor := "2026-08-30T00:00:00Z"
	require.NoError(t, a.UpdatePollState("github", "2026-08-30T00:00:05Z", &cursor, "", 0))
	require.NoError(t, a.UpdatePollState("github", "2026-08-30T00:05:05Z", nil, "rate limited", 2))

	st, err := a.GetPollState("github")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, cursor, st.Cursor)
	assert.Equal(t, 2, st.ErrorCount)
	assert.Equal(t, "rate limited", st.LastError)

	missing, err := a.GetPollState("never-polled")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

type fakeClient struct {
	resp string
	err  error
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.resp, f.err
}

func TestTriageInvertsPriorityScale(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{
		{Source: signal.SourceGitHub, ExternalID: "crit", Title: "prod down"},
		{Source: signal.SourceTodo, ExternalID: "nit", Title: "rename var"},
	})
	require.NoError(t, err)
	require.Len(t, fresh, 2)

	client := &fakeClient{resp: `[
		{"id": "` + fresh[0].ID + `", "priority": 5, "reason": "production outage"},
		{"id": "` + fresh[1].ID + `", "priority": 9, "reason": "clamped then inverted"}
	]`}

	out := a.Triage(context.Background(), client, fresh, nil)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Priority) // external 5 -> internal 1
	assert.Equal(t, 1, out[1].Priority) // external 9 clamps to 5 -> internal 1
	assert.Equal(t, signal.StatusTriaged, out[0].Status)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Priority)
	assert.Equal(t, "production outage", stored.Reason)
}

func TestTriageLinkedFileRequiresKnownPath(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{
		{Source: signal.SourceSlack, ExternalID: "s1", Title: "handler bug"},
		{Source: signal.SourceSlack, ExternalID: "s2", Title: "other bug"},
	})
	require.NoError(t, err)

	client := &fakeClient{resp: `[
		{"id": "` + fresh[0].ID + `", "priority": 3, "reason": "ok", "linked_file": "api/handler.go"},
		{"id": "` + fresh[1].ID + `", "priority": 3, "reason": "ok", "linked_file": "made/up.go"}
	]`}

	out := a.Triage(context.Background(), client, fresh, []string{"api/handler.go"})
	assert.Equal(t, "api/handler.go", out[0].FilePath)
	assert.Empty(t, out[1].FilePath)
}

func TestTriagePromptTruncatesTitleAndContent(t *testing.T) {
	prompt := buildTriagePrompt([]signal.Signal{{
		ID:      "s1",
		Source:  signal.SourceGitHub,
		Title:   strings.Repeat("t", 130),
		Content: strings.Repeat("c", 310),
	}}, nil)

	assert.Contains(t, prompt, strings.Repeat("t", 120)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("t", 121))
	assert.Contains(t, prompt, strings.Repeat("c", 300)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("c", 301))
}

func TestTriageFailureReturnsOriginals(t *testing.T) {
	a := newTestAggregator(t)

	fresh, err := a.Process([]signal.Signal{{Source: signal.SourceGitHub, ExternalID: "x", Title: "bug"}})
	require.NoError(t, err)

	out := a.Triage(context.Background(), &fakeClient{err: errors.New("boom")}, fresh, nil)
	assert.Equal(t, fresh, out)

	out = a.Triage(context.Background(), &fakeClient{resp: "not json at all"}, fresh, nil)
	assert.Equal(t, fresh, out)

	stored, err := a.GetSignal(fresh[0].ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusNew, stored.Status)
}
