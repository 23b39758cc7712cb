package synthesizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/signal"
)

func sig(id, filePath, content string, meta map[string]any) signal.Signal {
	return signal.Signal{
		ID:               id,
		Source:           signal.SourceTodo,
		Content:          content,
		FilePath:         filePath,
		ProviderMetadata: meta,
	}
}

func TestSynthesizeEmptyInput(t *testing.T) {
	assert.Nil(t, Synthesize(nil, nil))
}

func TestSynthesizeSkipsAlreadyAttachedSignals(t *testing.T) {
	attached := sig("s1", "api/routes.go", "old work", nil)
	existing := []signal.Operation{{ID: "op-existing", Signals: []signal.Signal{attached}}}

	ops := Synthesize([]signal.Signal{attached}, existing)
	assert.Empty(t, ops)
}

func TestSynthesizeSingleSignalTitle(t *testing.T) {
	long := strings.Repeat("x", 100)
	ops := Synthesize([]signal.Signal{sig("s1", "api/routes.go", long, nil)}, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, "Investigate: "+strings.Repeat("x", 60), ops[0].Title)
	assert.Equal(t, signal.OperationAnalysis, ops[0].Status)
}

func TestSynthesizeStabilizeTitleForBugMajority(t *testing.T) {
	signals := []signal.Signal{
		sig("s1", "api/routes/auth.go", "auth check bypassed", map[string]any{"tag": "BUG"}),
		sig("s2", "api/routes/users.go", "nil deref on lookup", map[string]any{"tag": "FIXME"}),
		sig("s3", "api/routes/posts.go", "tidy up later", map[string]any{"tag": "TODO"}),
	}
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, "Stabilize Api › Routes", ops[0].Title)
}

func TestSynthesizeImplementTitleForTodoMajority(t *testing.T) {
	signals := []signal.Signal{
		sig("s1", "core/sync/a.go", "retry logic retry backoff", map[string]any{"tag": "TODO"}),
		sig("s2", "core/sync/b.go", "retry jitter missing", map[string]any{"tag": "TODO"}),
		sig("s3", "core/sync/c.go", "unrelated note", nil),
	}
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, "Implement retry, logic", ops[0].Title)
}

func TestSynthesizeSectorBucketing(t *testing.T) {
	signals := []signal.Signal{
		sig("s1", "api/routes/a.go", "one", nil),
		sig("s2", "api/routes/b.go", "two", nil),
		sig("s3", "core/db.go", "three", nil),
		sig("s4", "", "chat ping", nil),
	}
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 3)

	assert.Len(t, ops[0].Signals, 2) // api/routes bucket
	assert.Len(t, ops[1].Signals, 1) // core/db.go bucket
	// Orphan bucket comes last, with no related sectors.
	assert.Len(t, ops[2].Signals, 1)
	assert.Empty(t, ops[2].RelatedSectors)
	assert.Equal(t, "Investigate: chat ping", ops[2].Title)
}

func TestSynthesizeRelatedSectorsIncludeParentDirs(t *testing.T) {
	signals := []signal.Signal{
		sig("s1", "api/routes/a.go", "one", nil),
		sig("s2", "api/routes/b.go", "two", nil),
	}
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 1)
	want := []string{"api/routes", "api/routes/a.go", "api/routes/b.go"}
	if diff := cmp.Diff(want, ops[0].RelatedSectors); diff != "" {
		t.Errorf("related sectors mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesizeReward(t *testing.T) {
	// Two untagged signals: 50 + 25*2 = 100.
	ops := Synthesize([]signal.Signal{
		sig("s1", "auth/auth.py", "login broken in auth.py", nil),
		sig("s2", "auth/auth.py", "second report about auth.py", nil),
	}, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, 100, ops[0].Reward)
}

func TestSynthesizeRewardBonusesAndCap(t *testing.T) {
	var signals []signal.Signal
	for i := 0; i < 10; i++ {
		signals = append(signals, sig(
			string(rune('a'+i)), "pkg/mod/f.go", "broken thing",
			map[string]any{"tag": "BUG", "severity": "critical"},
		))
	}
	// 50 + 250 + 10*50 + 10*50 blows well past the cap.
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, 500, ops[0].Reward)
}

func TestSynthesizeDescriptionTruncation(t *testing.T) {
	var signals []signal.Signal
	for i := 0; i < 7; i++ {
		s := sig(string(rune('a'+i)), "pkg/mod/f.go", "note", nil)
		s.LineNumber = i + 1
		signals = append(signals, s)
	}
	ops := Synthesize(signals, nil)
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Description, "... and 2 more signals")
	assert.Contains(t, ops[0].Description, "[todo] (pkg/mod/f.go:1) note")
}

func TestSynthesizeDeterministicForFixedOrdering(t *testing.T) {
	signals := []signal.Signal{
		sig("s1", "api/a.go", "alpha beta alpha", map[string]any{"tag": "TODO"}),
		sig("s2", "api/b.go", "beta gamma", map[string]any{"tag": "TODO"}),
		sig("s3", "core/c.go", "delta", nil),
	}
	first := Synthesize(signals, nil)
	second := Synthesize(signals, nil)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Title, second[i].Title)
		assert.Equal(t, first[i].Reward, second[i].Reward)
		assert.Equal(t, first[i].RelatedSectors, second[i].RelatedSectors)
	}
}
