package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"refinery/internal/llm"
	"refinery/internal/signal"
)

const (
	triageTitleLimit   = 120
	triageContentLimit = 300
	triageReasonLimit  = 300
	triageFileListCap  = 100
)

const triageSystemPrompt = `You are a signal triage assistant for a software project. You receive a batch of incoming signals (issues, chat mentions, CI failures, code annotations) and a listing of project files.

For each signal, assess how critical it is on a 1-5 scale where 5 is the most critical (production breakage, security, data loss) and 1 is noise. If the signal clearly refers to one of the listed project files, suggest it.

Respond with ONLY a JSON array, one object per signal:
[{"id": "<signal id>", "priority": <1-5>, "reason": "<one sentence>", "linked_file": "<path from the listing, or omit>"}]`

type triageVerdict struct {
	ID         string `json:"id"`
	Priority   int    `json:"priority"`
	Reason     string `json:"reason"`
	LinkedFile string `json:"linked_file"`
}

// Triage scores a batch of signals via the external reasoning service.
// The service reports priority on a scale where 5 is most critical;
// stored priorities use the inverse scale where 1 is most critical, so
// each verdict is clamped to [1,5] and inverted before persisting.
// Any transport or parse failure returns the original signals
// unmodified — triage never blocks the pipeline.
func (a *Aggregator) Triage(ctx context.Context, client llm.Client, signals []signal.Signal, projectFiles []string) []signal.Signal {
	if client == nil || len(signals) == 0 {
		return signals
	}

	raw, err := client.Complete(ctx, triageSystemPrompt, buildTriagePrompt(signals, projectFiles))
	if err != nil {
		a.log.Warn("triage request failed", zap.Error(err))
		return signals
	}
	extracted, err := llm.ExtractJSONArray(raw)
	if err != nil {
		a.log.Warn("triage response was not parseable", zap.Error(err))
		return signals
	}
	var verdicts []triageVerdict
	if err := json.Unmarshal([]byte(extracted), &verdicts); err != nil {
		a.log.Warn("triage verdict decoding failed", zap.Error(err))
		return signals
	}

	byID := make(map[string]triageVerdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.ID] = v
	}
	known := make(map[string]bool, len(projectFiles))
	for _, f := range projectFiles {
		known[f] = true
	}

	out := make([]signal.Signal, len(signals))
	copy(out, signals)
	for i := range out {
		v, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		external := v.Priority
		if external < 1 {
			external = 1
		}
		if external > 5 {
			external = 5
		}
		out[i].Priority = 6 - external
		out[i].Reason = truncate(v.Reason, triageReasonLimit)
		out[i].Status = signal.StatusTriaged
		if out[i].FilePath == "" && v.LinkedFile != "" && known[v.LinkedFile] {
			out[i].FilePath = v.LinkedFile
		}
		if err := a.persistTriage(out[i]); err != nil {
			a.log.Warn("persisting triage verdict failed",
				zap.String("signal_id", out[i].ID), zap.Error(err))
		}
	}
	a.log.Info("triage pass complete",
		zap.Int("signals", len(signals)),
		zap.Int("verdicts", len(verdicts)))
	return out
}

func (a *Aggregator) persistTriage(s signal.Signal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.Exec(
		`UPDATE unified_signals SET priority = ?, reason = ?, status = ?, file_path = ?, updated_at = ? WHERE id = ?`,
		s.Priority, s.Reason, string(s.Status), s.FilePath, signal.Now(), s.ID,
	)
	return err
}

func buildTriagePrompt(signals []signal.Signal, projectFiles []string) string {
	var b strings.Builder
	b.WriteString("Signals:\n")
	for _, s := range signals {
		fmt.Fprintf(&b, "- id: %s\n  source: %s\n  title: %s\n  content: %s\n",
			s.ID, s.Source, truncate(s.Title, triageTitleLimit), truncate(s.Content, triageContentLimit))
	}
	if len(projectFiles) > 0 {
		files := projectFiles
		if len(files) > triageFileListCap {
			files = files[:triageFileListCap]
		}
		b.WriteString("\nProject files:\n")
		for _, f := range files {
			b.WriteString(f)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
