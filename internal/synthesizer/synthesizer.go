// Package synthesizer clusters batches of signals into higher-level
// operations. It is a pure function over the canonical shapes: no I/O,
// and deterministic for a fixed input ordering.
package synthesizer

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"refinery/internal/signal"
)

const (
	baseReward      = 50
	perSignalReward = 25
	bugBonus        = 50
	rewardCap       = 500

	// commsSector buckets signals that carry no file path, typically
	// chat and push-channel traffic.
	commsSector = "comms"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "to": true,
	"in": true, "for": true, "of": true, "and": true, "or": true,
	"this": true, "that": true, "it": true,
}

// Synthesize groups signals into new operations. Signals already
// attached to an existing operation are skipped; the remainder are
// bucketed by sector (the first two path segments of the file path,
// or the comms bucket for pathless signals), one operation per bucket.
func Synthesize(signals []signal.Signal, existing []signal.Operation) []signal.Operation {
	if len(signals) == 0 {
		return nil
	}

	attached := make(map[string]bool)
	for _, op := range existing {
		for _, s := range op.Signals {
			attached[s.ID] = true
		}
	}

	// Buckets keep first-seen key order so output is reproducible.
	buckets := make(map[string][]signal.Signal)
	var order []string
	var orphans []signal.Signal
	for _, s := range signals {
		if attached[s.ID] {
			continue
		}
		if s.FilePath == "" {
			orphans = append(orphans, s)
			continue
		}
		sector := sectorOf(s.FilePath)
		if _, seen := buckets[sector]; !seen {
			order = append(order, sector)
		}
		buckets[sector] = append(buckets[sector], s)
	}

	now := signal.Now()
	var ops []signal.Operation
	for _, sector := range order {
		cluster := buckets[sector]
		ops = append(ops, signal.Operation{
			ID:             "op-" + uuid.NewString()[:8],
			Title:          generateTitle(sector, cluster),
			Description:    generateDescription(cluster),
			Status:         signal.OperationAnalysis,
			Signals:        cluster,
			RelatedSectors: extractSectors(cluster),
			Reward:         calculateReward(cluster),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if len(orphans) > 0 {
		ops = append(ops, signal.Operation{
			ID:             "op-" + uuid.NewString()[:8],
			Title:          generateTitle(commsSector, orphans),
			Description:    generateDescription(orphans),
			Status:         signal.OperationAnalysis,
			Signals:        orphans,
			RelatedSectors: []string{},
			Reward:         calculateReward(orphans),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return ops
}

// sectorOf reduces a file path to its first two segments, which keeps
// signals from the same subsystem in one bucket.
func sectorOf(filePath string) string {
	parts := strings.Split(strings.Trim(filePath, "/"), "/")
	if len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func generateTitle(sector string, cluster []signal.Signal) string {
	if len(cluster) == 1 {
		return "Investigate: " + truncate(cluster[0].Content, 60)
	}

	sectorClean := cleanSector(sector)
	keywords := extractKeywords(cluster)
	keywordStr := sectorClean
	if len(keywords) > 0 {
		if len(keywords) > 2 {
			keywords = keywords[:2]
		}
		keywordStr = strings.Join(keywords, ", ")
	}

	bugTags, todoTags := 0, 0
	for i := range cluster {
		switch cluster[i].Tag() {
		case "BUG", "FIXME":
			bugTags++
		case "TODO":
			todoTags++
		}
	}
	half := float64(len(cluster)) / 2
	if float64(bugTags) > half {
		return "Stabilize " + sectorClean
	}
	if float64(todoTags) > half {
		return "Implement " + keywordStr
	}
	return fmt.Sprintf("Operation: %s (%d signals)", sectorClean, len(cluster))
}

// cleanSector renders "api/user_auth" as "Api › User Auth".
func cleanSector(sector string) string {
	s := strings.ReplaceAll(sector, "/", " › ")
	s = strings.ReplaceAll(s, "_", " ")
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(words, " ")
}

func generateDescription(cluster []signal.Signal) string {
	var lines []string
	for i := range cluster {
		if i >= 5 {
			break
		}
		s := &cluster[i]
		loc := ""
		if s.FilePath != "" && s.LineNumber > 0 {
			loc = fmt.Sprintf(" (%s:%d)", s.FilePath, s.LineNumber)
		}
		lines = append(lines, fmt.Sprintf("[%s]%s %s", s.Source, loc, truncate(s.Content, 80)))
	}
	if len(cluster) > 5 {
		lines = append(lines, fmt.Sprintf("... and %d more signals", len(cluster)-5))
	}
	return strings.Join(lines, "\n")
}

func extractSectors(cluster []signal.Signal) []string {
	set := make(map[string]bool)
	for i := range cluster {
		fp := cluster[i].FilePath
		if fp == "" {
			continue
		}
		set[fp] = true
		if parent := path.Dir(fp); parent != "." {
			set[parent] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// extractKeywords returns the top five most frequent content words after
// stop-word removal; frequency ties keep first-seen order.
func extractKeywords(cluster []signal.Signal) []string {
	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	for i := range cluster {
		for _, w := range strings.Fields(strings.ToLower(cluster[i].Content)) {
			clean := strings.Trim(w, ".,;:!?()[]{}\"'")
			if len(clean) <= 2 || stopWords[clean] {
				continue
			}
			if _, seen := firstSeen[clean]; !seen {
				firstSeen[clean] = len(firstSeen)
			}
			freq[clean]++
		}
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return firstSeen[words[i]] < firstSeen[words[j]]
	})
	if len(words) > 5 {
		words = words[:5]
	}
	return words
}

func calculateReward(cluster []signal.Signal) int {
	reward := baseReward + len(cluster)*perSignalReward
	for i := range cluster {
		switch cluster[i].Tag() {
		case "BUG", "FIXME":
			reward += bugBonus
		}
		if cluster[i].Severity() == "critical" {
			reward += bugBonus
		}
	}
	if reward > rewardCap {
		reward = rewardCap
	}
	return reward
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
