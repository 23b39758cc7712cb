package aggregator

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"refinery/internal/signal"
	"refinery/internal/workspace"
)

const signalColumns = `id, source, external_id, title, content, url, file_path, line_number,
	priority, status, reason, provider_metadata, created_at, updated_at, fetched_at, operation_id`

// Process upserts a batch of signals and returns only the genuinely new
// ones. Signals with a non-empty external id deduplicate on (source,
// external_id): repeats update title, content, url, priority, metadata,
// and fetched_at in place while preserving status, reason, and
// operation linkage from any earlier triage. Signals without an
// external id are always inserted.
func (a *Aggregator) Process(signals []signal.Signal) ([]signal.Signal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var fresh []signal.Signal
	for i := range signals {
		s := signals[i]
		now := signal.Now()
		if s.FetchedAt == "" {
			s.FetchedAt = now
		}
		if s.Priority == 0 {
			s.Priority = signal.PriorityDefault
		}

		if s.ExternalID != "" {
			var existingID string
			err := a.db.QueryRow(
				`SELECT id FROM unified_signals WHERE source = ? AND external_id = ?`,
				string(s.Source), s.ExternalID,
			).Scan(&existingID)
			switch {
			case err == nil:
				meta, mErr := marshalMetadata(s.ProviderMetadata)
				if mErr != nil {
					return nil, mErr
				}
				if _, err := a.db.Exec(
					`UPDATE unified_signals
					 SET title = ?, content = ?, url = ?, priority = ?, provider_metadata = ?, updated_at = ?, fetched_at = ?
					 WHERE id = ?`,
					s.Title, s.Content, s.URL, s.Priority, meta, now, s.FetchedAt, existingID,
				); err != nil {
					return nil, fmt.Errorf("update signal %s: %w", existingID, err)
				}
				continue
			case err != sql.ErrNoRows:
				return nil, fmt.Errorf("lookup signal %s/%s: %w", s.Source, s.ExternalID, err)
			}
		}

		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Status == "" {
			s.Status = signal.StatusNew
		}
		if s.CreatedAt == "" {
			s.CreatedAt = now
		}
		s.UpdatedAt = now

		if err := a.insert(s); err != nil {
			return nil, err
		}
		fresh = append(fresh, s)
	}

	if len(fresh) > 0 {
		a.log.Info("processed signal batch",
			zap.Int("incoming", len(signals)),
			zap.Int("new", len(fresh)))
	}
	return fresh, nil
}

func (a *Aggregator) insert(s signal.Signal) error {
	meta, err := marshalMetadata(s.ProviderMetadata)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(
		`INSERT INTO unified_signals (`+signalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Source), s.ExternalID, s.Title, s.Content, s.URL,
		s.FilePath, s.LineNumber, s.Priority, string(s.Status), s.Reason,
		meta, s.CreatedAt, s.UpdatedAt, s.FetchedAt, s.OperationID,
	)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", s.ID, err)
	}
	return nil
}

// Filter narrows GetSignals results. Zero values mean "no constraint";
// PriorityMax of 0 is unbounded.
type Filter struct {
	Source      signal.Source
	Status      signal.Status
	PriorityMax int
	Limit       int
	Offset      int
}

// GetSignals returns cached signals ordered most-urgent first, then
// newest first within a priority band.
func (a *Aggregator) GetSignals(f Filter) ([]signal.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM unified_signals WHERE 1=1`
	var args []any
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.PriorityMax > 0 {
		query += ` AND priority <= ?`
		args = append(args, f.PriorityMax)
	}
	query += ` ORDER BY priority ASC, created_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// GetSignal fetches one signal by id.
func (a *Aggregator) GetSignal(id string) (*signal.Signal, error) {
	rows, err := a.db.Query(`SELECT `+signalColumns+` FROM unified_signals WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query signal %s: %w", id, err)
	}
	defer rows.Close()
	signals, err := scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, nil
	}
	return &signals[0], nil
}

// SignalsByIDs fetches the subset of ids that exist, in query order.
func (a *Aggregator) SignalsByIDs(ids []string) ([]signal.Signal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := a.db.Query(
		`SELECT `+signalColumns+` FROM unified_signals WHERE id IN (`+placeholders+`)
		 ORDER BY priority ASC, created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals by id: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// DismissSignal marks a signal dismissed. Returns false when the id is
// unknown.
func (a *Aggregator) DismissSignal(id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, err := a.db.Exec(
		`UPDATE unified_signals SET status = ?, updated_at = ? WHERE id = ?`,
		string(signal.StatusDismissed), signal.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("dismiss signal %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LinkSignalToFile attaches a file location to a signal and advances its
// status to linked. Returns false when the id is unknown.
func (a *Aggregator) LinkSignalToFile(id, path string, line int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, err := a.db.Exec(
		`UPDATE unified_signals SET file_path = ?, line_number = ?, status = ?, updated_at = ? WHERE id = ?`,
		path, line, string(signal.StatusLinked), signal.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("link signal %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetOperationID records the operation a signal was clustered into.
func (a *Aggregator) SetOperationID(signalID, operationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.Exec(
		`UPDATE unified_signals SET operation_id = ?, updated_at = ? WHERE id = ?`,
		operationID, signal.Now(), signalID,
	)
	return err
}

// LinkSignalsToFiles enriches signals that lack a file path by scanning
// the workspace for a file whose name appears in the signal text.
// Matching is case-insensitive and takes the first file found in
// traversal order; very short names are skipped to avoid false hits.
func LinkSignalsToFiles(signals []signal.Signal, workspaceRoot string) []signal.Signal {
	files := workspace.ListFiles(workspaceRoot, 2000)
	if len(files) == 0 {
		return signals
	}
	for i := range signals {
		if signals[i].FilePath != "" {
			continue
		}
		haystack := strings.ToLower(signals[i].Title + " " + signals[i].Content)
		for _, f := range files {
			name := filepath.Base(f)
			if len(name) <= 3 {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(name)) {
				signals[i].FilePath = f
				break
			}
		}
	}
	return signals
}

// NewCount returns the number of signals still in status new.
func (a *Aggregator) NewCount() (int, error) {
	return a.countWhere(`status = ?`, string(signal.StatusNew))
}

// TotalCount returns the total number of cached signals.
func (a *Aggregator) TotalCount() (int, error) {
	return a.countWhere(`1=1`)
}

func (a *Aggregator) countWhere(where string, args ...any) (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM unified_signals WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

func scanSignals(rows *sql.Rows) ([]signal.Signal, error) {
	var out []signal.Signal
	for rows.Next() {
		var s signal.Signal
		var source, status, meta string
		if err := rows.Scan(
			&s.ID, &source, &s.ExternalID, &s.Title, &s.Content, &s.URL,
			&s.FilePath, &s.LineNumber, &s.Priority, &status, &s.Reason,
			&meta, &s.CreatedAt, &s.UpdatedAt, &s.FetchedAt, &s.OperationID,
		); err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		s.Source = signal.Source(source)
		s.Status = signal.Status(status)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &s.ProviderMetadata); err != nil {
				s.ProviderMetadata = nil
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal provider metadata: %w", err)
	}
	return string(data), nil
}
