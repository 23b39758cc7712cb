package aggregator

import (
	"database/sql"
	"fmt"

	"refinery/internal/signal"
)

// UpdatePollState records the outcome of a poll sweep for one provider.
// A nil cursor preserves the previously stored cursor; last-write-wins.
func (a *Aggregator) UpdatePollState(source string, polledAt string, cursor *string, lastError string, errorCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.Exec(
		`INSERT INTO poll_state (source, last_poll_at, last_cursor, error_count, last_error)
		 VALUES (?, ?, COALESCE(?, ''), ?, ?)
		 ON CONFLICT(source) DO UPDATE SET
			last_poll_at = excluded.last_poll_at,
			last_cursor  = COALESCE(?, poll_state.last_cursor),
			error_count  = excluded.error_count,
			last_error   = excluded.last_error`,
		source, polledAt, cursor, errorCount, lastError, cursor,
	)
	if err != nil {
		return fmt.Errorf("update poll state for %s: %w", source, err)
	}
	return nil
}

// GetPollState returns the stored state for a provider, or nil if the
// provider has never polled.
func (a *Aggregator) GetPollState(source string) (*signal.PollState, error) {
	var st signal.PollState
	err := a.db.QueryRow(
		`SELECT source, last_poll_at, last_cursor, error_count, last_error
		 FROM poll_state WHERE source = ?`, source,
	).Scan(&st.Provider, &st.LastPollAt, &st.Cursor, &st.ErrorCount, &st.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get poll state for %s: %w", source, err)
	}
	return &st, nil
}

// AllPollStates returns every recorded provider state keyed by source.
func (a *Aggregator) AllPollStates() (map[string]signal.PollState, error) {
	rows, err := a.db.Query(
		`SELECT source, last_poll_at, last_cursor, error_count, last_error FROM poll_state`)
	if err != nil {
		return nil, fmt.Errorf("list poll states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]signal.PollState)
	for rows.Next() {
		var st signal.PollState
		if err := rows.Scan(&st.Provider, &st.LastPollAt, &st.Cursor, &st.ErrorCount, &st.LastError); err != nil {
			return nil, fmt.Errorf("scan poll state: %w", err)
		}
		out[st.Provider] = st
	}
	return out, rows.Err()
}
