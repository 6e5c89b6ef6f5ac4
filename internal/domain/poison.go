package domain

import "time"

// PoisonEntry is a change record that kept failing after the retry budget and
// bisection. It is handed to the dead-letter sinks and skipped by the feed.
type PoisonEntry struct {
	Record     ChangeRecord `json:"record"`
	Error      string       `json:"error"`
	Attempts   int          `json:"attempts"`
	IsolatedAt time.Time    `json:"isolated_at"`
}
