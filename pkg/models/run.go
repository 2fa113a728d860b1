package models

import "time"

type RunStatus string

const (
	ActiveRunStatus RunStatus = "ACTIVE"
	EndedRunStatus  RunStatus = "ENDED"
)

// RunInfo describes the buffering state of one workflow run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	Pending   int       `json:"pending"`    // entries waiting for the next flush
	Recent    int       `json:"recent"`     // entries held in the catch-up ring
	CreatedAt time.Time `json:"created_at"` // when the buffer was created
}
