package job

import (
	"encoding/json"
	"time"
)

// Statuses
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusDead    = "dead"
)

var Statuses = []string{StatusPending, StatusRunning, StatusDone, StatusDead}

type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	DedupeKey   string          `json:"dedupe_key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	RunAt       time.Time       `json:"run_at"` // UTC
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Version     int             `json:"version"`
	LockedUntil time.Time       `json:"locked_until"` // UTC, zero unless running
	CreatedAt   time.Time       `json:"created_at"`   // UTC
	UpdatedAt   time.Time       `json:"updated_at"`   // UTC
}

// IsDue reports whether the job can be claimed at now.
func (j Job) IsDue(now time.Time) bool {
	switch j.Status {
	case StatusPending:
		return !j.RunAt.After(now)
	case StatusRunning:
		return !j.LockedUntil.After(now)
	}
	return false
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// NewJob contains information needed to enqueue a job.
type NewJob struct {
	Kind string
	// DedupeKey, when set, prevents enqueueing while a pending job has the same key.
	DedupeKey string
	Payload   interface{}
	RunAt     time.Time // zero means now
}

type QueryFilter struct {
	Status string `query:"status"`
	Kind   string `query:"kind"`
	Limit  int    `query:"limit"`
}
