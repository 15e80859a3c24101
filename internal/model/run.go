package model

import "time"

// Run status constants.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTrapped   = "trapped"
	StatusCanceled  = "canceled"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTrapped:   true,
		StatusCanceled:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether no further transition is possible from status.
func Terminal(status string) bool {
	_, ok := validTransitions[status]
	return !ok
}

// LogLine represents a single persisted guest log line from a run.
type LogLine struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Level     string    `json:"level"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the ledger record of one streaming-run request executed against a
// session.
type Run struct {
	ID         string     `json:"id"`
	Token      string     `json:"token"`
	Namespace  string     `json:"namespace"`
	Args       []string   `json:"args"`
	Status     string     `json:"status"`
	Tables     int        `json:"tables"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Session is the persisted description of an open session.
type Session struct {
	Token            string        `json:"token"`
	Namespace        string        `json:"namespace"`
	Module           []byte        `json:"-"`
	IOTimeout        time.Duration `json:"io_timeout"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	Parallelism      uint32        `json:"parallelism"`
	Epoch            uint64        `json:"epoch"`
}

// Permits returns the number of concurrent executions the session allows,
// never less than one.
func (s *Session) Permits() int64 {
	if s.Parallelism == 0 {
		return 1
	}
	return int64(s.Parallelism)
}
