// Package store persists the run ledger: one record per streaming-run
// request with its outcome and captured guest log lines.
package store

import (
	"context"
	"errors"

	"github.com/seantiz/wart/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate execution statistics.
type RunStats struct {
	Total            int            `json:"total"`
	Sessions         int            `json:"sessions"`
	CountByStatus    map[string]int `json:"count_by_status"`
	CountByNamespace map[string]int `json:"count_by_namespace"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, token string, limit, offset int) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertLogLine(ctx context.Context, runID string, seq int, level, line string) error
	GetLogLines(ctx context.Context, runID string) ([]model.LogLine, error)
	Close() error
}
