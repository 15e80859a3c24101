// Package bridge implements the storage side of the guest host imports: graph
// queries and key-value access dispatched as asynchronous futures, output
// tables and guest logging.
package bridge

import (
	"context"
	"fmt"

	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/session"
)

// Level is a guest log level. The values are part of the guest ABI.
type Level int32

const (
	LevelTrace Level = 0
	LevelDebug Level = 1
	LevelInfo  Level = 2
	LevelWarn  Level = 3
	LevelError Level = 4
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	for l := LevelTrace; l <= LevelError; l++ {
		if l.String() == s {
			return l
		}
	}
	return LevelInfo
}

// GraphQuerier issues graph queries. Each call returns a future handle.
type GraphQuerier interface {
	ChoiceNodes(ctx context.Context, tag string, n int32) (int32, error)
	QueryNode(ctx context.Context, id frame.Value, tag string, keys []string) (int32, error)
	QueryNeighbors(ctx context.Context, id frame.Value, tag string, keys []string, reversed bool) (int32, error)
}

// KVAccessor reads and stages writes to the session key-value store.
type KVAccessor interface {
	QueryKV(ctx context.Context, defaults frame.Row) (int32, error)
	UpdateKV(ctx context.Context, items frame.Row, merge session.Merge) (int, error)
}

// TableOutput accumulates the tables a run returns.
type TableOutput interface {
	SelectNodes(ids frame.Vector) int64
	SelectEdges(src, dst frame.Vector) int64
	NewTable(name string, defaults frame.Row) (int32, error)
	PushRow(table int32, row frame.Row) error
	TableSize(table int32) (int64, error)
	Tables() []frame.DataFrame
}

// Logger receives guest log lines.
type Logger interface {
	Log(level Level, line string)
	LogEnabled(level Level) bool
	Logs() []string
}

// Futures resolves the handles returned by GraphQuerier and KVAccessor.
type Futures interface {
	// FutureGet waits for a future and returns its encoded result. The
	// handle is consumed.
	FutureGet(ctx context.Context, handle int32) ([]byte, error)
	FutureDrop(handle int32)
}

// Imports is the full capability set a sandbox run is given.
type Imports interface {
	GraphQuerier
	KVAccessor
	TableOutput
	Logger
	Futures
	// Close abandons every pending future.
	Close()
}
