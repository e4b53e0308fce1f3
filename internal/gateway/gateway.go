// Package gateway is the persistence contract the workspace store talks to,
// with an in-process backend and an HTTP backend.
package gateway

import (
	"context"
	"fmt"

	"workboard/api/internal/app"
	"workboard/api/internal/board"
)

// Result is what a successful command reports back.
type Result = app.Result

// Gateway reads, writes and watches one workspace's boards. Watches deliver
// full snapshots, the current state first, and close when ctx is cancelled.
type Gateway interface {
	EnsureWorkspace(ctx context.Context, workspaceID string) error
	FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error)
	EnsurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) error
	Apply(ctx context.Context, workspaceID, periodID string, cmd board.Command) (Result, error)
	WatchPeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error)
	WatchBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error)
}

// StatusError is a non-2xx response from the board API.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("board api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("board api: status %d", e.Status)
}
