package gateway

import (
	"context"

	"workboard/api/internal/app"
	"workboard/api/internal/board"
)

// Direct calls the board service in process.
type Direct struct {
	service *app.Service
}

func NewDirect(service *app.Service) *Direct {
	return &Direct{service: service}
}

func (d *Direct) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return d.service.EnsureWorkspace(ctx, workspaceID)
}

func (d *Direct) FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error) {
	return d.service.FetchBoard(ctx, workspaceID, periodID)
}

func (d *Direct) EnsurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) error {
	_, err := d.service.Apply(ctx, workspaceID, periodID, board.EnsurePeriod{PeriodMeta: meta})
	return err
}

func (d *Direct) Apply(ctx context.Context, workspaceID, periodID string, cmd board.Command) (Result, error) {
	if err := board.ValidateCommand(cmd); err != nil {
		return Result{}, err
	}
	return d.service.Apply(ctx, workspaceID, periodID, cmd)
}

func (d *Direct) WatchPeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error) {
	return d.service.WatchPeriods(ctx, workspaceID)
}

func (d *Direct) WatchBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error) {
	return d.service.WatchBoard(ctx, workspaceID, periodID)
}
