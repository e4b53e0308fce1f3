package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"workboard/api/internal/board"
)

type periodRow struct {
	WorkspaceID string `db:"workspace_id"`
	ID          string `db:"id"`
	StartDate   string `db:"start_date"`
	EndDate     string `db:"end_date"`
	Label       string `db:"label"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r periodRow) toPeriod() board.Period {
	return board.Period{
		ID:        r.ID,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Label:     r.Label,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type taskRow struct {
	WorkspaceID string         `db:"workspace_id"`
	PeriodID    string         `db:"period_id"`
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Minutes     int            `db:"minutes"`
	Business    string         `db:"business"`
	Important   bool           `db:"important"`
	AssignedTo  sql.NullString `db:"assigned_to"`
	Order       float64        `db:"sort_order"`
	CreatedAt   int64          `db:"created_at"`
}

func (r taskRow) toTask() board.Task {
	task := board.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Minutes:     board.Minutes(r.Minutes),
		Business:    board.Business(r.Business),
		Important:   r.Important,
		Order:       r.Order,
		CreatedAt:   r.CreatedAt,
	}
	if r.AssignedTo.Valid {
		task.AssignedTo = board.StringPtr(r.AssignedTo.String)
	}
	return task
}

type memberRow struct {
	WorkspaceID  string  `db:"workspace_id"`
	PeriodID     string  `db:"period_id"`
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Availability []byte  `db:"availability"`
	Order        float64 `db:"sort_order"`
	CreatedAt    int64   `db:"created_at"`
}

func (r memberRow) toMember() (board.Member, error) {
	availability := board.Availability{}
	if len(r.Availability) > 0 {
		if err := json.Unmarshal(r.Availability, &availability); err != nil {
			return board.Member{}, fmt.Errorf("decode availability for member %s: %w", r.ID, err)
		}
	}
	return board.Member{
		ID:                r.ID,
		Name:              r.Name,
		AvailabilityByDay: availability,
		Order:             r.Order,
		CreatedAt:         r.CreatedAt,
	}, nil
}

func encodeAvailability(a board.Availability) (string, error) {
	raw, err := json.Marshal(board.NormalizeAvailability(a))
	if err != nil {
		return "", fmt.Errorf("encode availability: %w", err)
	}
	return string(raw), nil
}

// DocumentPath renders the hierarchical key of a stored record, e.g.
// workspace/w1/period/p1/task/t1. Empty trailing parts are omitted.
func DocumentPath(workspaceID, periodID, kind, id string) string {
	path := "workspace/" + workspaceID
	if periodID == "" {
		return path
	}
	path += "/period/" + periodID
	if kind == "" || id == "" {
		return path
	}
	return path + "/" + kind + "/" + id
}

func jsonString(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(raw), nil
}
