package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"workboard/api/internal/board"
)

// Result is a single task hit returned to the caller.
type Result struct {
	PeriodID   string         `json:"periodId"`
	TaskID     string         `json:"taskId"`
	Title      string         `json:"title"`
	Snippet    string         `json:"snippet"`
	Business   board.Business `json:"business"`
	Minutes    int            `json:"minutes"`
	AssignedTo string         `json:"assignedTo,omitempty"`
}

// Query describes a search request scoped to one workspace.
type Query struct {
	WorkspaceID string
	PeriodID    string // empty = every period
	Text        string
	Limit       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a task search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	Key         string         `json:"key"`
	TaskID      string         `json:"taskId"`
	WorkspaceID string         `json:"workspaceId"`
	PeriodID    string         `json:"periodId"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Business    board.Business `json:"business"`
	Minutes     int            `json:"minutes"`
	Important   bool           `json:"important"`
	AssignedTo  string         `json:"assignedTo"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

// RecordKey derives the index primary key for a task. Meilisearch keys only
// allow [A-Za-z0-9_-], while workspace and task ids are free-form.
func RecordKey(workspaceID, periodID, taskID string) string {
	sum := sha1.Sum([]byte(workspaceID + "/" + periodID + "/" + taskID))
	return hex.EncodeToString(sum[:])
}

// NewTaskRecord flattens a task into its index document.
func NewTaskRecord(workspaceID, periodID string, task board.Task) TaskRecord {
	record := TaskRecord{
		Key:         RecordKey(workspaceID, periodID, task.ID),
		TaskID:      task.ID,
		WorkspaceID: workspaceID,
		PeriodID:    periodID,
		Title:       task.Title,
		Description: task.Description,
		Business:    task.Business,
		Minutes:     int(task.Minutes),
		Important:   task.Important,
	}
	if task.AssignedTo != nil {
		record.AssignedTo = *task.AssignedTo
	}
	return record
}
