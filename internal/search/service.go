package search

import (
	"context"
	"strings"
	"sync"

	"workboard/api/internal/board"
	"workboard/api/internal/logging"
)

// index is the Meilisearch surface the facade depends on.
type index interface {
	Searcher
	Healthy() bool
	IndexTasks(records []TaskRecord) error
	DeleteTask(key string) error
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	primary  index
	fallback Searcher
	log      *logging.Logger
	closer   func()
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger *logging.Logger) *Service {
	var (
		primary index
		closer  func()
	)
	if meili != nil {
		primary = meili
		closer = meili.Close
	}
	return newService(primary, fallback, logger, closer)
}

func newService(primary index, fallback Searcher, logger *logging.Logger, closer func()) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{primary: primary, fallback: fallback, log: logger.WithComponent("search"), closer: closer}
}

// Backend names the engine that would serve a query right now.
func (s *Service) Backend() string {
	if s.primaryReady() {
		return "meilisearch"
	}
	return "postgres"
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails; backend errors degrade to an empty result set.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	q.Limit = clampLimit(q.Limit)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warnw("meilisearch error, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Errorw("fallback search failed", "workspace_id", q.WorkspaceID, "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// SyncTasks reindexes every task of a period snapshot (fire-and-forget).
func (s *Service) SyncTasks(workspaceID, periodID string, tasks []board.Task) {
	if !s.primaryReady() || len(tasks) == 0 {
		return
	}
	records := make([]TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, NewTaskRecord(workspaceID, periodID, task))
	}
	s.background(func() {
		if err := s.primary.IndexTasks(records); err != nil {
			s.log.Warnw("index tasks", "workspace_id", workspaceID, "period_id", periodID, "error", err)
		}
	})
}

// DeleteTask removes a task from the index (fire-and-forget).
func (s *Service) DeleteTask(workspaceID, periodID, taskID string) {
	if !s.primaryReady() {
		return
	}
	key := RecordKey(workspaceID, periodID, taskID)
	s.background(func() {
		if err := s.primary.DeleteTask(key); err != nil {
			s.log.Warnw("delete task from index", "task_id", taskID, "error", err)
		}
	})
}

func (s *Service) background(fn func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

// Close waits for in-flight index writes and stops the health monitor.
func (s *Service) Close() {
	s.pending.Wait()
	if s.closer != nil {
		s.closer()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
