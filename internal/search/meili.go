package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"workboard/api/internal/board"
	"workboard/api/internal/logging"
	"workboard/api/internal/util"
)

const (
	idxTasks          = "workboard_tasks"
	healthCheckPeriod = 10 * time.Second
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili searches and indexes tasks via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logging.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the task index. An
// unreachable server is tolerated; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *logging.Logger) *Meili {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    logger.WithComponent("search"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.Warnw("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxTasks, PrimaryKey: "key"}); err != nil {
		m.log.Debugw("create index (may already exist)", "index", idxTasks, "error", err)
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"workspaceId", "periodId", "business"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warnw("update filterable attributes", "index", idxTasks, "error", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warnw("update searchable attributes", "index", idxTasks, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Infow("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	filters := []string{fmt.Sprintf("workspaceId = %q", q.WorkspaceID)}
	if q.PeriodID != "" {
		filters = append(filters, fmt.Sprintf("periodId = %q", q.PeriodID))
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxTasks,
			Query:                 q.Text,
			Limit:                 int64(clampLimit(q.Limit)),
			Filter:                filters,
			AttributesToHighlight: []string{"title", "description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		PeriodID:   decodeString(hit, "periodId"),
		TaskID:     decodeString(hit, "taskId"),
		Business:   board.Business(decodeString(hit, "business")),
		AssignedTo: decodeString(hit, "assignedTo"),
	}
	r.Title = util.FirstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = util.FirstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	if raw, ok := hit["minutes"]; ok {
		_ = json.Unmarshal(raw, &r.Minutes)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func (m *Meili) IndexTasks(records []TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteTask(key string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(key, nil)
	return err
}
