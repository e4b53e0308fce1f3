package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"workboard/api/internal/board"
)

// PgFallback searches task titles and descriptions with ILIKE. It serves
// every query while Meilisearch is missing or unhealthy.
type PgFallback struct {
	db *sqlx.DB
}

func NewPgFallback(db *sqlx.DB) *PgFallback {
	return &PgFallback{db: db}
}

type taskHit struct {
	PeriodID    string  `db:"period_id"`
	ID          string  `db:"id"`
	Title       string  `db:"title"`
	Description string  `db:"description"`
	Business    string  `db:"business"`
	Minutes     int     `db:"minutes"`
	AssignedTo  *string `db:"assigned_to"`
}

func (p *PgFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"
	where := `workspace_id = $1 AND (title ILIKE $2 ESCAPE '\' OR description ILIKE $2 ESCAPE '\')`
	args := []any{q.WorkspaceID, pattern}
	if q.PeriodID != "" {
		where += " AND period_id = $3"
		args = append(args, q.PeriodID)
	}

	var total int
	if err := p.db.GetContext(ctx, &total, "SELECT count(*) FROM tasks WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("fallback count: %w", err)
	}

	var hits []taskHit
	query := fmt.Sprintf(`SELECT period_id, id, title, description, business, minutes, assigned_to
		FROM tasks
		WHERE %s
		ORDER BY period_id DESC, sort_order, created_at
		LIMIT %d`, where, clampLimit(q.Limit))
	if err := p.db.SelectContext(ctx, &hits, query, args...); err != nil {
		return nil, 0, fmt.Errorf("fallback query: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, h.toResult())
	}
	return results, total, nil
}

func (h taskHit) toResult() Result {
	r := Result{
		PeriodID: h.PeriodID,
		TaskID:   h.ID,
		Title:    h.Title,
		Snippet:  h.Description,
		Business: board.Business(h.Business),
		Minutes:  h.Minutes,
	}
	if h.AssignedTo != nil {
		r.AssignedTo = *h.AssignedTo
	}
	return r
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
