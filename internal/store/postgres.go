package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"workboard/api/internal/board"
)

type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *PostgresStore) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return ensureWorkspace(ctx, s.db, workspaceID, s.nowMillis())
}

func ensureWorkspace(ctx context.Context, exec sqlx.ExecerContext, workspaceID string, now int64) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO workspaces (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, workspaceID, now)
	if err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}
	return nil
}

// ListPeriods returns the workspace's periods, newest first.
func (s *PostgresStore) ListPeriods(ctx context.Context, workspaceID string) ([]board.Period, error) {
	var rows []periodRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT workspace_id, id, start_date, end_date, label, created_at, updated_at
		FROM periods
		WHERE workspace_id = $1
		ORDER BY created_at DESC, id DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	periods := make([]board.Period, 0, len(rows))
	for _, row := range rows {
		periods = append(periods, row.toPeriod())
	}
	return periods, nil
}

// EnsurePeriod creates the period if absent. For an existing period, non-blank
// dates and label are refreshed and updated_at is bumped; created_at never
// changes. It reports whether a new row was created.
func (s *PostgresStore) EnsurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) (bool, error) {
	var created bool
	err := WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		created, err = upsertPeriod(ctx, tx, workspaceID, periodID, meta, s.nowMillis())
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func upsertPeriod(ctx context.Context, tx *sqlx.Tx, workspaceID, periodID string, meta board.PeriodMeta, now int64) (bool, error) {
	if err := ensureWorkspace(ctx, tx, workspaceID, now); err != nil {
		return false, err
	}
	var created bool
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO periods (workspace_id, id, start_date, end_date, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			start_date = COALESCE(NULLIF(EXCLUDED.start_date, ''), periods.start_date),
			end_date = COALESCE(NULLIF(EXCLUDED.end_date, ''), periods.end_date),
			label = COALESCE(NULLIF(EXCLUDED.label, ''), periods.label),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)
	`, workspaceID, periodID, meta.StartDate, meta.EndDate, meta.Label, now).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert period: %w", err)
	}
	return created, nil
}

// ensurePeriodExists creates a bare period row when a child record is written
// to a period nobody has ensured yet. Dates are recovered from the id.
func ensurePeriodExists(ctx context.Context, tx *sqlx.Tx, workspaceID, periodID string, now int64) error {
	if err := ensureWorkspace(ctx, tx, workspaceID, now); err != nil {
		return err
	}
	start, end, _ := board.ParsePeriodID(periodID)
	label := ""
	if start != "" {
		label = board.PeriodLabel(start, end)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO periods (workspace_id, id, start_date, end_date, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (workspace_id, id) DO NOTHING
	`, workspaceID, periodID, start, end, label, now)
	if err != nil {
		return fmt.Errorf("ensure period: %w", err)
	}
	return nil
}

// FetchBoard loads every task and member of a period, unordered.
func (s *PostgresStore) FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error) {
	var taskRows []taskRow
	if err := s.db.SelectContext(ctx, &taskRows, `
		SELECT workspace_id, period_id, id, title, description, minutes, business, important,
			assigned_to, sort_order, created_at
		FROM tasks
		WHERE workspace_id = $1 AND period_id = $2
	`, workspaceID, periodID); err != nil {
		return board.Board{}, fmt.Errorf("list tasks: %w", err)
	}

	var memberRows []memberRow
	if err := s.db.SelectContext(ctx, &memberRows, `
		SELECT workspace_id, period_id, id, name, availability, sort_order, created_at
		FROM members
		WHERE workspace_id = $1 AND period_id = $2
	`, workspaceID, periodID); err != nil {
		return board.Board{}, fmt.Errorf("list members: %w", err)
	}

	result := board.Board{
		Tasks:   make([]board.Task, 0, len(taskRows)),
		Members: make([]board.Member, 0, len(memberRows)),
	}
	for _, row := range taskRows {
		result.Tasks = append(result.Tasks, row.toTask())
	}
	for _, row := range memberRows {
		member, err := row.toMember()
		if err != nil {
			return board.Board{}, err
		}
		result.Members = append(result.Members, member)
	}
	return result, nil
}

// PutTask writes the whole task, replacing any existing record with the same
// id.
func (s *PostgresStore) PutTask(ctx context.Context, workspaceID, periodID string, task board.Task) error {
	return WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := ensurePeriodExists(ctx, tx, workspaceID, periodID, s.nowMillis()); err != nil {
			return err
		}
		var assignedTo any
		if task.Assigned() {
			assignedTo = *task.AssignedTo
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (workspace_id, period_id, id, title, description, minutes, business,
				important, assigned_to, sort_order, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (workspace_id, period_id, id) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				minutes = EXCLUDED.minutes,
				business = EXCLUDED.business,
				important = EXCLUDED.important,
				assigned_to = EXCLUDED.assigned_to,
				sort_order = EXCLUDED.sort_order,
				created_at = EXCLUDED.created_at
		`, workspaceID, periodID, task.ID, task.Title, task.Description, int(task.Minutes.Normalized()),
			string(task.Business), task.Important, assignedTo, task.Order, task.CreatedAt)
		if err != nil {
			return fmt.Errorf("put task: %w", err)
		}
		return nil
	})
}

// UpdateTask merges patch into an existing task. It never creates one.
func (s *PostgresStore) UpdateTask(ctx context.Context, workspaceID, periodID, taskID string, patch board.TaskPatch) (bool, error) {
	var minutes *int
	if patch.Minutes != nil {
		value := int(patch.Minutes.Normalized())
		minutes = &value
	}
	var business *string
	if patch.Business != nil {
		value := string(*patch.Business)
		business = &value
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = COALESCE($4, title),
			description = COALESCE($5, description),
			minutes = COALESCE($6, minutes),
			business = COALESCE($7, business),
			important = COALESCE($8, important),
			sort_order = COALESCE($9, sort_order)
		WHERE workspace_id = $1 AND period_id = $2 AND id = $3
	`, workspaceID, periodID, taskID, patch.Title, patch.Description, minutes, business, patch.Important, patch.Order)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return affected(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, workspaceID, periodID, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE workspace_id = $1 AND period_id = $2 AND id = $3
	`, workspaceID, periodID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return affected(result)
}

// AssignTask sets or clears a task's assignee. Assigning locks the member row
// so concurrent assignments to one member are checked against each other; the
// assignment is refused when the member's other tasks plus this one exceed
// their availability.
func (s *PostgresStore) AssignTask(ctx context.Context, workspaceID, periodID, taskID string, memberID *string) error {
	return WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		var minutes int
		err := tx.QueryRowxContext(ctx, `
			SELECT minutes FROM tasks
			WHERE workspace_id = $1 AND period_id = $2 AND id = $3
			FOR UPDATE
		`, workspaceID, periodID, taskID).Scan(&minutes)
		if errors.Is(err, sql.ErrNoRows) {
			return board.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}

		if memberID == nil || *memberID == "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET assigned_to = NULL
				WHERE workspace_id = $1 AND period_id = $2 AND id = $3
			`, workspaceID, periodID, taskID); err != nil {
				return fmt.Errorf("unassign task: %w", err)
			}
			return nil
		}

		var row memberRow
		err = tx.GetContext(ctx, &row, `
			SELECT workspace_id, period_id, id, name, availability, sort_order, created_at
			FROM members
			WHERE workspace_id = $1 AND period_id = $2 AND id = $3
			FOR UPDATE
		`, workspaceID, periodID, *memberID)
		if errors.Is(err, sql.ErrNoRows) {
			return board.ErrMemberNotFound
		}
		if err != nil {
			return fmt.Errorf("lock member: %w", err)
		}
		member, err := row.toMember()
		if err != nil {
			return err
		}

		var assigned int
		if err := tx.QueryRowxContext(ctx, `
			SELECT COALESCE(SUM(minutes), 0) FROM tasks
			WHERE workspace_id = $1 AND period_id = $2 AND assigned_to = $3 AND id <> $4
		`, workspaceID, periodID, *memberID, taskID).Scan(&assigned); err != nil {
			return fmt.Errorf("sum assigned minutes: %w", err)
		}

		stat := board.Stat{Assigned: assigned, Available: board.SumAvailability(member)}
		if err := board.CheckCapacity(stat, minutes); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET assigned_to = $4
			WHERE workspace_id = $1 AND period_id = $2 AND id = $3
		`, workspaceID, periodID, taskID, *memberID); err != nil {
			return fmt.Errorf("assign task: %w", err)
		}
		return nil
	})
}

// PutMember writes the whole member, replacing any existing record.
func (s *PostgresStore) PutMember(ctx context.Context, workspaceID, periodID string, member board.Member) error {
	availability, err := encodeAvailability(board.NormalizeAvailability(member.AvailabilityByDay))
	if err != nil {
		return err
	}
	return WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := ensurePeriodExists(ctx, tx, workspaceID, periodID, s.nowMillis()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (workspace_id, period_id, id, name, availability, sort_order, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
			ON CONFLICT (workspace_id, period_id, id) DO UPDATE SET
				name = EXCLUDED.name,
				availability = EXCLUDED.availability,
				sort_order = EXCLUDED.sort_order,
				created_at = EXCLUDED.created_at
		`, workspaceID, periodID, member.ID, member.Name, availability, member.Order, member.CreatedAt)
		if err != nil {
			return fmt.Errorf("put member: %w", err)
		}
		return nil
	})
}

// UpdateMember merges patch into an existing member. Availability is merged
// per weekday.
func (s *PostgresStore) UpdateMember(ctx context.Context, workspaceID, periodID, memberID string, patch board.MemberPatch) (bool, error) {
	patch = patch.Normalized()
	var availability *string
	if len(patch.AvailabilityByDay) > 0 {
		raw, err := jsonString(patch.AvailabilityByDay)
		if err != nil {
			return false, err
		}
		availability = &raw
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE members SET
			name = COALESCE($4, name),
			availability = COALESCE(availability || $5::jsonb, availability),
			sort_order = COALESCE($6, sort_order)
		WHERE workspace_id = $1 AND period_id = $2 AND id = $3
	`, workspaceID, periodID, memberID, patch.Name, availability, patch.Order)
	if err != nil {
		return false, fmt.Errorf("update member: %w", err)
	}
	return affected(result)
}

// DeleteMember unassigns the member's tasks and removes the member in one
// transaction.
func (s *PostgresStore) DeleteMember(ctx context.Context, workspaceID, periodID, memberID string) (bool, error) {
	var deleted bool
	err := WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET assigned_to = NULL
			WHERE workspace_id = $1 AND period_id = $2 AND assigned_to = $3
		`, workspaceID, periodID, memberID); err != nil {
			return fmt.Errorf("unassign member tasks: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			DELETE FROM members WHERE workspace_id = $1 AND period_id = $2 AND id = $3
		`, workspaceID, periodID, memberID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		deleted, err = affected(result)
		return err
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ReorderTasks applies every order entry in one transaction. Entries for
// unknown ids are skipped.
func (s *PostgresStore) ReorderTasks(ctx context.Context, workspaceID, periodID string, orders []board.OrderEntry) error {
	return s.reorder(ctx, "tasks", workspaceID, periodID, orders)
}

func (s *PostgresStore) ReorderMembers(ctx context.Context, workspaceID, periodID string, orders []board.OrderEntry) error {
	return s.reorder(ctx, "members", workspaceID, periodID, orders)
}

func (s *PostgresStore) reorder(ctx context.Context, table, workspaceID, periodID string, orders []board.OrderEntry) error {
	if len(orders) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s SET sort_order = $4
		WHERE workspace_id = $1 AND period_id = $2 AND id = $3
	`, table)
	return WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare reorder %s: %w", table, err)
		}
		defer stmt.Close()
		for _, entry := range orders {
			if _, err := stmt.ExecContext(ctx, workspaceID, periodID, entry.ID, entry.Order); err != nil {
				return fmt.Errorf("reorder %s %s: %w", table, entry.ID, err)
			}
		}
		return nil
	})
}

func affected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}
