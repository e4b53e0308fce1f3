package workspace

import (
	"context"
	"slices"
	"strings"

	"workboard/api/internal/board"
)

// NewTask is the user input for a task; the store fills in the rest.
type NewTask struct {
	Title       string
	Description string
	Minutes     float64
	Business    board.Business
	Important   bool
}

// SelectPeriod switches the board being shown. In live mode the previous
// board watch is cancelled before the new one starts.
func (s *Store) SelectPeriod(ctx context.Context, periodID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return nil
	}

	changed := false
	s.update(func() {
		if s.selected == periodID {
			return
		}
		s.selected = periodID
		changed = true
		if s.mode == ModeLive {
			s.tasks = nil
			s.members = nil
		}
	})
	if !changed || s.mode == ModeDemo {
		return nil
	}
	return s.watchBoard(periodID)
}

// CreatePeriod adds the period start..end and selects it. Blank dates are
// ignored; bad dates are reported through the toast.
func (s *Store) CreatePeriod(ctx context.Context, start, end string) error {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return nil
	}
	if err := board.ValidateRange(start, end); err != nil {
		s.showToast(periodErrorMessage(err))
		return err
	}

	id := board.BuildPeriodID(start, end)
	if s.mode == ModeDemo {
		now := s.now()
		s.update(func() {
			s.periods = board.UpsertPeriod(s.periods, board.NewPeriod(start, end, now))
			s.selected = id
			s.showToastLocked(msgPeriodCreated)
		})
		return nil
	}

	meta := board.PeriodMeta{StartDate: start, EndDate: end, Label: board.PeriodLabel(start, end)}
	if err := s.gw.EnsurePeriod(ctx, s.workspaceID, id, meta); err != nil {
		return s.fail(string(board.ActionEnsurePeriod), err)
	}
	if err := s.SelectPeriod(ctx, id); err != nil {
		return err
	}
	s.showToast(msgPeriodCreated)
	return nil
}

// AssignTask assigns taskID to memberID, or unassigns it when memberID is
// nil. An assignment that would push the member over their availability is
// refused with a toast and board.ErrCapacityExceeded.
func (s *Store) AssignTask(ctx context.Context, taskID string, memberID *string) error {
	pid, tasks, members := s.current()
	if pid == "" {
		return nil
	}
	task, ok := findTask(tasks, taskID)
	if !ok {
		return nil
	}

	var target *string
	if memberID != nil && strings.TrimSpace(*memberID) != "" {
		member, ok := findMember(members, *memberID)
		if !ok {
			return nil
		}
		stat := board.Stat{
			Assigned:  assignedMinutes(tasks, member.ID, taskID),
			Available: board.SumAvailability(member),
		}
		if err := board.CheckCapacity(stat, int(task.Minutes)); err != nil {
			s.showToast("❌ " + board.CapacityMessage(member.Name))
			return err
		}
		target = board.StringPtr(member.ID)
	}

	if s.mode == ModeDemo {
		s.update(func() {
			s.tasks = mapTask(s.tasks, taskID, func(t board.Task) board.Task {
				t.AssignedTo = target
				return t
			})
		})
		return nil
	}
	return s.apply(ctx, pid, board.AssignTask{TaskID: taskID, MemberID: target})
}

// UpdateMemberAvailability merges per-day minutes into the member's
// availability.
func (s *Store) UpdateMemberAvailability(ctx context.Context, memberID string, availability board.Availability) error {
	pid, _, _ := s.current()
	if pid == "" {
		return nil
	}
	patch := board.MemberPatch{AvailabilityByDay: availability}.Normalized()
	return s.updateMember(ctx, pid, memberID, patch)
}

func (s *Store) UpdateMemberName(ctx context.Context, memberID, name string) error {
	pid, _, _ := s.current()
	name = strings.TrimSpace(name)
	if pid == "" || name == "" {
		return nil
	}
	return s.updateMember(ctx, pid, memberID, board.MemberPatch{Name: board.StringPtr(name)})
}

func (s *Store) updateMember(ctx context.Context, pid, memberID string, patch board.MemberPatch) error {
	if s.mode == ModeDemo {
		s.update(func() {
			s.members = mapMember(s.members, memberID, patch.Apply)
		})
		return nil
	}
	return s.apply(ctx, pid, board.UpdateMember{MemberID: memberID, Patch: patch})
}

// DeleteMember removes the member and unassigns their tasks in one step.
func (s *Store) DeleteMember(ctx context.Context, memberID string) error {
	pid, _, _ := s.current()
	if pid == "" {
		return nil
	}
	if s.mode == ModeDemo {
		s.update(func() {
			s.members = slices.DeleteFunc(slices.Clone(s.members), func(m board.Member) bool { return m.ID == memberID })
			tasks := slices.Clone(s.tasks)
			for i := range tasks {
				if tasks[i].AssignedToMember(memberID) {
					tasks[i].AssignedTo = nil
				}
			}
			s.tasks = tasks
		})
		return nil
	}
	return s.apply(ctx, pid, board.DeleteMember{MemberID: memberID})
}

// CreateTask appends a task to the selected period and returns its id.
func (s *Store) CreateTask(ctx context.Context, in NewTask) (string, error) {
	pid, tasks, _ := s.current()
	if pid == "" {
		return "", nil
	}
	task := board.Task{
		ID:          s.newID("t"),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Minutes:     board.Minutes(board.NormalizeMinutes(in.Minutes)),
		Business:    in.Business,
		Important:   in.Important,
		Order:       board.NextOrder(tasks),
		CreatedAt:   s.now().UnixMilli(),
	}
	if task.Title == "" {
		task.Title = board.DefaultTaskTitle
	}
	if err := s.addTask(ctx, pid, task, board.CreateTask{Task: task}); err != nil {
		return "", err
	}
	return task.ID, nil
}

// DuplicateTask copies a task under a new id at the end of the board,
// unassigned.
func (s *Store) DuplicateTask(ctx context.Context, taskID string) (string, error) {
	pid, tasks, _ := s.current()
	if pid == "" {
		return "", nil
	}
	src, ok := findTask(tasks, taskID)
	if !ok {
		return "", nil
	}
	dup := board.Duplicate(src, s.newID("t"), board.NextOrder(tasks), s.now().UnixMilli())
	if err := s.addTask(ctx, pid, dup, board.DuplicateTask{Task: dup}); err != nil {
		return "", err
	}
	return dup.ID, nil
}

func (s *Store) addTask(ctx context.Context, pid string, task board.Task, cmd board.Command) error {
	if s.mode == ModeDemo {
		if task.Business == "" {
			task.Business = board.DefaultBusinesses[0]
		}
		s.update(func() {
			s.tasks = board.SortTasks(append(slices.Clone(s.tasks), task))
		})
		return nil
	}
	return s.apply(ctx, pid, cmd)
}

// CreateMember appends a member with no availability and returns its id.
func (s *Store) CreateMember(ctx context.Context, name string) (string, error) {
	pid, _, members := s.current()
	if pid == "" {
		return "", nil
	}
	member := board.Member{
		ID:                s.newID("m"),
		Name:              strings.TrimSpace(name),
		AvailabilityByDay: board.NormalizeAvailability(nil),
		Order:             board.NextOrder(members),
		CreatedAt:         s.now().UnixMilli(),
	}
	if member.Name == "" {
		member.Name = board.DefaultMemberName
	}
	if s.mode == ModeDemo {
		s.update(func() {
			s.members = board.SortMembers(append(slices.Clone(s.members), member))
		})
		return member.ID, nil
	}
	if err := s.apply(ctx, pid, board.CreateMember{Member: member}); err != nil {
		return "", err
	}
	return member.ID, nil
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, patch board.TaskPatch) error {
	pid, _, _ := s.current()
	if pid == "" {
		return nil
	}
	if patch.Minutes != nil {
		minutes := board.Minutes(board.NormalizeMinutes(float64(*patch.Minutes)))
		patch.Minutes = &minutes
	}
	if s.mode == ModeDemo {
		s.update(func() {
			s.tasks = mapTask(s.tasks, taskID, patch.Apply)
		})
		return nil
	}
	return s.apply(ctx, pid, board.UpdateTask{TaskID: taskID, Patch: patch})
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	pid, _, _ := s.current()
	if pid == "" {
		return nil
	}
	if s.mode == ModeDemo {
		s.update(func() {
			s.tasks = slices.DeleteFunc(slices.Clone(s.tasks), func(t board.Task) bool { return t.ID == taskID })
		})
		return nil
	}
	return s.apply(ctx, pid, board.DeleteTask{TaskID: taskID})
}

// ReorderTasks numbers the given ids 100, 200, ... in sequence. Tasks not
// listed keep their order.
func (s *Store) ReorderTasks(ctx context.Context, ids []string) error {
	pid, _, _ := s.current()
	if pid == "" || len(ids) == 0 {
		return nil
	}
	plan := board.ReorderPlan(ids)
	if s.mode == ModeDemo {
		s.update(func() { s.tasks = board.ApplyTaskOrders(s.tasks, plan) })
		return nil
	}
	return s.apply(ctx, pid, board.ReorderTasks{Orders: plan})
}

func (s *Store) ReorderMembers(ctx context.Context, ids []string) error {
	pid, _, _ := s.current()
	if pid == "" || len(ids) == 0 {
		return nil
	}
	plan := board.ReorderPlan(ids)
	if s.mode == ModeDemo {
		s.update(func() { s.members = board.ApplyMemberOrders(s.members, plan) })
		return nil
	}
	return s.apply(ctx, pid, board.ReorderMembers{Orders: plan})
}

func (s *Store) apply(ctx context.Context, pid string, cmd board.Command) error {
	if _, err := s.gw.Apply(ctx, s.workspaceID, pid, cmd); err != nil {
		return s.fail(string(cmd.Action()), err)
	}
	return nil
}

func findTask(tasks []board.Task, id string) (board.Task, bool) {
	return board.Board{Tasks: tasks}.FindTask(id)
}

func findMember(members []board.Member, id string) (board.Member, bool) {
	return board.Board{Members: members}.FindMember(id)
}

// assignedMinutes totals the member's tasks other than exclude.
func assignedMinutes(tasks []board.Task, memberID, exclude string) int {
	total := 0
	for _, task := range board.AssignedTo(tasks, memberID) {
		if task.ID != exclude {
			total += int(task.Minutes)
		}
	}
	return total
}

func mapTask(tasks []board.Task, id string, fn func(board.Task) board.Task) []board.Task {
	out := slices.Clone(tasks)
	for i := range out {
		if out[i].ID == id {
			out[i] = fn(out[i])
		}
	}
	return board.SortTasks(out)
}

func mapMember(members []board.Member, id string, fn func(board.Member) board.Member) []board.Member {
	out := slices.Clone(members)
	for i := range out {
		if out[i].ID == id {
			out[i] = fn(out[i])
		}
	}
	return board.SortMembers(out)
}
