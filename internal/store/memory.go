package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"workboard/api/internal/board"
)

// MemoryStore keeps every workspace in process. It mirrors PostgresStore's
// semantics and backs `serve --memory` and the service tests.
type MemoryStore struct {
	mu         sync.Mutex
	workspaces map[string]*memoryWorkspace
	now        func() time.Time
}

type memoryWorkspace struct {
	periods map[string]*memoryPeriod
}

type memoryPeriod struct {
	meta    board.Period
	tasks   map[string]board.Task
	members map[string]board.Member
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workspaces: map[string]*memoryWorkspace{}, now: time.Now}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureWorkspace(_ context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspace(workspaceID)
	return nil
}

func (s *MemoryStore) workspace(workspaceID string) *memoryWorkspace {
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		ws = &memoryWorkspace{periods: map[string]*memoryPeriod{}}
		s.workspaces[workspaceID] = ws
	}
	return ws
}

// period returns the period, creating a bare one recovered from the id when a
// child record is written first.
func (s *MemoryStore) period(workspaceID, periodID string) *memoryPeriod {
	ws := s.workspace(workspaceID)
	p, ok := ws.periods[periodID]
	if !ok {
		now := s.now().UnixMilli()
		start, end, _ := board.ParsePeriodID(periodID)
		label := ""
		if start != "" {
			label = board.PeriodLabel(start, end)
		}
		p = &memoryPeriod{
			meta:    board.Period{ID: periodID, StartDate: start, EndDate: end, Label: label, CreatedAt: now, UpdatedAt: now},
			tasks:   map[string]board.Task{},
			members: map[string]board.Member{},
		}
		ws.periods[periodID] = p
	}
	return p
}

func (s *MemoryStore) lookup(workspaceID, periodID string) (*memoryPeriod, bool) {
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, false
	}
	p, ok := ws.periods[periodID]
	return p, ok
}

func (s *MemoryStore) ListPeriods(_ context.Context, workspaceID string) ([]board.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return []board.Period{}, nil
	}
	periods := make([]board.Period, 0, len(ws.periods))
	for _, p := range ws.periods {
		periods = append(periods, p.meta)
	}
	slices.SortFunc(periods, func(a, b board.Period) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return periods, nil
}

func (s *MemoryStore) EnsurePeriod(_ context.Context, workspaceID, periodID string, meta board.PeriodMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.lookup(workspaceID, periodID)
	p := s.period(workspaceID, periodID)
	if meta.StartDate != "" {
		p.meta.StartDate = meta.StartDate
	}
	if meta.EndDate != "" {
		p.meta.EndDate = meta.EndDate
	}
	if meta.Label != "" {
		p.meta.Label = meta.Label
	}
	p.meta.UpdatedAt = s.now().UnixMilli()
	return !existed, nil
}

func (s *MemoryStore) FetchBoard(_ context.Context, workspaceID, periodID string) (board.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := board.Board{Tasks: []board.Task{}, Members: []board.Member{}}
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return result, nil
	}
	for _, task := range p.tasks {
		result.Tasks = append(result.Tasks, cloneTask(task))
	}
	for _, member := range p.members {
		result.Members = append(result.Members, cloneMember(member))
	}
	return result, nil
}

func (s *MemoryStore) PutTask(_ context.Context, workspaceID, periodID string, task board.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Minutes = task.Minutes.Normalized()
	s.period(workspaceID, periodID).tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, workspaceID, periodID, taskID string, patch board.TaskPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return false, nil
	}
	task, ok := p.tasks[taskID]
	if !ok {
		return false, nil
	}
	p.tasks[taskID] = patch.Apply(task)
	return true, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, workspaceID, periodID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return false, nil
	}
	if _, ok := p.tasks[taskID]; !ok {
		return false, nil
	}
	delete(p.tasks, taskID)
	return true, nil
}

func (s *MemoryStore) AssignTask(_ context.Context, workspaceID, periodID, taskID string, memberID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return board.ErrTaskNotFound
	}
	task, ok := p.tasks[taskID]
	if !ok {
		return board.ErrTaskNotFound
	}
	if memberID == nil || *memberID == "" {
		task.AssignedTo = nil
		p.tasks[taskID] = task
		return nil
	}

	member, ok := p.members[*memberID]
	if !ok {
		return board.ErrMemberNotFound
	}
	assigned := 0
	for id, other := range p.tasks {
		if id != taskID && other.AssignedToMember(member.ID) {
			assigned += int(other.Minutes)
		}
	}
	stat := board.Stat{Assigned: assigned, Available: board.SumAvailability(member)}
	if err := board.CheckCapacity(stat, int(task.Minutes)); err != nil {
		return err
	}
	task.AssignedTo = board.StringPtr(member.ID)
	p.tasks[taskID] = task
	return nil
}

func (s *MemoryStore) PutMember(_ context.Context, workspaceID, periodID string, member board.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member.AvailabilityByDay = board.NormalizeAvailability(member.AvailabilityByDay)
	s.period(workspaceID, periodID).members[member.ID] = cloneMember(member)
	return nil
}

func (s *MemoryStore) UpdateMember(_ context.Context, workspaceID, periodID, memberID string, patch board.MemberPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return false, nil
	}
	member, ok := p.members[memberID]
	if !ok {
		return false, nil
	}
	p.members[memberID] = patch.Apply(member)
	return true, nil
}

func (s *MemoryStore) DeleteMember(_ context.Context, workspaceID, periodID, memberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return false, nil
	}
	for id, task := range p.tasks {
		if task.AssignedToMember(memberID) {
			task.AssignedTo = nil
			p.tasks[id] = task
		}
	}
	if _, ok := p.members[memberID]; !ok {
		return false, nil
	}
	delete(p.members, memberID)
	return true, nil
}

func (s *MemoryStore) ReorderTasks(_ context.Context, workspaceID, periodID string, orders []board.OrderEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return nil
	}
	for _, entry := range orders {
		if task, ok := p.tasks[entry.ID]; ok {
			task.Order = entry.Order
			p.tasks[entry.ID] = task
		}
	}
	return nil
}

func (s *MemoryStore) ReorderMembers(_ context.Context, workspaceID, periodID string, orders []board.OrderEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookup(workspaceID, periodID)
	if !ok {
		return nil
	}
	for _, entry := range orders {
		if member, ok := p.members[entry.ID]; ok {
			member.Order = entry.Order
			p.members[entry.ID] = member
		}
	}
	return nil
}

func cloneTask(t board.Task) board.Task {
	if t.AssignedTo != nil {
		t.AssignedTo = board.StringPtr(*t.AssignedTo)
	}
	return t
}

func cloneMember(m board.Member) board.Member {
	availability := make(board.Availability, len(m.AvailabilityByDay))
	for day, minutes := range m.AvailabilityByDay {
		availability[day] = minutes
	}
	m.AvailabilityByDay = availability
	return m
}
