package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"workboard/api/internal/board"
	"workboard/api/internal/live"
	"workboard/api/internal/search"
	"workboard/api/internal/store"
)

const (
	testWS     = "ws1"
	testPeriod = "2026-02-09__2026-02-15"
)

// fakeStore runs on the in-memory store unless a Fn override is set.
type fakeStore struct {
	*store.MemoryStore
	pingFn       func(context.Context) error
	assignTaskFn func(context.Context, string, string, string, *string) error
	fetchBoardFn func(context.Context, string, string) (board.Board, error)
	putTaskFn    func(context.Context, string, string, board.Task) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) AssignTask(ctx context.Context, workspaceID, periodID, taskID string, memberID *string) error {
	if f.assignTaskFn != nil {
		return f.assignTaskFn(ctx, workspaceID, periodID, taskID, memberID)
	}
	return f.MemoryStore.AssignTask(ctx, workspaceID, periodID, taskID, memberID)
}

func (f *fakeStore) FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error) {
	if f.fetchBoardFn != nil {
		return f.fetchBoardFn(ctx, workspaceID, periodID)
	}
	return f.MemoryStore.FetchBoard(ctx, workspaceID, periodID)
}

func (f *fakeStore) PutTask(ctx context.Context, workspaceID, periodID string, task board.Task) error {
	if f.putTaskFn != nil {
		return f.putTaskFn(ctx, workspaceID, periodID, task)
	}
	return f.MemoryStore.PutTask(ctx, workspaceID, periodID, task)
}

type fakeIndex struct {
	synced  map[string]int
	deleted []string
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{{TaskID: "t1", Title: q.Text}}, Total: 1, Query: q.Text}
}

func (f *fakeIndex) SyncTasks(_, periodID string, tasks []board.Task) {
	if f.synced == nil {
		f.synced = map[string]int{}
	}
	f.synced[periodID] = len(tasks)
}

func (f *fakeIndex) DeleteTask(_, _, taskID string) {
	f.deleted = append(f.deleted, taskID)
}

func (f *fakeIndex) Backend() string { return "fake" }

type fakeArchiver struct {
	archiveFn func(context.Context, string, board.Period, board.Board) (string, error)
}

func (f *fakeArchiver) Archive(ctx context.Context, workspaceID string, period board.Period, snapshot board.Board) (string, error) {
	return f.archiveFn(ctx, workspaceID, period, snapshot)
}

var fixedNow = time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)

func newTestService(fs *fakeStore, deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = func() time.Time { return fixedNow }
	}
	return New(fs, deps)
}

func mustApply(t *testing.T, svc *Service, cmd board.Command) Result {
	t.Helper()
	result, err := svc.Apply(context.Background(), testWS, testPeriod, cmd)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", cmd.Action(), err)
	}
	return result
}

func weekMeta() board.PeriodMeta {
	return board.PeriodMeta{StartDate: "2026-02-09", EndDate: "2026-02-15"}
}

func TestEnsurePeriodValidatesAndDefaultsLabel(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	mustApply(t, svc, board.EnsurePeriod{PeriodMeta: weekMeta()})
	mustApply(t, svc, board.EnsurePeriod{PeriodMeta: weekMeta()})

	periods, err := svc.ListPeriods(ctx, testWS)
	if err != nil {
		t.Fatalf("ListPeriods failed: %v", err)
	}
	if len(periods) != 1 || periods[0].ID != testPeriod || periods[0].Label != "2026-02-09 ~ 2026-02-15" {
		t.Fatalf("expected one labelled period, got %+v", periods)
	}

	_, err = svc.Apply(ctx, testWS, "other", board.EnsurePeriod{PeriodMeta: weekMeta()})
	assertCode(t, err, http.StatusUnprocessableEntity, CodeValidation)

	backwards := board.PeriodMeta{StartDate: "2026-02-15", EndDate: "2026-02-09"}
	_, err = svc.Apply(ctx, testWS, board.BuildPeriodID(backwards.StartDate, backwards.EndDate), board.EnsurePeriod{PeriodMeta: backwards})
	assertCode(t, err, http.StatusUnprocessableEntity, CodeValidation)
}

func TestCreateTaskNormalisesAndOrders(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})

	first := mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t1", Title: "  ", Minutes: -5, AssignedTo: board.StringPtr("m1")}})
	if first.ID != "t1" {
		t.Fatalf("expected created id t1, got %q", first.ID)
	}
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t2", Title: "Report", Minutes: 30, Business: board.BusinessMupple}})

	snapshot, _ := svc.FetchBoard(context.Background(), testWS, testPeriod)
	tasks := board.SortTasks(snapshot.Tasks)
	if tasks[0].Title != board.DefaultTaskTitle || tasks[0].Minutes != 0 || tasks[0].AssignedTo != nil {
		t.Fatalf("expected normalised first task, got %+v", tasks[0])
	}
	if tasks[0].Business != board.BusinessMatjip {
		t.Fatalf("expected default business, got %q", tasks[0].Business)
	}
	if tasks[0].Order != 100 || tasks[1].Order != 200 {
		t.Fatalf("expected orders 100/200, got %v/%v", tasks[0].Order, tasks[1].Order)
	}
	if tasks[0].CreatedAt != fixedNow.UnixMilli() {
		t.Fatalf("expected createdAt from clock, got %d", tasks[0].CreatedAt)
	}
}

func TestCreateTaskRejectsUnknownBusiness(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	_, err := svc.Apply(context.Background(), testWS, testPeriod, board.CreateTask{Task: board.Task{ID: "t1", Business: "other"}})
	assertCode(t, err, http.StatusUnprocessableEntity, CodeValidation)
}

func TestAssignScenario(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs, Deps{})
	ctx := context.Background()

	mustApply(t, svc, board.CreateMember{Member: board.Member{ID: "m1", Name: "Kim", AvailabilityByDay: board.Availability{board.Mon: 240}}})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "a", Minutes: 200}})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "b", Minutes: 100}})

	mustApply(t, svc, board.AssignTask{TaskID: "a", MemberID: board.StringPtr("m1")})
	_, err := svc.Apply(ctx, testWS, testPeriod, board.AssignTask{TaskID: "b", MemberID: board.StringPtr("m1")})
	assertCode(t, err, http.StatusConflict, CodeCapacityExceeded)

	_, err = svc.Apply(ctx, testWS, testPeriod, board.AssignTask{TaskID: "b", MemberID: board.StringPtr("ghost")})
	assertCode(t, err, http.StatusNotFound, CodeNotFound)

	// Missing tasks are a silent no-op.
	mustApply(t, svc, board.AssignTask{TaskID: "ghost", MemberID: board.StringPtr("m1")})

	snapshot, _ := svc.FetchBoard(ctx, testWS, testPeriod)
	stats := board.ComputeStats(snapshot.Members, snapshot.Tasks)
	if stats["m1"].Assigned != 200 || stats["m1"].Remaining != 40 {
		t.Fatalf("unexpected stats %+v", stats["m1"])
	}
	b, _ := snapshot.FindTask("b")
	if b.AssignedTo != nil {
		t.Fatalf("rejected assignment must leave b unassigned, got %v", *b.AssignedTo)
	}
}

func TestDuplicateClearsAssignment(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	mustApply(t, svc, board.CreateMember{Member: board.Member{ID: "m1", AvailabilityByDay: board.UniformWeekdays(60)}})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t1", Title: "Report", Minutes: 30}})
	mustApply(t, svc, board.AssignTask{TaskID: "t1", MemberID: board.StringPtr("m1")})

	snapshot, _ := svc.FetchBoard(context.Background(), testWS, testPeriod)
	src, _ := snapshot.FindTask("t1")
	copyTask := board.Duplicate(src, "t2", board.NextOrder(snapshot.Tasks), fixedNow.UnixMilli())
	copyTask.AssignedTo = board.StringPtr("m1")
	mustApply(t, svc, board.DuplicateTask{Task: copyTask})

	snapshot, _ = svc.FetchBoard(context.Background(), testWS, testPeriod)
	dup, ok := snapshot.FindTask("t2")
	if !ok || dup.AssignedTo != nil || dup.Title != "Report" || dup.Order != 200 {
		t.Fatalf("unexpected duplicate %+v", dup)
	}
}

func TestUpdateMemberRejectsBlankName(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	mustApply(t, svc, board.CreateMember{Member: board.Member{ID: "m1", Name: "Kim"}})

	_, err := svc.Apply(context.Background(), testWS, testPeriod, board.UpdateMember{MemberID: "m1", Patch: board.MemberPatch{Name: board.StringPtr("   ")}})
	assertCode(t, err, http.StatusUnprocessableEntity, CodeValidation)

	mustApply(t, svc, board.UpdateMember{MemberID: "m1", Patch: board.MemberPatch{Name: board.StringPtr("  Lee ")}})
	snapshot, _ := svc.FetchBoard(context.Background(), testWS, testPeriod)
	if snapshot.Members[0].Name != "Lee" {
		t.Fatalf("expected trimmed name, got %q", snapshot.Members[0].Name)
	}
}

func TestDeleteMemberCascadesAndPublishesOnce(t *testing.T) {
	fs := newFakeStore()
	broker := live.NewMemory(nil)
	svc := newTestService(fs, Deps{Broker: broker})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustApply(t, svc, board.CreateMember{Member: board.Member{ID: "m1", AvailabilityByDay: board.UniformWeekdays(60)}})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t1", Minutes: 30}})
	mustApply(t, svc, board.AssignTask{TaskID: "t1", MemberID: board.StringPtr("m1")})

	updates, err := broker.SubscribeBoard(ctx, testWS, testPeriod)
	if err != nil {
		t.Fatalf("SubscribeBoard failed: %v", err)
	}
	mustApply(t, svc, board.DeleteMember{MemberID: "m1"})

	select {
	case snapshot := <-updates:
		if len(snapshot.Members) != 0 || snapshot.Tasks[0].AssignedTo != nil {
			t.Fatalf("expected cascaded snapshot, got %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}
}

// holdingBroker lets a test intercept board publishes.
type holdingBroker struct {
	*live.Broker
	publishBoardFn func(context.Context, string, string, board.Board) error
}

func (b *holdingBroker) PublishBoard(ctx context.Context, workspaceID, periodID string, snapshot board.Board) error {
	if b.publishBoardFn != nil {
		return b.publishBoardFn(ctx, workspaceID, periodID, snapshot)
	}
	return b.Broker.PublishBoard(ctx, workspaceID, periodID, snapshot)
}

func TestConcurrentWritesPublishInOrder(t *testing.T) {
	fs := newFakeStore()
	entered := make(chan struct{})
	release := make(chan struct{})

	var (
		mu        sync.Mutex
		held      bool
		published []int
	)
	broker := &holdingBroker{Broker: live.NewMemory(nil)}
	broker.publishBoardFn = func(_ context.Context, _, _ string, snapshot board.Board) error {
		mu.Lock()
		hold := !held
		held = true
		mu.Unlock()
		if hold {
			close(entered)
			<-release
		}
		mu.Lock()
		published = append(published, len(snapshot.Tasks))
		mu.Unlock()
		return nil
	}
	svc := newTestService(fs, Deps{Broker: broker})

	var wg sync.WaitGroup
	create := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Apply(context.Background(), testWS, testPeriod, board.CreateTask{Task: board.Task{ID: id}}); err != nil {
				t.Errorf("create %s: %v", id, err)
			}
		}()
	}

	create("x")
	<-entered
	create("y")

	// The second write waits until the first snapshot is out.
	time.Sleep(50 * time.Millisecond)
	current, err := fs.MemoryStore.FetchBoard(context.Background(), testWS, testPeriod)
	if err != nil {
		t.Fatalf("FetchBoard failed: %v", err)
	}
	if len(current.Tasks) != 1 {
		t.Fatalf("expected the second write to wait, store has %d tasks", len(current.Tasks))
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 2 || published[0] != 1 || published[1] != 2 {
		t.Fatalf("expected snapshots with 1 then 2 tasks, got %v", published)
	}
}

func TestReorderTasksKeepsUnmentionedOrder(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	for _, id := range []string{"id1", "id2", "id3", "id4"} {
		mustApply(t, svc, board.CreateTask{Task: board.Task{ID: id}})
	}
	mustApply(t, svc, board.ReorderTasks{Orders: board.ReorderPlan([]string{"id3", "id1", "id2"})})

	snapshot, _ := svc.FetchBoard(context.Background(), testWS, testPeriod)
	if got := strings.Join(board.TaskIDs(board.SortTasks(snapshot.Tasks)), ","); got != "id3,id1,id2,id4" {
		t.Fatalf("expected id3,id1,id2,id4, got %s", got)
	}
}

func TestWritesReachSearchIndex(t *testing.T) {
	index := &fakeIndex{}
	svc := newTestService(newFakeStore(), Deps{Search: index})

	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t1"}})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t2"}})
	mustApply(t, svc, board.DeleteTask{TaskID: "t1"})
	mustApply(t, svc, board.DeleteTask{TaskID: "ghost"})

	if index.synced[testPeriod] != 1 {
		t.Fatalf("expected last sync with one task, got %v", index.synced)
	}
	if len(index.deleted) != 1 || index.deleted[0] != "t1" {
		t.Fatalf("expected only t1 removed from index, got %v", index.deleted)
	}
}

func TestBackendErrorsAreServerErrors(t *testing.T) {
	fs := newFakeStore()
	fs.putTaskFn = func(context.Context, string, string, board.Task) error {
		return errors.New("connection reset")
	}
	svc := newTestService(fs, Deps{})

	_, err := svc.Apply(context.Background(), testWS, testPeriod, board.CreateTask{Task: board.Task{ID: "t1", Order: 100}})
	status, code, message, _ := mapError(err)
	if status != http.StatusInternalServerError || code != CodeServerError || !strings.Contains(message, "connection reset") {
		t.Fatalf("expected server_error with diagnostic, got %d %s %q", status, code, message)
	}
}

func TestWatchBoardDeliversCurrentStateFirst(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t1"}})

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := svc.WatchBoard(ctx, testWS, testPeriod)
	if err != nil {
		t.Fatalf("WatchBoard failed: %v", err)
	}
	first := <-updates
	if len(first.Tasks) != 1 {
		t.Fatalf("expected current board first, got %+v", first)
	}

	mustApply(t, svc, board.CreateTask{Task: board.Task{ID: "t2"}})
	select {
	case next := <-updates:
		if len(next.Tasks) != 2 {
			t.Fatalf("expected two tasks, got %+v", next)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	for range updates {
	}
}

func TestWatchFailsWhenCurrentStateFails(t *testing.T) {
	fs := newFakeStore()
	fs.fetchBoardFn = func(context.Context, string, string) (board.Board, error) {
		return board.Board{}, errors.New("db down")
	}
	svc := newTestService(fs, Deps{})
	if _, err := svc.WatchBoard(context.Background(), testWS, testPeriod); err == nil {
		t.Fatal("expected error")
	}
}

func TestArchive(t *testing.T) {
	fs := newFakeStore()

	svc := newTestService(fs, Deps{})
	_, err := svc.Archive(context.Background(), testWS, testPeriod)
	assertCode(t, err, http.StatusServiceUnavailable, CodeArchiveUnavailable)

	var gotPeriod board.Period
	svc = newTestService(fs, Deps{Archive: &fakeArchiver{archiveFn: func(_ context.Context, _ string, period board.Period, _ board.Board) (string, error) {
		gotPeriod = period
		return "workspace/ws1/period/" + period.ID + "/1.json", nil
	}}})
	_, err = svc.Archive(context.Background(), testWS, testPeriod)
	assertCode(t, err, http.StatusNotFound, CodeNotFound)

	mustApply(t, svc, board.EnsurePeriod{PeriodMeta: weekMeta()})
	key, err := svc.Archive(context.Background(), testWS, testPeriod)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if gotPeriod.ID != testPeriod || !strings.HasSuffix(key, "/1.json") {
		t.Fatalf("unexpected archive result %q for %+v", key, gotPeriod)
	}
}

func assertCode(t *testing.T, err error, wantStatus int, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", wantCode)
	}
	status, code, _, _ := mapError(err)
	if status != wantStatus || code != wantCode {
		t.Fatalf("expected %d %s, got %d %s (%v)", wantStatus, wantCode, status, code, err)
	}
}
