package workspace

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"workboard/api/internal/app"
	"workboard/api/internal/board"
	"workboard/api/internal/gateway"
	"workboard/api/internal/store"
)

const (
	testWS   = "ws1"
	febWeek  = "2026-02-09__2026-02-15"
	marWeek  = "2026-03-02__2026-03-08"
	waitTime = 5 * time.Second
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var feb11 = clockAt(time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC))

func sequentialIDs() func(string) string {
	var mu sync.Mutex
	next := map[string]int{}
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		next[prefix]++
		return prefix + "-" + strconv.Itoa(next[prefix])
	}
}

func newDemo(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ws := New(testWS, nil, append([]Option{WithClock(feb11), WithIDs(sequentialIDs())}, opts...)...)
	if err := ws.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(ws.Close)
	return ws
}

func newLive(t *testing.T, gw func(*app.Service) gateway.Gateway) (*Store, *app.Service) {
	t.Helper()
	svc := app.New(store.NewMemoryStore(), app.Deps{Now: feb11})
	var g gateway.Gateway = gateway.NewDirect(svc)
	if gw != nil {
		g = gw(svc)
	}
	ws := New(testWS, g, WithClock(feb11), WithIDs(sequentialIDs()))
	if err := ws.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(ws.Close)
	waitFor(t, ws, func(s Snapshot) bool { return s.SelectedPeriod != nil && s.SelectedPeriodID == febWeek })
	return ws, svc
}

func waitFor(t *testing.T, ws *Store, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitTime)
	for {
		snap := ws.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func taskIDs(s Snapshot) string {
	return strings.Join(board.TaskIDs(s.Tasks), ",")
}

func TestDemoOpenSeedsCurrentWeek(t *testing.T) {
	is := is.New(t)
	ws := newDemo(t)

	snap := ws.Snapshot()
	is.Equal(snap.Mode, ModeDemo)
	is.Equal(len(snap.Periods), 1)
	is.Equal(snap.SelectedPeriodID, febWeek)
	is.Equal(snap.SelectedPeriod.Label, "2026-02-09 ~ 2026-02-15")
	is.Equal(snap.DefaultPeriod.ID, febWeek)
	is.Equal(snap.PeriodYearMonths, []string{"2026-02"})
	is.Equal(len(snap.Members), 3)
	is.Equal(taskIDs(snap), "t1,t2,t3,t4,t5")
	is.Equal(snap.Stats["m1"].Available, 1200)
}

func TestDemoCapacityScenario(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws := newDemo(t)

	kim, err := ws.CreateMember(ctx, "  Kim ")
	is.NoErr(err)
	is.NoErr(ws.UpdateMemberAvailability(ctx, kim, board.Availability{board.Mon: 240, "holiday": 60}))
	a, err := ws.CreateTask(ctx, NewTask{Title: "A", Minutes: 200})
	is.NoErr(err)
	b, err := ws.CreateTask(ctx, NewTask{Title: "B", Minutes: 100})
	is.NoErr(err)

	is.NoErr(ws.AssignTask(ctx, a, board.StringPtr(kim)))
	err = ws.AssignTask(ctx, b, board.StringPtr(kim))
	is.True(errors.Is(err, board.ErrCapacityExceeded))

	snap := ws.Snapshot()
	is.True(strings.Contains(snap.Toast, "Kim"))
	is.Equal(snap.Stats[kim], board.Stat{Assigned: 200, Available: 240, Remaining: 40})
	task, _ := findTask(snap.Tasks, b)
	is.True(task.AssignedTo == nil)

	forty := board.Minutes(40)
	is.NoErr(ws.UpdateTask(ctx, b, board.TaskPatch{Minutes: &forty}))
	is.NoErr(ws.AssignTask(ctx, b, board.StringPtr(kim)))
	is.Equal(ws.Snapshot().Stats[kim], board.Stat{Assigned: 240, Available: 240, Remaining: 0})

	is.NoErr(ws.AssignTask(ctx, a, nil))
	is.Equal(ws.Snapshot().Stats[kim].Assigned, 40)
}

func TestAssignIgnoresUnknownIDs(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws := newDemo(t)
	before := ws.Snapshot()

	is.NoErr(ws.AssignTask(ctx, "ghost", board.StringPtr("m1")))
	is.NoErr(ws.AssignTask(ctx, "t1", board.StringPtr("ghost")))
	is.Equal(ws.Snapshot().Tasks, before.Tasks)
}

func TestDemoDuplicateTask(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws := newDemo(t)

	is.NoErr(ws.AssignTask(ctx, "t1", board.StringPtr("m1")))
	id, err := ws.DuplicateTask(ctx, "t1")
	is.NoErr(err)
	is.Equal(id, "t-1")

	snap := ws.Snapshot()
	dup, ok := findTask(snap.Tasks, id)
	is.True(ok)
	is.Equal(dup.Title, "Prepare client meeting notes")
	is.True(dup.AssignedTo == nil)
	is.Equal(dup.Order, 600.0)
	is.Equal(dup.CreatedAt, feb11().UnixMilli())
	src, _ := findTask(snap.Tasks, "t1")
	is.True(src.AssignedToMember("m1"))

	missing, err := ws.DuplicateTask(ctx, "ghost")
	is.NoErr(err)
	is.Equal(missing, "")
}

func TestDemoReorderTasks(t *testing.T) {
	is := is.New(t)
	ws := newDemo(t)

	is.NoErr(ws.ReorderTasks(context.Background(), []string{"t3", "t1", "t2"}))
	is.Equal(taskIDs(ws.Snapshot()), "t3,t1,t2,t4,t5")

	is.NoErr(ws.ReorderMembers(context.Background(), []string{"m3", "m2", "m1"}))
	is.Equal(board.MemberIDs(ws.Snapshot().Members), []string{"m3", "m2", "m1"})
}

func TestDemoDeleteMemberIsOneTransition(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		snapshots []Snapshot
	)
	ws := newDemo(t, WithOnChange(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	}))
	is.NoErr(ws.AssignTask(ctx, "t1", board.StringPtr("m1")))
	is.NoErr(ws.AssignTask(ctx, "t2", board.StringPtr("m1")))

	mu.Lock()
	before := len(snapshots)
	mu.Unlock()

	is.NoErr(ws.DeleteMember(ctx, "m1"))

	mu.Lock()
	defer mu.Unlock()
	is.Equal(len(snapshots), before+1)
	last := snapshots[len(snapshots)-1]
	_, stillThere := findMember(last.Members, "m1")
	is.True(!stillThere)
	is.Equal(len(board.AssignedTo(last.Tasks, "m1")), 0)
}

func TestDemoMemberNames(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws := newDemo(t)

	is.NoErr(ws.UpdateMemberName(ctx, "m1", "   "))
	m, _ := findMember(ws.Snapshot().Members, "m1")
	is.Equal(m.Name, "Kim")

	is.NoErr(ws.UpdateMemberName(ctx, "m1", " Choi "))
	m, _ = findMember(ws.Snapshot().Members, "m1")
	is.Equal(m.Name, "Choi")

	id, err := ws.CreateMember(ctx, "")
	is.NoErr(err)
	created, _ := findMember(ws.Snapshot().Members, id)
	is.Equal(created.Name, board.DefaultMemberName)
	is.Equal(created.Order, 400.0)
	is.Equal(board.SumAvailability(created), 0)
}

func TestCreatePeriodTwiceKeepsOne(t *testing.T) {
	ctx := context.Background()
	march := clockAt(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))

	t.Run("demo", func(t *testing.T) {
		is := is.New(t)
		ws := New(testWS, nil, WithClock(march))
		is.NoErr(ws.Open(ctx))
		defer ws.Close()

		is.NoErr(ws.CreatePeriod(ctx, "2026-02-09", "2026-02-15"))
		is.NoErr(ws.CreatePeriod(ctx, "2026-02-09", "2026-02-15"))

		snap := ws.Snapshot()
		is.Equal(len(snap.Periods), 2)
		is.Equal(snap.Periods[0].ID, febWeek)
		is.Equal(snap.Periods[1].ID, marWeek)
		is.Equal(snap.SelectedPeriodID, febWeek)
		is.Equal(snap.Toast, msgPeriodCreated)
		is.Equal(snap.PeriodYearMonths, []string{"2026-03", "2026-02"})
	})

	t.Run("live", func(t *testing.T) {
		is := is.New(t)
		ws, _ := newLive(t, nil)

		is.NoErr(ws.CreatePeriod(ctx, "2026-03-02", "2026-03-08"))
		is.NoErr(ws.CreatePeriod(ctx, "2026-03-02", "2026-03-08"))

		snap := waitFor(t, ws, func(s Snapshot) bool { return len(s.Periods) == 2 })
		is.Equal(snap.SelectedPeriodID, marWeek)
		ids := []string{snap.Periods[0].ID, snap.Periods[1].ID}
		is.True(ids[0] != ids[1])
	})
}

func TestCreatePeriodValidation(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws := newDemo(t)

	is.NoErr(ws.CreatePeriod(ctx, "", "2026-02-15"))
	err := ws.CreatePeriod(ctx, "2026-02-15", "2026-02-09")
	is.True(errors.Is(err, board.ErrEndBeforeStart))
	is.Equal(ws.Snapshot().Toast, msgEndBeforeStart)

	err = ws.CreatePeriod(ctx, "02/09/2026", "2026-02-15")
	is.True(errors.Is(err, board.ErrInvalidDate))
	is.Equal(ws.Snapshot().Toast, msgInvalidDate)
	is.Equal(len(ws.Snapshot().Periods), 1)
}

func TestToastIsClearedOnlyByItsOwnTimer(t *testing.T) {
	is := is.New(t)
	ws := newDemo(t, WithToastDelay(80*time.Millisecond))

	ws.showToast("saved")
	time.Sleep(50 * time.Millisecond)
	ws.showToast("saved")
	time.Sleep(50 * time.Millisecond)
	is.Equal(ws.Snapshot().Toast, "saved")

	waitFor(t, ws, func(s Snapshot) bool { return s.Toast == "" })
}

func TestLiveCapacityScenario(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws, _ := newLive(t, nil)

	kim, err := ws.CreateMember(ctx, "Kim")
	is.NoErr(err)
	waitFor(t, ws, func(s Snapshot) bool { return len(s.Members) == 1 })
	is.NoErr(ws.UpdateMemberAvailability(ctx, kim, board.Availability{board.Mon: 240}))
	a, err := ws.CreateTask(ctx, NewTask{Title: "A", Minutes: 200})
	is.NoErr(err)
	waitFor(t, ws, func(s Snapshot) bool { return len(s.Tasks) == 1 })
	b, err := ws.CreateTask(ctx, NewTask{Title: "B", Minutes: 100})
	is.NoErr(err)
	waitFor(t, ws, func(s Snapshot) bool { return len(s.Tasks) == 2 && s.Stats[kim].Available == 240 })

	is.NoErr(ws.AssignTask(ctx, a, board.StringPtr(kim)))
	waitFor(t, ws, func(s Snapshot) bool { return s.Stats[kim].Assigned == 200 })

	err = ws.AssignTask(ctx, b, board.StringPtr(kim))
	is.True(errors.Is(err, board.ErrCapacityExceeded))
	snap := ws.Snapshot()
	is.True(strings.Contains(snap.Toast, "Kim"))
	is.Equal(snap.Stats[kim], board.Stat{Assigned: 200, Available: 240, Remaining: 40})
	is.Equal(board.TaskIDs(snap.Tasks), []string{a, b})
}

func TestLiveDeleteMemberCascades(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws, _ := newLive(t, nil)

	kim, err := ws.CreateMember(ctx, "Kim")
	is.NoErr(err)
	is.NoErr(ws.UpdateMemberAvailability(ctx, kim, board.UniformWeekdays(60)))
	task, err := ws.CreateTask(ctx, NewTask{Minutes: 30})
	is.NoErr(err)
	waitFor(t, ws, func(s Snapshot) bool { return len(s.Tasks) == 1 && s.Stats[kim].Available == 300 })
	is.NoErr(ws.AssignTask(ctx, task, board.StringPtr(kim)))
	waitFor(t, ws, func(s Snapshot) bool { return s.Stats[kim].Assigned == 30 })

	is.NoErr(ws.DeleteMember(ctx, kim))
	snap := waitFor(t, ws, func(s Snapshot) bool { return len(s.Members) == 0 })
	is.True(snap.Tasks[0].AssignedTo == nil)
}

func TestLiveSwitchDropsOtherPeriods(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	ws, svc := newLive(t, nil)

	is.NoErr(ws.CreatePeriod(ctx, "2026-03-02", "2026-03-08"))
	waitFor(t, ws, func(s Snapshot) bool { return s.SelectedPeriodID == marWeek })

	_, err := svc.Apply(ctx, testWS, febWeek, board.CreateTask{Task: board.Task{ID: "feb-task"}})
	is.NoErr(err)
	_, err = svc.Apply(ctx, testWS, marWeek, board.CreateTask{Task: board.Task{ID: "mar-task"}})
	is.NoErr(err)

	waitFor(t, ws, func(s Snapshot) bool { return taskIDs(s) == "mar-task" })
	time.Sleep(50 * time.Millisecond)
	is.Equal(taskIDs(ws.Snapshot()), "mar-task")

	is.NoErr(ws.SelectPeriod(ctx, febWeek))
	waitFor(t, ws, func(s Snapshot) bool { return taskIDs(s) == "feb-task" })
}

func TestSelectionDuringFirstDeliveryKeepsItsBoard(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()

	svc := app.New(store.NewMemoryStore(), app.Deps{Now: feb11})
	for _, pid := range []string{febWeek, marWeek} {
		_, err := svc.Apply(ctx, testWS, pid, board.CreateTask{Task: board.Task{ID: "task-" + pid[:7]}})
		is.NoErr(err)
	}

	// The newest period is selected by default; a listener switches to the
	// older one as soon as the first period list lands.
	var (
		ws   *Store
		once sync.Once
	)
	ws = New(testWS, gateway.NewDirect(svc), WithClock(feb11), WithOnChange(func(s Snapshot) {
		if s.SelectedPeriodID != marWeek {
			return
		}
		once.Do(func() {
			if err := ws.SelectPeriod(context.Background(), febWeek); err != nil {
				t.Errorf("select: %v", err)
			}
		})
	}))
	is.NoErr(ws.Open(ctx))
	defer ws.Close()

	waitFor(t, ws, func(s Snapshot) bool { return s.SelectedPeriodID == febWeek && taskIDs(s) == "task-2026-02" })
	time.Sleep(50 * time.Millisecond)
	snap := ws.Snapshot()
	is.Equal(snap.SelectedPeriodID, febWeek)
	is.Equal(taskIDs(snap), "task-2026-02")
}

type failingGateway struct {
	gateway.Gateway
	err error
}

func (f failingGateway) Apply(context.Context, string, string, board.Command) (gateway.Result, error) {
	return gateway.Result{}, f.err
}

func TestLiveFailuresAreReported(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	boom := errors.New("backend unavailable")
	ws, _ := newLive(t, func(svc *app.Service) gateway.Gateway {
		return failingGateway{Gateway: gateway.NewDirect(svc), err: boom}
	})

	id, err := ws.CreateTask(ctx, NewTask{Title: "A"})
	is.True(errors.Is(err, boom))
	is.Equal(id, "")

	snap := ws.Snapshot()
	is.Equal(snap.Toast, "❌ backend unavailable")
	is.Equal(len(snap.Tasks), 0)

	// The store stays usable after a failure.
	is.NoErr(ws.SelectPeriod(ctx, febWeek))
}

func TestCloseStopsWatches(t *testing.T) {
	is := is.New(t)
	ws, svc := newLive(t, nil)
	ws.Close()

	_, err := svc.Apply(context.Background(), testWS, febWeek, board.CreateTask{Task: board.Task{ID: "late"}})
	is.NoErr(err)
	time.Sleep(50 * time.Millisecond)
	is.Equal(len(ws.Snapshot().Tasks), 0)
}

func TestLiveWithPeriodPreselects(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()

	svc := app.New(store.NewMemoryStore(), app.Deps{Now: feb11})
	for _, pid := range []string{febWeek, marWeek} {
		_, err := svc.Apply(ctx, testWS, pid, board.CreateTask{Task: board.Task{ID: "task-" + pid[:7]}})
		is.NoErr(err)
	}

	ws := New(testWS, gateway.NewDirect(svc), WithClock(feb11), WithPeriod(febWeek))
	is.NoErr(ws.Open(ctx))
	defer ws.Close()
	is.NoErr(ws.Ready(ctx))

	snap := ws.Snapshot()
	is.Equal(snap.SelectedPeriodID, febWeek)
	is.Equal(taskIDs(snap), "task-2026-02")
}
