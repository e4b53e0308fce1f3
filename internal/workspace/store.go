// Package workspace holds the client-side view of one workspace: its
// periods, the selected period's board, derived stats and a toast slot.
//
// Without a gateway the store runs in demo mode on seeded in-memory data.
// With one it runs live: every write goes through the gateway and the local
// state only changes when a watch delivers the confirmed snapshot.
package workspace

import (
	"context"
	"slices"
	"sync"
	"time"

	"workboard/api/internal/board"
	"workboard/api/internal/gateway"
	"workboard/api/internal/logging"
	"workboard/api/internal/util"
)

type Mode string

const (
	ModeDemo Mode = "demo"
	ModeLive Mode = "live"
)

const DefaultToastDelay = 2600 * time.Millisecond

// Snapshot is a copy of the store's state.
type Snapshot struct {
	Mode             Mode
	Periods          []board.Period
	SelectedPeriodID string
	SelectedPeriod   *board.Period
	PeriodYearMonths []string
	DefaultPeriod    board.Period
	Members          []board.Member
	Tasks            []board.Task
	Stats            board.Stats
	Toast            string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithToastDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.toastDelay = d
		}
	}
}

// WithIDs replaces the generator for new task and member ids.
func WithIDs(newID func(prefix string) string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithPeriod preselects a period instead of the newest one.
func WithPeriod(periodID string) Option {
	return func(s *Store) { s.selected = periodID }
}

// WithOnChange registers a callback that receives every new snapshot. It runs
// outside the store lock and must not call Close.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Store) { s.onChange = fn }
}

type Store struct {
	workspaceID string
	gw          gateway.Gateway
	mode        Mode
	now         func() time.Time
	log         *logging.Logger
	toastDelay  time.Duration
	newID       func(prefix string) string
	onChange    func(Snapshot)

	mu       sync.Mutex
	periods  []board.Period
	selected string
	members  []board.Member
	tasks    []board.Task

	toast      string
	toastSeq   uint64
	toastTimer *time.Timer

	ready     chan struct{}
	readyOnce sync.Once

	opened      bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	watching    string
	boardGen    uint64
	boardCancel context.CancelFunc
	pumps       sync.WaitGroup
}

// New creates a store for workspaceID. A nil gw selects demo mode.
func New(workspaceID string, gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		workspaceID: workspaceID,
		gw:          gw,
		mode:        ModeLive,
		now:         time.Now,
		log:         logging.Nop(),
		toastDelay:  DefaultToastDelay,
		newID:       util.NewID,
		ready:       make(chan struct{}),
	}
	if gw == nil {
		s.mode = ModeDemo
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("workspace").WithFields("workspace_id", workspaceID, "mode", string(s.mode))
	return s
}

func (s *Store) Mode() Mode {
	return s.mode
}

// Open loads the workspace. In live mode ctx bounds every subscription the
// store opens; Close cancels them early.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.mode == ModeDemo {
		s.seedDemo()
		return nil
	}

	if err := s.gw.EnsureWorkspace(s.ctx, s.workspaceID); err != nil {
		s.log.WithError(err).Warnw("ensure workspace")
	}
	updates, err := s.gw.WatchPeriods(s.ctx, s.workspaceID)
	if err != nil {
		return s.fail("watch periods", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.pumps.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.pumps.Done()
		for periods := range updates {
			s.receivePeriods(periods)
		}
	}()
	return nil
}

// Close cancels every subscription and waits for the pumps to stop.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.toastTimer != nil {
		s.toastTimer.Stop()
	}
	s.mu.Unlock()
	s.pumps.Wait()
}

// Ready blocks until the selected period's board has been loaded once.
func (s *Store) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:             s.mode,
		Periods:          slices.Clone(s.periods),
		SelectedPeriodID: s.selected,
		PeriodYearMonths: board.PeriodYearMonths(s.periods),
		DefaultPeriod:    s.defaultPeriod(),
		Members:          slices.Clone(s.members),
		Tasks:            slices.Clone(s.tasks),
		Stats:            board.ComputeStats(s.members, s.tasks),
		Toast:            s.toast,
	}
	if i := slices.IndexFunc(s.periods, func(p board.Period) bool { return p.ID == s.selected }); i >= 0 {
		selected := s.periods[i]
		snap.SelectedPeriod = &selected
	}
	return snap
}

// defaultPeriod is the current week.
func (s *Store) defaultPeriod() board.Period {
	now := s.now()
	start, end := board.CurrentWeek(now)
	return board.NewPeriod(start, end, now)
}

// update applies fn as one state transition and publishes the result.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

func (s *Store) emit(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

// current returns the selection and the last confirmed board. The slices are
// never modified in place.
func (s *Store) current() (string, []board.Task, []board.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.tasks, s.members
}

func (s *Store) seedDemo() {
	now := s.now()
	s.update(func() {
		start, end := board.CurrentWeek(now)
		period := board.NewPeriod(start, end, now)
		s.periods = []board.Period{period}
		s.selected = period.ID
		s.members = board.SortMembers(board.DemoMembers(now))
		s.tasks = board.SortTasks(board.DemoTasks(now))
	})
	s.markReady()
}

func (s *Store) receivePeriods(periods []board.Period) {
	if len(periods) == 0 {
		s.ensureDefaultPeriod()
		return
	}

	var watch string
	s.update(func() {
		s.periods = board.SortPeriods(periods)
		if s.selected == "" {
			s.selected = s.periods[0].ID
		}
		if s.selected != s.watching {
			watch = s.selected
		}
	})
	if watch != "" {
		_ = s.watchBoard(watch)
	}
}

// ensureDefaultPeriod asks the backend for the current week. The periods
// watch delivers it.
func (s *Store) ensureDefaultPeriod() {
	p := s.defaultPeriod()
	meta := board.PeriodMeta{StartDate: p.StartDate, EndDate: p.EndDate, Label: p.Label}
	if err := s.gw.EnsurePeriod(s.ctx, s.workspaceID, p.ID, meta); err != nil && s.ctx.Err() == nil {
		_ = s.fail("ensure default period", err)
	}
}

// watchBoard replaces the board subscription with one for periodID.
// Deliveries from older subscriptions are dropped by generation.
func (s *Store) watchBoard(periodID string) error {
	s.mu.Lock()
	if s.closed || s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	// The selection moved on while the caller was deciding what to watch.
	if periodID != s.selected {
		s.mu.Unlock()
		return nil
	}
	if s.boardCancel != nil {
		s.boardCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.boardCancel = cancel
	s.boardGen++
	gen := s.boardGen
	s.watching = periodID
	s.mu.Unlock()

	updates, err := s.gw.WatchBoard(ctx, s.workspaceID, periodID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		if s.boardGen == gen {
			s.watching = ""
		}
		s.mu.Unlock()
		return s.fail("watch board", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.pumps.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.pumps.Done()
		for snapshot := range updates {
			s.receiveBoard(gen, snapshot)
		}
	}()
	return nil
}

func (s *Store) receiveBoard(gen uint64, snapshot board.Board) {
	s.mu.Lock()
	if gen != s.boardGen {
		s.mu.Unlock()
		return
	}
	s.tasks = board.SortTasks(snapshot.Tasks)
	s.members = board.SortMembers(snapshot.Members)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.markReady()
	s.emit(snap)
}
