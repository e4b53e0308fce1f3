package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"workboard/api/internal/board"
	"workboard/api/internal/live"
	"workboard/api/internal/logging"
	"workboard/api/internal/metrics"
	"workboard/api/internal/search"
)

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureWorkspace(ctx context.Context, workspaceID string) error
	ListPeriods(ctx context.Context, workspaceID string) ([]board.Period, error)
	EnsurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) (bool, error)
	FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error)
	PutTask(ctx context.Context, workspaceID, periodID string, task board.Task) error
	UpdateTask(ctx context.Context, workspaceID, periodID, taskID string, patch board.TaskPatch) (bool, error)
	DeleteTask(ctx context.Context, workspaceID, periodID, taskID string) (bool, error)
	AssignTask(ctx context.Context, workspaceID, periodID, taskID string, memberID *string) error
	PutMember(ctx context.Context, workspaceID, periodID string, member board.Member) error
	UpdateMember(ctx context.Context, workspaceID, periodID, memberID string, patch board.MemberPatch) (bool, error)
	DeleteMember(ctx context.Context, workspaceID, periodID, memberID string) (bool, error)
	ReorderTasks(ctx context.Context, workspaceID, periodID string, orders []board.OrderEntry) error
	ReorderMembers(ctx context.Context, workspaceID, periodID string, orders []board.OrderEntry) error
}

// broker carries post-write snapshots to watchers. *live.Broker implements it.
type broker interface {
	PublishPeriods(ctx context.Context, workspaceID string, periods []board.Period) error
	PublishBoard(ctx context.Context, workspaceID, periodID string, snapshot board.Board) error
	SubscribePeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error)
	SubscribeBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error)
	Ping(ctx context.Context) error
}

type taskIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	SyncTasks(workspaceID, periodID string, tasks []board.Task)
	DeleteTask(workspaceID, periodID, taskID string)
	Backend() string
}

type archiver interface {
	Archive(ctx context.Context, workspaceID string, period board.Period, snapshot board.Board) (string, error)
}

// Deps are the optional collaborators of a Service. Nil fields disable the
// corresponding feature, except Broker which falls back to in-process fan-out.
type Deps struct {
	Broker     broker
	Search     taskIndex
	Archive    archiver
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
	Businesses []board.Business
	Now        func() time.Time
}

// Result is the success payload of one action. ID is set for creates.
type Result struct {
	ID string `json:"id,omitempty"`
}

type Service struct {
	store      dataStore
	broker     broker
	search     taskIndex
	archive    archiver
	metrics    *metrics.Metrics
	log        *logging.Logger
	businesses []board.Business
	now        func() time.Time

	// writes orders write, reload and publish per period so subscribers
	// never receive an older snapshot after a newer one.
	writes keyedMutex
}

func New(dataStore dataStore, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	b := deps.Broker
	if b == nil {
		b = live.NewMemory(logger)
	}
	businesses := deps.Businesses
	if len(businesses) == 0 {
		businesses = board.DefaultBusinesses
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      dataStore,
		broker:     b,
		search:     deps.Search,
		archive:    deps.Archive,
		metrics:    deps.Metrics,
		log:        logger.WithComponent("board"),
		businesses: businesses,
		now:        now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingBroker(ctx context.Context) error {
	return s.broker.Ping(ctx)
}

func (s *Service) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return s.store.EnsureWorkspace(ctx, workspaceID)
}

// ListPeriods returns the workspace's periods, newest first.
func (s *Service) ListPeriods(ctx context.Context, workspaceID string) ([]board.Period, error) {
	periods, err := s.store.ListPeriods(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return board.SortPeriods(periods), nil
}

// FetchBoard returns the period's tasks and members, unordered.
func (s *Service) FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error) {
	return s.store.FetchBoard(ctx, workspaceID, periodID)
}

// Apply dispatches one command against a period and, on success, publishes
// the post-write snapshot.
func (s *Service) Apply(ctx context.Context, workspaceID, periodID string, cmd board.Command) (Result, error) {
	started := s.now()
	unlock := s.writes.Lock(writeKey(workspaceID, periodID, cmd))
	result, err := s.apply(ctx, workspaceID, periodID, cmd)
	unlock()
	s.metrics.ObserveAction(string(cmd.Action()), errorCode(err))

	log := s.log.WithBoard(workspaceID, periodID).WithFields("action", cmd.Action(), "duration_ms", s.now().Sub(started).Milliseconds())
	if err != nil {
		if status, _, _, _ := mapError(err); status >= http.StatusInternalServerError {
			log.WithError(err).Errorw("action failed")
		} else {
			log.WithError(err).Infow("action rejected")
		}
		return Result{}, err
	}
	log.Debugw("action applied")
	return result, nil
}

// writeKey scopes serialisation to what the command publishes: the period
// list for period.ensure, the period's board for everything else.
func writeKey(workspaceID, periodID string, cmd board.Command) string {
	if _, ok := cmd.(board.EnsurePeriod); ok {
		return workspaceID + "\x00periods"
	}
	return workspaceID + "\x00" + periodID
}

func (s *Service) apply(ctx context.Context, workspaceID, periodID string, cmd board.Command) (Result, error) {
	switch c := cmd.(type) {
	case board.EnsurePeriod:
		return Result{ID: periodID}, s.ensurePeriod(ctx, workspaceID, periodID, c.PeriodMeta)
	case board.CreateTask:
		return s.createTask(ctx, workspaceID, periodID, c.Task)
	case board.DuplicateTask:
		task := c.Task
		task.AssignedTo = nil
		return s.createTask(ctx, workspaceID, periodID, task)
	case board.UpdateTask:
		return Result{}, s.updateTask(ctx, workspaceID, periodID, c)
	case board.DeleteTask:
		found, err := s.store.DeleteTask(ctx, workspaceID, periodID, c.TaskID)
		if err != nil {
			return Result{}, err
		}
		if found {
			if s.search != nil {
				s.search.DeleteTask(workspaceID, periodID, c.TaskID)
			}
			s.publishBoard(ctx, workspaceID, periodID)
		}
		return Result{}, nil
	case board.AssignTask:
		return Result{}, s.assignTask(ctx, workspaceID, periodID, c)
	case board.CreateMember:
		return s.createMember(ctx, workspaceID, periodID, c.Member)
	case board.UpdateMember:
		return Result{}, s.updateMember(ctx, workspaceID, periodID, c)
	case board.DeleteMember:
		found, err := s.store.DeleteMember(ctx, workspaceID, periodID, c.MemberID)
		if err != nil {
			return Result{}, err
		}
		if found {
			s.publishBoard(ctx, workspaceID, periodID)
		}
		return Result{}, nil
	case board.ReorderTasks:
		if err := s.store.ReorderTasks(ctx, workspaceID, periodID, c.Orders); err != nil {
			return Result{}, err
		}
		s.publishBoard(ctx, workspaceID, periodID)
		return Result{}, nil
	case board.ReorderMembers:
		if err := s.store.ReorderMembers(ctx, workspaceID, periodID, c.Orders); err != nil {
			return Result{}, err
		}
		s.publishBoard(ctx, workspaceID, periodID)
		return Result{}, nil
	default:
		return Result{}, &board.UnknownActionError{Action: string(cmd.Action())}
	}
}

func (s *Service) ensurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) error {
	if err := board.ValidateRange(meta.StartDate, meta.EndDate); err != nil {
		return validationError(err)
	}
	if want := board.BuildPeriodID(meta.StartDate, meta.EndDate); want != periodID {
		return domainError(http.StatusUnprocessableEntity, CodeValidation, board.ErrPeriodMismatch.Error(),
			map[string]any{"expected": want, "got": periodID}).withCause(board.ErrPeriodMismatch)
	}
	if strings.TrimSpace(meta.Label) == "" {
		meta.Label = board.PeriodLabel(meta.StartDate, meta.EndDate)
	}

	created, err := s.store.EnsurePeriod(ctx, workspaceID, periodID, meta)
	if err != nil {
		return err
	}
	if created {
		s.log.WithBoard(workspaceID, periodID).Infow("period created")
	}
	s.publishPeriods(ctx, workspaceID)
	return nil
}

func (s *Service) createTask(ctx context.Context, workspaceID, periodID string, task board.Task) (Result, error) {
	if strings.TrimSpace(task.Title) == "" {
		task.Title = board.DefaultTaskTitle
	}
	task.Minutes = board.Minutes(board.NormalizeMinutes(float64(task.Minutes)))
	business, err := s.business(task.Business)
	if err != nil {
		return Result{}, err
	}
	task.Business = business
	task.AssignedTo = nil
	if task.CreatedAt == 0 {
		task.CreatedAt = s.now().UnixMilli()
	}
	if task.Order == 0 {
		current, err := s.store.FetchBoard(ctx, workspaceID, periodID)
		if err != nil {
			return Result{}, err
		}
		task.Order = board.NextOrder(current.Tasks)
	}

	if err := s.store.PutTask(ctx, workspaceID, periodID, task); err != nil {
		return Result{}, err
	}
	s.publishBoard(ctx, workspaceID, periodID)
	return Result{ID: task.ID}, nil
}

func (s *Service) updateTask(ctx context.Context, workspaceID, periodID string, c board.UpdateTask) error {
	patch := c.Patch
	if patch.Minutes != nil {
		normalized := board.Minutes(board.NormalizeMinutes(float64(*patch.Minutes)))
		patch.Minutes = &normalized
	}
	if patch.Business != nil {
		business, err := s.business(*patch.Business)
		if err != nil {
			return err
		}
		patch.Business = &business
	}

	found, err := s.store.UpdateTask(ctx, workspaceID, periodID, c.TaskID, patch)
	if err != nil {
		return err
	}
	if found {
		s.publishBoard(ctx, workspaceID, periodID)
	}
	return nil
}

func (s *Service) assignTask(ctx context.Context, workspaceID, periodID string, c board.AssignTask) error {
	memberID := c.MemberID
	if memberID != nil && strings.TrimSpace(*memberID) == "" {
		memberID = nil
	}

	err := s.store.AssignTask(ctx, workspaceID, periodID, c.TaskID, memberID)
	switch {
	case errors.Is(err, board.ErrTaskNotFound):
		return nil
	case errors.Is(err, board.ErrCapacityExceeded):
		return domainError(http.StatusConflict, CodeCapacityExceeded, err.Error(),
			map[string]any{"taskId": c.TaskID, "memberId": *memberID}).withCause(err)
	case err != nil:
		return err
	}
	s.publishBoard(ctx, workspaceID, periodID)
	return nil
}

func (s *Service) createMember(ctx context.Context, workspaceID, periodID string, member board.Member) (Result, error) {
	if strings.TrimSpace(member.Name) == "" {
		member.Name = board.DefaultMemberName
	}
	member.AvailabilityByDay = board.NormalizeAvailability(member.AvailabilityByDay)
	if member.CreatedAt == 0 {
		member.CreatedAt = s.now().UnixMilli()
	}
	if member.Order == 0 {
		current, err := s.store.FetchBoard(ctx, workspaceID, periodID)
		if err != nil {
			return Result{}, err
		}
		member.Order = board.NextOrder(current.Members)
	}

	if err := s.store.PutMember(ctx, workspaceID, periodID, member); err != nil {
		return Result{}, err
	}
	s.publishBoard(ctx, workspaceID, periodID)
	return Result{ID: member.ID}, nil
}

func (s *Service) updateMember(ctx context.Context, workspaceID, periodID string, c board.UpdateMember) error {
	patch := c.Patch.Normalized()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return validationError(board.ErrEmptyName)
		}
		patch.Name = &name
	}

	found, err := s.store.UpdateMember(ctx, workspaceID, periodID, c.MemberID, patch)
	if err != nil {
		return err
	}
	if found {
		s.publishBoard(ctx, workspaceID, periodID)
	}
	return nil
}

// business defaults a blank category to the first configured one and rejects
// categories outside the configured set.
func (s *Service) business(value board.Business) (board.Business, error) {
	value = board.Business(strings.TrimSpace(string(value)))
	if value == "" {
		return s.businesses[0], nil
	}
	if !slices.Contains(s.businesses, value) {
		return "", domainError(http.StatusUnprocessableEntity, CodeValidation,
			fmt.Sprintf("unknown business %q", value), map[string]any{"allowed": s.businesses})
	}
	return value, nil
}

func (s *Service) publishPeriods(ctx context.Context, workspaceID string) {
	periods, err := s.ListPeriods(ctx, workspaceID)
	if err != nil {
		s.log.WithError(err).Warnw("reload periods for publish", "workspace_id", workspaceID)
		return
	}
	if err := s.broker.PublishPeriods(ctx, workspaceID, periods); err != nil {
		s.log.WithError(err).Warnw("publish periods", "workspace_id", workspaceID)
	}
}

func (s *Service) publishBoard(ctx context.Context, workspaceID, periodID string) {
	snapshot, err := s.store.FetchBoard(ctx, workspaceID, periodID)
	if err != nil {
		s.log.WithBoard(workspaceID, periodID).WithError(err).Warnw("reload board for publish")
		return
	}
	if err := s.broker.PublishBoard(ctx, workspaceID, periodID, snapshot); err != nil {
		s.log.WithBoard(workspaceID, periodID).WithError(err).Warnw("publish board")
	}
	if s.search != nil {
		s.search.SyncTasks(workspaceID, periodID, snapshot.Tasks)
	}
}

// WatchPeriods delivers the current period list first, then every published
// change, until ctx is cancelled.
func (s *Service) WatchPeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error) {
	return watch(ctx,
		func(ctx context.Context) (<-chan []board.Period, error) {
			return s.broker.SubscribePeriods(ctx, workspaceID)
		},
		func(ctx context.Context) ([]board.Period, error) {
			return s.ListPeriods(ctx, workspaceID)
		},
	)
}

// WatchBoard delivers the current board first, then every published
// snapshot, until ctx is cancelled.
func (s *Service) WatchBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error) {
	return watch(ctx,
		func(ctx context.Context) (<-chan board.Board, error) {
			return s.broker.SubscribeBoard(ctx, workspaceID, periodID)
		},
		func(ctx context.Context) (board.Board, error) {
			return s.store.FetchBoard(ctx, workspaceID, periodID)
		},
	)
}

// watch subscribes before reading the current state so no write between the
// two is lost.
func watch[T any](
	ctx context.Context,
	subscribe func(context.Context) (<-chan T, error),
	current func(context.Context) (T, error),
) (<-chan T, error) {
	ctx, cancel := context.WithCancel(ctx)
	updates, err := subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := current(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	out <- initial
	go func() {
		defer cancel()
		defer close(out)
		for v := range updates {
			live.OfferLatest(out, v)
		}
	}()
	return out, nil
}

// Search finds tasks across every period of the workspace.
func (s *Service) Search(ctx context.Context, workspaceID, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{WorkspaceID: workspaceID, Text: text, Limit: limit})
}

func (s *Service) SearchBackend() string {
	if s.search == nil {
		return "none"
	}
	return s.search.Backend()
}

// Archive stores a snapshot of the period in object storage and returns its
// key.
func (s *Service) Archive(ctx context.Context, workspaceID, periodID string) (string, error) {
	if s.archive == nil {
		return "", domainError(http.StatusServiceUnavailable, CodeArchiveUnavailable, "archive storage is not configured", nil)
	}
	periods, err := s.store.ListPeriods(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	idx := slices.IndexFunc(periods, func(p board.Period) bool { return p.ID == periodID })
	if idx < 0 {
		return "", domainError(http.StatusNotFound, CodeNotFound, "period not found", map[string]any{"periodId": periodID})
	}
	snapshot, err := s.store.FetchBoard(ctx, workspaceID, periodID)
	if err != nil {
		return "", err
	}
	return s.archive.Archive(ctx, workspaceID, periods[idx], snapshot)
}
