package board

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Action is the wire tag of a board command.
type Action string

const (
	ActionEnsurePeriod   Action = "period.ensure"
	ActionCreateTask     Action = "task.create"
	ActionUpdateTask     Action = "task.update"
	ActionDeleteTask     Action = "task.delete"
	ActionAssignTask     Action = "task.assign"
	ActionDuplicateTask  Action = "task.duplicate"
	ActionCreateMember   Action = "member.create"
	ActionUpdateMember   Action = "member.update"
	ActionDeleteMember   Action = "member.delete"
	ActionReorderTasks   Action = "reorder.tasks"
	ActionReorderMembers Action = "reorder.members"
)

// Actions lists every action the dispatcher understands.
var Actions = []Action{
	ActionEnsurePeriod,
	ActionCreateTask,
	ActionUpdateTask,
	ActionDeleteTask,
	ActionAssignTask,
	ActionDuplicateTask,
	ActionCreateMember,
	ActionUpdateMember,
	ActionDeleteMember,
	ActionReorderTasks,
	ActionReorderMembers,
}

// Command is one board mutation. The set of implementations is closed.
type Command interface {
	Action() Action
	isCommand()
}

type EnsurePeriod struct {
	PeriodMeta
}

type CreateTask struct {
	Task Task `json:"task"`
}

type UpdateTask struct {
	TaskID string    `json:"taskId" validate:"required"`
	Patch  TaskPatch `json:"patch"`
}

type DeleteTask struct {
	TaskID string `json:"taskId" validate:"required"`
}

// AssignTask sets or clears (nil MemberID) a task's assignee.
type AssignTask struct {
	TaskID   string  `json:"taskId" validate:"required"`
	MemberID *string `json:"memberId"`
}

type DuplicateTask struct {
	Task Task `json:"task"`
}

type CreateMember struct {
	Member Member `json:"member"`
}

type UpdateMember struct {
	MemberID string      `json:"memberId" validate:"required"`
	Patch    MemberPatch `json:"patch"`
}

type DeleteMember struct {
	MemberID string `json:"memberId" validate:"required"`
}

type ReorderTasks struct {
	Orders []OrderEntry `json:"orders" validate:"dive"`
}

type ReorderMembers struct {
	Orders []OrderEntry `json:"orders" validate:"dive"`
}

func (EnsurePeriod) Action() Action   { return ActionEnsurePeriod }
func (CreateTask) Action() Action     { return ActionCreateTask }
func (UpdateTask) Action() Action     { return ActionUpdateTask }
func (DeleteTask) Action() Action     { return ActionDeleteTask }
func (AssignTask) Action() Action     { return ActionAssignTask }
func (DuplicateTask) Action() Action  { return ActionDuplicateTask }
func (CreateMember) Action() Action   { return ActionCreateMember }
func (UpdateMember) Action() Action   { return ActionUpdateMember }
func (DeleteMember) Action() Action   { return ActionDeleteMember }
func (ReorderTasks) Action() Action   { return ActionReorderTasks }
func (ReorderMembers) Action() Action { return ActionReorderMembers }

func (EnsurePeriod) isCommand()   {}
func (CreateTask) isCommand()     {}
func (UpdateTask) isCommand()     {}
func (DeleteTask) isCommand()     {}
func (AssignTask) isCommand()     {}
func (DuplicateTask) isCommand()  {}
func (CreateMember) isCommand()   {}
func (UpdateMember) isCommand()   {}
func (DeleteMember) isCommand()   {}
func (ReorderTasks) isCommand()   {}
func (ReorderMembers) isCommand() {}

// TaskPatch is a partial task update. Nil fields are left untouched.
// Assignment is not patchable; it goes through AssignTask.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Minutes     *Minutes  `json:"minutes,omitempty"`
	Business    *Business `json:"business,omitempty"`
	Important   *bool     `json:"important,omitempty"`
	Order       *float64  `json:"order,omitempty"`
}

// Apply returns t with the patch merged in.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Minutes != nil {
		t.Minutes = p.Minutes.Normalized()
	}
	if p.Business != nil {
		t.Business = *p.Business
	}
	if p.Important != nil {
		t.Important = *p.Important
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	return t
}

// MemberPatch is a partial member update. Availability merges per weekday.
type MemberPatch struct {
	Name              *string      `json:"name,omitempty"`
	AvailabilityByDay Availability `json:"availabilityByDay,omitempty"`
	Order             *float64     `json:"order,omitempty"`
}

// Apply returns m with the patch merged in.
func (p MemberPatch) Apply(m Member) Member {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.AvailabilityByDay != nil {
		merged := make(Availability, len(DayKeys))
		for day, value := range m.AvailabilityByDay {
			merged[day] = value
		}
		for day, value := range normalizeAvailabilityPatch(p.AvailabilityByDay) {
			merged[day] = value
		}
		m.AvailabilityByDay = merged
	}
	if p.Order != nil {
		m.Order = *p.Order
	}
	return m
}

// Normalized returns the patch with availability limited to known weekdays.
func (p MemberPatch) Normalized() MemberPatch {
	p.AvailabilityByDay = normalizeAvailabilityPatch(p.AvailabilityByDay)
	return p
}

var validate = validator.New()

// DecodeCommand parses the flat {"action": ..., ...payload} wire form.
func DecodeCommand(body []byte) (Command, error) {
	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	switch head.Action {
	case ActionEnsurePeriod:
		return decodeAs[EnsurePeriod](body)
	case ActionCreateTask:
		return decodeAs[CreateTask](body)
	case ActionUpdateTask:
		return decodeAs[UpdateTask](body)
	case ActionDeleteTask:
		return decodeAs[DeleteTask](body)
	case ActionAssignTask:
		return decodeAs[AssignTask](body)
	case ActionDuplicateTask:
		return decodeAs[DuplicateTask](body)
	case ActionCreateMember:
		return decodeAs[CreateMember](body)
	case ActionUpdateMember:
		return decodeAs[UpdateMember](body)
	case ActionDeleteMember:
		return decodeAs[DeleteMember](body)
	case ActionReorderTasks:
		return decodeAs[ReorderTasks](body)
	case ActionReorderMembers:
		return decodeAs[ReorderMembers](body)
	default:
		return nil, &UnknownActionError{Action: string(head.Action)}
	}
}

func decodeAs[T Command](body []byte) (Command, error) {
	var cmd T
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if err := ValidateCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateCommand checks the payload's required fields.
func ValidateCommand(cmd Command) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

// EncodeCommand renders cmd in the flat wire form.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.Action(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", cmd.Action(), err)
	}
	tag, _ := json.Marshal(cmd.Action())
	fields["action"] = tag
	return json.Marshal(fields)
}
