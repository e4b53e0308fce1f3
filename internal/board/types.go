// Package board holds the work-assignment domain: periods, tasks, members,
// the capacity rule, and the commands that mutate a period's board.
package board

// DayKey identifies a weekday in a member's availability.
type DayKey string

const (
	Mon DayKey = "mon"
	Tue DayKey = "tue"
	Wed DayKey = "wed"
	Thu DayKey = "thu"
	Fri DayKey = "fri"
	Sat DayKey = "sat"
	Sun DayKey = "sun"
)

// DayKeys lists the seven weekdays in display order.
var DayKeys = []DayKey{Mon, Tue, Wed, Thu, Fri, Sat, Sun}

// Valid reports whether k is one of the seven weekday keys.
func (k DayKey) Valid() bool {
	switch k {
	case Mon, Tue, Wed, Thu, Fri, Sat, Sun:
		return true
	}
	return false
}

// Business is the category a task belongs to. The allowed set is configured
// per deployment.
type Business string

const (
	BusinessMatjip Business = "맛집도감"
	BusinessMupple Business = "뮤플비"
)

// DefaultBusinesses is used when no business list is configured.
var DefaultBusinesses = []Business{BusinessMatjip, BusinessMupple}

// Availability maps each weekday to the minutes a member can work.
type Availability map[DayKey]Minutes

type Period struct {
	ID        string `json:"id"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Label     string `json:"label"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// PeriodMeta is the caller-supplied part of a period.
type PeriodMeta struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Label     string `json:"label"`
}

type Task struct {
	ID          string   `json:"id" validate:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Minutes     Minutes  `json:"minutes"`
	Business    Business `json:"business"`
	Important   bool     `json:"important"`
	AssignedTo  *string  `json:"assignedTo"`
	Order       float64  `json:"order"`
	CreatedAt   int64    `json:"createdAt"`
}

// Assigned reports whether the task is assigned to anyone.
func (t Task) Assigned() bool {
	return t.AssignedTo != nil && *t.AssignedTo != ""
}

// AssignedToMember reports whether the task is assigned to memberID.
func (t Task) AssignedToMember(memberID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == memberID
}

type Member struct {
	ID                string       `json:"id" validate:"required"`
	Name              string       `json:"name"`
	AvailabilityByDay Availability `json:"availabilityByDay"`
	Order             float64      `json:"order"`
	CreatedAt         int64        `json:"createdAt"`
}

// Board is the full, unordered record set of one period.
type Board struct {
	Tasks   []Task   `json:"tasks"`
	Members []Member `json:"members"`
}

// FindTask returns the task with id and whether it exists.
func (b Board) FindTask(id string) (Task, bool) {
	for _, task := range b.Tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// FindMember returns the member with id and whether it exists.
func (b Board) FindMember(id string) (Member, bool) {
	for _, member := range b.Members {
		if member.ID == id {
			return member, true
		}
	}
	return Member{}, false
}

// Sorted returns a copy of b with tasks and members in display order.
func (b Board) Sorted() Board {
	return Board{Tasks: SortTasks(b.Tasks), Members: SortMembers(b.Members)}
}

const (
	DefaultTaskTitle  = "New task"
	DefaultMemberName = "New member"
)

// StringPtr returns a pointer to s, for optional ids and patch fields.
func StringPtr(s string) *string {
	return &s
}
