package board

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestComputeStats(t *testing.T) {
	is := is.New(t)

	m1 := Member{ID: "m1", AvailabilityByDay: Availability{Mon: 240}}
	m2 := Member{ID: "m2", AvailabilityByDay: Availability{Tue: 30}}
	tasks := []Task{
		{ID: "a", Minutes: 200, AssignedTo: StringPtr("m1")},
		{ID: "b", Minutes: 60, AssignedTo: StringPtr("m2")},
		{ID: "c", Minutes: 500},
		{ID: "d", Minutes: 10, AssignedTo: StringPtr("ghost")},
	}

	stats := ComputeStats([]Member{m1, m2}, tasks)

	is.Equal(stats["m1"], Stat{Assigned: 200, Available: 240, Remaining: 40, Over: false})
	is.Equal(stats["m2"], Stat{Assigned: 60, Available: 30, Remaining: -30, Over: true})
	_, ghost := stats["ghost"]
	is.True(!ghost)
}

func TestCheckCapacityAllowsExactFit(t *testing.T) {
	is := is.New(t)

	stat := Stat{Assigned: 200, Available: 240}
	is.NoErr(CheckCapacity(stat, 40))
	is.True(errors.Is(CheckCapacity(stat, 41), ErrCapacityExceeded))
	is.True(errors.Is(CheckCapacity(Stat{}, 1), ErrCapacityExceeded))
	is.NoErr(CheckCapacity(Stat{}, 0))
}

func TestUnassignedAndAssignedTo(t *testing.T) {
	is := is.New(t)

	tasks := []Task{
		{ID: "a", Business: BusinessMatjip},
		{ID: "b", Business: BusinessMupple},
		{ID: "c", Business: BusinessMatjip, AssignedTo: StringPtr("m1")},
		{ID: "d", Business: BusinessMatjip, AssignedTo: StringPtr("")},
	}

	is.Equal(TaskIDs(Unassigned(tasks, "")), []string{"a", "b", "d"})
	is.Equal(TaskIDs(Unassigned(tasks, BusinessMatjip)), []string{"a", "d"})
	is.Equal(TaskIDs(AssignedTo(tasks, "m1")), []string{"c"})
}

func TestDuplicateClearsAssignment(t *testing.T) {
	is := is.New(t)

	src := Task{ID: "t1", Title: "Write report", Minutes: 30, Business: BusinessMupple, Important: true, AssignedTo: StringPtr("m1"), Order: 100, CreatedAt: 1}
	dup := Duplicate(src, "t9", 600, 42)

	is.Equal(dup.ID, "t9")
	is.Equal(dup.Title, "Write report")
	is.Equal(dup.Minutes, Minutes(30))
	is.True(dup.Important)
	is.True(dup.AssignedTo == nil)
	is.Equal(dup.Order, 600.0)
	is.Equal(dup.CreatedAt, int64(42))
	is.Equal(*src.AssignedTo, "m1")
}

func TestDemoDataset(t *testing.T) {
	is := is.New(t)

	now := time.Now()
	members := DemoMembers(now)
	tasks := DemoTasks(now)

	is.Equal(len(members), 3)
	is.Equal(len(tasks), 5)
	is.Equal(SumAvailability(members[0]), 1200)
	is.Equal(SumAvailability(members[2]), 600)

	total := 0
	for _, task := range tasks {
		is.True(!task.Assigned())
		total += int(task.Minutes)
	}
	is.Equal(total, 465)
}
