package board

import "time"

// DemoMembers returns the seed members used when no backend is configured.
func DemoMembers(now time.Time) []Member {
	ms := now.UnixMilli()
	return []Member{
		{ID: "m1", Name: "Kim", AvailabilityByDay: UniformWeekdays(240), Order: 100, CreatedAt: ms - 3},
		{ID: "m2", Name: "Lee", AvailabilityByDay: UniformWeekdays(180), Order: 200, CreatedAt: ms - 2},
		{ID: "m3", Name: "Park", AvailabilityByDay: UniformWeekdays(120), Order: 300, CreatedAt: ms - 1},
	}
}

// DemoTasks returns the seed tasks used when no backend is configured.
func DemoTasks(now time.Time) []Task {
	ms := now.UnixMilli()
	return []Task{
		{ID: "t1", Title: "Prepare client meeting notes", Description: "Summarise the last meeting and its action items", Minutes: 90, Business: BusinessMatjip, Important: true, Order: 100, CreatedAt: ms - 10},
		{ID: "t2", Title: "Write weekly report", Description: "Share by Friday 17:00", Minutes: 120, Business: BusinessMatjip, Order: 200, CreatedAt: ms - 9},
		{ID: "t3", Title: "Triage QA bugs", Description: "Reproducible cases first", Minutes: 60, Business: BusinessMupple, Important: true, Order: 300, CreatedAt: ms - 8},
		{ID: "t4", Title: "Apply design feedback", Description: "Fix mobile CTA spacing", Minutes: 150, Business: BusinessMupple, Order: 400, CreatedAt: ms - 7},
		{ID: "t5", Title: "Planning meeting agenda", Minutes: 45, Business: BusinessMatjip, Order: 500, CreatedAt: ms - 6},
	}
}
