package board

import "fmt"

// Stat is the capacity summary of one member.
type Stat struct {
	Assigned  int  `json:"assigned"`
	Available int  `json:"available"`
	Remaining int  `json:"remaining"`
	Over      bool `json:"over"`
}

// Stats is keyed by member id.
type Stats map[string]Stat

func ComputeStats(members []Member, tasks []Task) Stats {
	assigned := make(map[string]int, len(members))
	for _, task := range tasks {
		if task.Assigned() {
			assigned[*task.AssignedTo] += int(task.Minutes)
		}
	}
	stats := make(Stats, len(members))
	for _, member := range members {
		available := SumAvailability(member)
		used := assigned[member.ID]
		stats[member.ID] = Stat{
			Assigned:  used,
			Available: available,
			Remaining: available - used,
			Over:      available-used < 0,
		}
	}
	return stats
}

// CheckCapacity rejects adding minutes that would push the member over their
// availability. Landing exactly on the limit is allowed.
func CheckCapacity(stat Stat, minutes int) error {
	if stat.Assigned+minutes > stat.Available {
		return ErrCapacityExceeded
	}
	return nil
}

// CapacityMessage is the notice shown when an assignment is refused.
func CapacityMessage(memberName string) string {
	return fmt.Sprintf("Cannot assign: %s would exceed their available time", memberName)
}

// Unassigned returns the unassigned tasks, optionally only those of one
// business. An empty business matches all.
func Unassigned(tasks []Task, business Business) []Task {
	var out []Task
	for _, task := range tasks {
		if task.Assigned() {
			continue
		}
		if business != "" && task.Business != business {
			continue
		}
		out = append(out, task)
	}
	return out
}

// AssignedTo returns the tasks assigned to memberID.
func AssignedTo(tasks []Task, memberID string) []Task {
	var out []Task
	for _, task := range tasks {
		if task.AssignedToMember(memberID) {
			out = append(out, task)
		}
	}
	return out
}

// Duplicate copies src under a new id, appended at order, unassigned.
func Duplicate(src Task, id string, order float64, createdAt int64) Task {
	dup := src
	dup.ID = id
	dup.AssignedTo = nil
	dup.Order = order
	dup.CreatedAt = createdAt
	return dup
}
