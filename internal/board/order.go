package board

import (
	"cmp"
	"math"
	"slices"
)

// unorderedSentinel places entities without a usable order after all others.
const unorderedSentinel = 999999

// OrderStep is the gap between consecutive order values.
const OrderStep = 100

// Ordered is implemented by entities shown in a user-controlled sequence.
type Ordered interface {
	SortKey() (order float64, createdAt float64)
}

func (t Task) SortKey() (float64, float64)   { return t.Order, float64(t.CreatedAt) }
func (m Member) SortKey() (float64, float64) { return m.Order, float64(m.CreatedAt) }

// CompareByOrderThenCreation orders by order ascending, then creation time
// ascending. Use it with a stable sort so full ties keep input order.
func CompareByOrderThenCreation[T Ordered](a, b T) int {
	aOrder, aCreated := a.SortKey()
	bOrder, bCreated := b.SortKey()
	if c := cmp.Compare(finiteOr(aOrder, unorderedSentinel), finiteOr(bOrder, unorderedSentinel)); c != 0 {
		return c
	}
	return cmp.Compare(finiteOr(aCreated, 0), finiteOr(bCreated, 0))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// SortStable returns a sorted copy of items.
func SortStable[T Ordered](items []T) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, CompareByOrderThenCreation[T])
	return out
}

func SortTasks(tasks []Task) []Task {
	return SortStable(tasks)
}

func SortMembers(members []Member) []Member {
	return SortStable(members)
}

// NextOrder returns the order for an entity appended after items.
func NextOrder[T Ordered](items []T) float64 {
	highest := 0.0
	for _, item := range items {
		order, _ := item.SortKey()
		if math.IsNaN(order) || math.IsInf(order, 0) {
			continue
		}
		highest = max(highest, order)
	}
	return highest + OrderStep
}

// OrderEntry assigns an explicit order to one entity.
type OrderEntry struct {
	ID    string  `json:"id" validate:"required"`
	Order float64 `json:"order"`
}

// ReorderPlan numbers ids in the given sequence as 100, 200, 300, ...
func ReorderPlan(ids []string) []OrderEntry {
	plan := make([]OrderEntry, 0, len(ids))
	for i, id := range ids {
		plan = append(plan, OrderEntry{ID: id, Order: float64((i + 1) * OrderStep)})
	}
	return plan
}

// VisibleFirst returns the filtered list's ids in their new order, followed
// by every other id in its prior position.
func VisibleFirst(visible, all []string) []string {
	seen := make(map[string]struct{}, len(visible))
	out := make([]string, 0, len(all))
	for _, id := range visible {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range all {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

func planIndex(plan []OrderEntry) map[string]float64 {
	index := make(map[string]float64, len(plan))
	for _, entry := range plan {
		index[entry.ID] = entry.Order
	}
	return index
}

// ApplyTaskOrders returns a sorted copy of tasks with plan applied. Tasks the
// plan does not mention keep their order.
func ApplyTaskOrders(tasks []Task, plan []OrderEntry) []Task {
	index := planIndex(plan)
	out := slices.Clone(tasks)
	for i := range out {
		if order, ok := index[out[i].ID]; ok {
			out[i].Order = order
		}
	}
	return SortTasks(out)
}

// ApplyMemberOrders is ApplyTaskOrders for members.
func ApplyMemberOrders(members []Member, plan []OrderEntry) []Member {
	index := planIndex(plan)
	out := slices.Clone(members)
	for i := range out {
		if order, ok := index[out[i].ID]; ok {
			out[i].Order = order
		}
	}
	return SortMembers(out)
}

// TaskIDs returns the ids of tasks in slice order.
func TaskIDs(tasks []Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

// MemberIDs returns the ids of members in slice order.
func MemberIDs(members []Member) []string {
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	return ids
}
