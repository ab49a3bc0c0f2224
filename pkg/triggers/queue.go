package triggers

import "time"

// Entry is one scheduled trigger waiting in the due-queue.
type Entry struct {
	WorkflowID string
	TriggerID  string
	Schedule   string
	FireAt     time.Time

	generation uint64
	index      int
}

// dueQueue is a min-heap of entries ordered by fire instant.
type dueQueue []*Entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].FireAt.Equal(q[j].FireAt) {
		return q[i].TriggerID < q[j].TriggerID
	}

	return q[i].FireAt.Before(q[j].FireAt)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	entry, _ := x.(*Entry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]

	return entry
}
