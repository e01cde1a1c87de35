package event

import "container/heap"

// item is a queued event with its arrival sequence number.
type item struct {
	ev  Event
	seq uint64
}

// queue orders events by timestamp, then by arrival (FIFO among ties).
// It is not safe for concurrent use; Manager guards it.
type queue []item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	ti, tj := q[i].ev.Time(), q[j].ev.Time()
	if ti.Equal(tj) {
		return q[i].seq < q[j].seq
	}
	return ti.Before(tj)
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(item)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*q = old[:n-1]
	return it
}

func (q *queue) push(ev Event, seq uint64) { heap.Push(q, item{ev: ev, seq: seq}) }

func (q *queue) peek() (Event, bool) {
	if len(*q) == 0 {
		return nil, false
	}
	return (*q)[0].ev, true
}

func (q *queue) pop() Event { return heap.Pop(q).(item).ev }
