package power

import "github.com/crownstone/bluenet-sub000/internal/adc"

// pipelineQueue holds the ids of buffers in flight, oldest first. All ids
// have consecutive sequence numbers. Storage is allocated once.
type pipelineQueue struct {
	ids []adc.BufferID
}

func newPipelineQueue(depth int) *pipelineQueue {
	// One extra slot: the newest id is pushed before the oldest is trimmed.
	return &pipelineQueue{ids: make([]adc.BufferID, 0, depth+1)}
}

func (q *pipelineQueue) len() int {
	return len(q.ids)
}

func (q *pipelineQueue) at(i int) adc.BufferID {
	return q.ids[i]
}

func (q *pipelineQueue) push(id adc.BufferID) {
	q.ids = append(q.ids, id)
}

func (q *pipelineQueue) popOldest() (adc.BufferID, bool) {
	if len(q.ids) == 0 {
		return 0, false
	}
	id := q.ids[0]
	copy(q.ids, q.ids[1:])
	q.ids = q.ids[:len(q.ids)-1]
	return id, true
}

// newestIndex is the position of the newest, unfiltered buffer.
func (q *pipelineQueue) newestIndex() int {
	return len(q.ids) - 1
}

// filteredIndex is the position holding the filtered output of the newest
// buffer: one behind the newest, or the newest itself on a fresh start.
// It is -1 when the queue is empty.
func (q *pipelineQueue) filteredIndex() int {
	if len(q.ids) >= 2 {
		return len(q.ids) - 2
	}
	return len(q.ids) - 1
}

// clear drops every id, handing each to release.
func (q *pipelineQueue) clear(release func(adc.BufferID)) {
	for _, id := range q.ids {
		release(id)
	}
	q.ids = q.ids[:0]
}
