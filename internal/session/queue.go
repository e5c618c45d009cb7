package session

import "sync"

// chunkQueue drops the oldest chunk when full.
type chunkQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    [][]byte
	capacity int
	open     bool
}

type pushResult int

const (
	pushed pushResult = iota
	pushedDroppedOldest
	rejectedClosed
)

func newChunkQueue(capacity int) *chunkQueue {
	q := &chunkQueue{capacity: max(capacity, 1)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *chunkQueue) push(chunk []byte) pushResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return rejectedClosed
	}
	res := pushed
	if len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		res = pushedDroppedOldest
	}
	q.items = append(q.items, chunk)
	q.cond.Signal()
	return res
}

// pop drains chunks queued before close, then reports false.
func (q *chunkQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && q.open {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	chunk := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return chunk, true
}

func (q *chunkQueue) openQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.open = true
}

func (q *chunkQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	was := q.open
	q.open = false
	q.cond.Broadcast()
	return was
}

func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type textQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *textQueue) push(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, text)
}

func (q *textQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	text := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return text, true
}

func (q *textQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
