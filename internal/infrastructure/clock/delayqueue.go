package clock

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"contractwatch/internal/domain"
	"contractwatch/internal/ports"
)

// DelayQueue is an explicit in-process replacement for scheduling through a
// store's row-expiry mechanism: one-shot entries fire once, are delivered in
// batches, and are then discarded. Delivery is at-least-once; consumers must
// be idempotent.
type DelayQueue struct {
	mu      sync.Mutex
	entries entryHeap
	wake    chan struct{}
	stop    chan struct{}
	now     func() time.Time
}

var _ ports.ExpiryClock = (*DelayQueue)(nil)

// New builds an empty queue.
func New() *DelayQueue {
	return &DelayQueue{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Arm schedules a fresh fire-once entry and returns its identifier. Entries
// are never mutated or reused; re-arming always creates a new one.
func (q *DelayQueue) Arm(contractID int64, delay time.Duration) string {
	id := uuid.NewString()

	q.mu.Lock()
	heap.Push(&q.entries, &entry{
		id:         id,
		contractID: contractID,
		fireAt:     q.now().Add(delay),
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return id
}

// Len reports the number of pending entries.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Start launches the timer goroutine; fired batches are handed to deliver.
func (q *DelayQueue) Start(ctx context.Context, deliver func([]domain.ClockEvent)) error {
	if deliver == nil {
		return nil
	}
	if q.stop != nil {
		return nil
	}

	q.stop = make(chan struct{})
	go q.loop(ctx, q.stop, deliver)
	return nil
}

// Stop halts the timer goroutine; pending entries are dropped.
func (q *DelayQueue) Stop(ctx context.Context) error {
	if q.stop == nil {
		return nil
	}
	close(q.stop)
	q.stop = nil
	return nil
}

func (q *DelayQueue) loop(ctx context.Context, stop chan struct{}, deliver func([]domain.ClockEvent)) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.nextWait())

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-q.wake:
			// new entry armed, recompute the wait
		case <-timer.C:
			if batch := q.takeDue(); len(batch) > 0 {
				deliver(batch)
			}
		}
	}
}

func (q *DelayQueue) nextWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return time.Hour
	}
	wait := q.entries[0].fireAt.Sub(q.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// takeDue pops every entry whose fire time has passed and turns the group
// into one delivery batch.
func (q *DelayQueue) takeDue() []domain.ClockEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var batch []domain.ClockEvent
	for q.entries.Len() > 0 && !q.entries[0].fireAt.After(now) {
		e := heap.Pop(&q.entries).(*entry)
		batch = append(batch, domain.ClockEvent{
			Kind:       domain.EventFired,
			EntryID:    e.id,
			ContractID: e.contractID,
			FiredAt:    now,
		})
	}
	return batch
}

type entry struct {
	id         string
	contractID int64
	fireAt     time.Time
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
