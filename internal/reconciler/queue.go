package reconciler

import (
	"context"
	"sync"
	"time"

	"autoconf/internal/trigger"
)

// workQueue is a FIFO of policy requests deduplicated by policy name.
type workQueue struct {
	mu sync.Mutex

	// queue holds requests in FIFO order
	queue []PolicyRequest

	// processing tracks policies currently being applied
	processing map[string]bool

	// dirty tracks policies that changed while being applied
	dirty map[string]PolicyRequest

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		processing: make(map[string]bool),
		dirty:      make(map[string]PolicyRequest),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add queues req, replacing a queued request for the same policy.
func (q *workQueue) Add(req PolicyRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if q.processing[req.Name] {
		req.Force = req.Force || q.dirty[req.Name].Force
		q.dirty[req.Name] = req
		return
	}

	for i, existing := range q.queue {
		if existing.Name == req.Name {
			req.Force = req.Force || existing.Force
			q.queue[i] = req
			return
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
}

// Get retrieves the next request, blocking until one is available, the
// queue shuts down or ctx is cancelled.
func (q *workQueue) Get(ctx context.Context) (PolicyRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !waitLocked(ctx, q.cond, func() bool { return len(q.queue) > 0 || q.shuttingDown }) {
		return PolicyRequest{}, false
	}
	if len(q.queue) == 0 {
		return PolicyRequest{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[req.Name] = true
	return req, true
}

// Done marks a request as completed, requeueing it if it changed meanwhile.
func (q *workQueue) Done(req PolicyRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, req.Name)

	if dirtyReq, ok := q.dirty[req.Name]; ok {
		delete(q.dirty, req.Name)
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
	}
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// waitLocked blocks on cond until ready returns true. It returns false if
// ctx is cancelled first. cond.L must be held.
func waitLocked(ctx context.Context, cond *sync.Cond, ready func() bool) bool {
	for !ready() {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		// The goroutine wakes the waiter on cancellation; closing done
		// releases it after a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				cond.L.Lock()
				cond.Broadcast()
				cond.L.Unlock()
			case <-done:
			}
		}()

		cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return false
		default:
		}
	}
	return true
}

// delayedQueue wraps a workQueue with delayed requeue support.
type delayedQueue struct {
	*workQueue

	mu         sync.Mutex
	delayedMap map[string]*time.Timer
	stopCh     chan struct{}
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		workQueue:  newWorkQueue(),
		delayedMap: make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// AddAfter adds req after delay. A pending delayed request for the same
// policy is replaced.
func (d *delayedQueue) AddAfter(req PolicyRequest, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.delayedMap[req.Name]; ok {
		timer.Stop()
	}

	d.delayedMap[req.Name] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.delayedMap, req.Name)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
			return
		default:
			d.workQueue.Add(req)
		}
	})
}

// Forget cancels a pending delayed request for name.
func (d *delayedQueue) Forget(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.delayedMap[name]; ok {
		timer.Stop()
		delete(d.delayedMap, name)
	}
}

// Shutdown stops the queue and cancels pending timers.
func (d *delayedQueue) Shutdown() {
	d.mu.Lock()
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	for _, timer := range d.delayedMap {
		timer.Stop()
	}
	d.delayedMap = make(map[string]*time.Timer)
	d.mu.Unlock()

	d.workQueue.Shutdown()
}

// queuedEvent is a trigger event tagged with the subscription generation
// that produced it.
type queuedEvent struct {
	generation uint64
	event      trigger.Event
}

// eventQueue is an unbounded FIFO of trigger events. Unlike workQueue it
// never merges entries, so per-trigger ordering is preserved.
type eventQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []queuedEvent
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. It never blocks, so it is safe to call from a
// dispatcher sink.
func (q *eventQueue) Push(ev queuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, ev)
	q.cond.Signal()
}

// Pop removes the oldest event, blocking until one is available or ctx is
// done.
func (q *eventQueue) Pop(ctx context.Context) (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !waitLocked(ctx, q.cond, func() bool { return len(q.items) > 0 }) {
		return queuedEvent{}, false
	}
	return q.popLocked(), true
}

// TryPop removes the oldest event without blocking.
func (q *eventQueue) TryPop() (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queuedEvent{}, false
	}
	return q.popLocked(), true
}

func (q *eventQueue) popLocked() queuedEvent {
	ev := q.items[0]
	q.items[0] = queuedEvent{}
	q.items = q.items[1:]
	return ev
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
