package delivery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AndradeTK/ofertassertao/app/ratelimit"
)

// Destination is one delivery target: a chat plus an optional sub-thread.
type Destination struct {
	ChatID   int64
	ThreadID int
}

// Payload is a formatted promotion ready to send.
type Payload struct {
	Caption   string
	ImageRef  string // local path or opaque remote file handle, empty for text-only
	ButtonURL string
}

// Item wraps a payload in the queue. An item is owned exclusively by the
// worker while in flight; requeues on partial failure clone the item for the
// failed destination only, sharing the terminal tracker.
type Item struct {
	ID           string
	Payload      Payload
	Destinations []Destination
	Attempt      int
	EnqueuedAt   time.Time

	tracker *tracker
}

// tracker fires the terminal callback once every destination of the original
// item has reached done or dropped, so shared resources (temp images) are
// only cleaned up on terminal states.
type tracker struct {
	remaining int32
	delivered int32
	payload   Payload
	onDone    func(payload Payload, delivered int)
}

func (t *tracker) settle(sent bool) {
	if sent {
		atomic.AddInt32(&t.delivered, 1)
	}
	if atomic.AddInt32(&t.remaining, -1) == 0 && t.onDone != nil {
		t.onDone(t.payload, int(atomic.LoadInt32(&t.delivered)))
	}
}

// Sender performs the actual outbound send for one destination.
type Sender interface {
	Send(ctx context.Context, dest Destination, payload Payload) error
}

// Options tune the retry engine. Zero values take the documented defaults.
type Options struct {
	MaxAttempts int           // drop after this many attempts (default 3)
	SendDelay   time.Duration // pause after each successful send (default 10s)
	RatePause   time.Duration // cooldown after destination throttling (default 65s)
}

// Queue is a FIFO of formatted deliveries drained by a single sequential
// worker; no parallel in-flight sends, so destination throughput stays
// deterministic and backoff reasoning stays tractable.
type Queue struct {
	sender  Sender
	limiter *ratelimit.Limiter
	opts    Options

	mu    sync.Mutex
	items []*Item

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration)

	onChange func(depth int)
}

func NewQueue(sender Sender, limiter *ratelimit.Limiter, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SendDelay <= 0 {
		opts.SendDelay = 10 * time.Second
	}
	if opts.RatePause <= 0 {
		opts.RatePause = 65 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		sender:  sender,
		limiter: limiter,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		sleep:   sleepWithContext,
	}
}

// OnChange registers a callback invoked with the queue depth after every
// enqueue and dequeue. Used for dashboard status events.
func (q *Queue) OnChange(fn func(depth int)) {
	q.onChange = fn
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue adds a delivery at the back of the queue. onDone fires once every
// destination reached a terminal state, with the count of successful sends.
func (q *Queue) Enqueue(payload Payload, destinations []Destination, onDone func(payload Payload, delivered int)) *Item {
	item := &Item{
		ID:           uuid.NewString(),
		Payload:      payload,
		Destinations: destinations,
		Attempt:      1,
		EnqueuedAt:   time.Now(),
		tracker: &tracker{
			remaining: int32(len(destinations)),
			payload:   payload,
			onDone:    onDone,
		},
	}

	q.push(item, false)
	return item
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) push(item *Item, front bool) {
	q.mu.Lock()
	if front {
		q.items = append([]*Item{item}, q.items...)
	} else {
		q.items = append(q.items, item)
	}
	depth := len(q.items)
	q.mu.Unlock()

	if q.onChange != nil {
		q.onChange(depth)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		item := q.pop()
		if item == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if q.onChange != nil {
			q.onChange(q.Depth())
		}

		sent := q.process(item)

		// Inter-item delay only after an actual outbound send; skipped
		// deliveries must not slow the queue down.
		if sent {
			q.sleep(q.ctx, q.opts.SendDelay)
		}

		select {
		case <-q.ctx.Done():
			return
		default:
		}
	}
}

// process sends the item to each destination independently. Returns whether
// at least one outbound send happened.
func (q *Queue) process(item *Item) bool {
	sentAny := false

	for _, dest := range item.Destinations {
		if !q.waitForSlot() {
			// Shutting down; requeue untouched so nothing is lost.
			q.push(q.clone(item, dest, item.Attempt), true)
			continue
		}

		err := q.sender.Send(q.ctx, dest, item.Payload)
		if err == nil {
			sentAny = true
			item.tracker.settle(true)
			slog.Info("Delivery sent", "item", item.ID, "chat", dest.ChatID, "thread", dest.ThreadID, "attempt", item.Attempt)
			continue
		}

		switch classifyError(err) {
		case kindRateLimited:
			// Deferred, not failed: back to the front, attempt untouched.
			slog.Warn("Destination throttling, cooling down", "item", item.ID, "chat", dest.ChatID, "pause", q.opts.RatePause)
			q.push(q.clone(item, dest, item.Attempt), true)
			q.sleep(q.ctx, q.opts.RatePause)

		case kindValidation:
			slog.Error("Delivery rejected, dropping", "item", item.ID, "chat", dest.ChatID, "attempt", item.Attempt, "error", err)
			item.tracker.settle(false)

		default: // transient and unknown share the backoff path
			if item.Attempt >= q.opts.MaxAttempts {
				slog.Error("Delivery failed after maximum attempts, dropping",
					"item", item.ID, "chat", dest.ChatID, "attempts", item.Attempt, "error", err)
				item.tracker.settle(false)
				continue
			}

			backoff := time.Duration(item.Attempt) * 5 * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			slog.Warn("Delivery failed, will retry", "item", item.ID, "chat", dest.ChatID,
				"attempt", item.Attempt, "backoff", backoff, "error", err)
			q.push(q.clone(item, dest, item.Attempt+1), false)
			q.sleep(q.ctx, backoff)
		}
	}

	return sentAny
}

// waitForSlot blocks until the local rate limiter admits a send. Returns
// false only on shutdown.
func (q *Queue) waitForSlot() bool {
	for {
		if q.limiter == nil || q.limiter.Consume() {
			return true
		}

		status := q.limiter.Status()
		wait := time.Duration(status.NextSlotIn) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		slog.Debug("Local rate limit reached, waiting", "wait", wait)
		q.sleep(q.ctx, wait)

		select {
		case <-q.ctx.Done():
			return false
		default:
		}
	}
}

// clone keeps the shared tracker so terminal accounting spans requeues.
func (q *Queue) clone(item *Item, dest Destination, attempt int) *Item {
	return &Item{
		ID:           item.ID,
		Payload:      item.Payload,
		Destinations: []Destination{dest},
		Attempt:      attempt,
		EnqueuedAt:   item.EnqueuedAt,
		tracker:      item.tracker,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
