package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// StatusEvent reports a source's connection state transition.
type StatusEvent struct {
	Source  string    `json:"source"`
	State   State     `json:"state"`
	Attempt int       `json:"attempt,omitempty"`
	At      time.Time `json:"at"`
}

type Options struct {
	PollInterval      time.Duration // default 10s
	HeartbeatInterval time.Duration // default 2m
	ReconnectBase     time.Duration // default 5s
	MaxReconnects     int           // default 10
}

// Manager supervises the monitored sources: one goroutine per source polls
// for new messages, pings the source on a heartbeat cadence, and reconnects
// with capped backoff when either fails. A source that exhausts
// its reconnect budget is marked failed and left alone until restart.
type Manager struct {
	sources  []SourceClient
	handler  func(Message)
	onStatus func(StatusEvent)
	opts     Options

	mu      sync.Mutex
	cursors map[string]int64
	states  map[string]State

	wg sync.WaitGroup

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func NewManager(sources []SourceClient, handler func(Message), opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Minute
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 5 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 10
	}

	return &Manager{
		sources: sources,
		handler: handler,
		opts:    opts,
		cursors: make(map[string]int64),
		states:  make(map[string]State),
		sleep:   sleepWithContext,
		now:     time.Now,
	}
}

// OnStatus registers a callback for state transitions. Must be set before
// Run.
func (m *Manager) OnStatus(fn func(StatusEvent)) {
	m.onStatus = fn
}

// Statuses returns the last known state per source.
func (m *Manager) Statuses() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.states))
	for name, state := range m.states {
		out[name] = state
	}
	return out
}

// Run starts supervision and blocks until ctx is cancelled and every source
// loop has stopped.
func (m *Manager) Run(ctx context.Context) {
	for _, source := range m.sources {
		m.wg.Add(1)
		go func(src SourceClient) {
			defer m.wg.Done()
			m.supervise(ctx, src)
		}(source)
	}
	m.wg.Wait()
}

func (m *Manager) supervise(ctx context.Context, src SourceClient) {
	for {
		if !m.connect(ctx, src) {
			return
		}

		// poll returns on fetch or heartbeat trouble; reconnect then.
		if !m.poll(ctx, src) {
			return
		}
	}
}

// connect tries to establish the source connection with capped backoff.
// Returns false when the budget is exhausted or ctx is done.
func (m *Manager) connect(ctx context.Context, src SourceClient) bool {
	for attempt := 1; attempt <= m.opts.MaxReconnects; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		err := src.Connect(ctx)
		if err == nil {
			m.setState(src.Name(), StateConnected, 0)
			slog.Info("Source connected", "source", src.Name(), "attempt", attempt)
			return true
		}

		m.setState(src.Name(), StateReconnecting, attempt)

		factor := attempt
		if factor > 5 {
			factor = 5
		}
		backoff := time.Duration(factor) * m.opts.ReconnectBase
		slog.Warn("Source connect failed", "source", src.Name(), "attempt", attempt, "backoff", backoff, "error", err)
		m.sleep(ctx, backoff)
	}

	m.setState(src.Name(), StateFailed, m.opts.MaxReconnects)
	slog.Error("Source failed permanently, giving up", "source", src.Name(), "attempts", m.opts.MaxReconnects)
	return false
}

// poll fetches new messages on the poll interval and pings the source on
// the heartbeat interval. The heartbeat runs on its own cadence, independent
// of fetch results, so a source whose fetches keep returning stale data
// still gets a keep-alive check. Returns true when the caller should
// reconnect, false on shutdown.
func (m *Manager) poll(ctx context.Context, src SourceClient) bool {
	lastPing := m.now()

	for {
		if ctx.Err() != nil {
			return false
		}

		cursor := m.cursor(src.Name())
		messages, next, err := src.Fetch(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			slog.Warn("Source fetch failed, reconnecting", "source", src.Name(), "error", err)
			return true
		}

		m.setCursor(src.Name(), next)

		for _, msg := range messages {
			m.handler(msg)
		}

		m.sleep(ctx, m.opts.PollInterval)

		if m.now().Sub(lastPing) >= m.opts.HeartbeatInterval {
			if err := src.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return false
				}
				slog.Warn("Source heartbeat failed, reconnecting", "source", src.Name(), "error", err)
				return true
			}
			lastPing = m.now()
		}
	}
}

func (m *Manager) cursor(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name]
}

func (m *Manager) setCursor(name string, cursor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor > m.cursors[name] {
		m.cursors[name] = cursor
	}
}

func (m *Manager) setState(name string, state State, attempt int) {
	m.mu.Lock()
	// Repeated reconnect attempts still emit, so observers see the counter.
	changed := m.states[name] != state || state == StateReconnecting
	m.states[name] = state
	m.mu.Unlock()

	if changed && m.onStatus != nil {
		m.onStatus(StatusEvent{
			Source:  name,
			State:   state,
			Attempt: attempt,
			At:      m.now(),
		})
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
