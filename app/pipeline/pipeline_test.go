package pipeline

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AndradeTK/ofertassertao/app/affiliate"
	"github.com/AndradeTK/ofertassertao/app/classify"
	"github.com/AndradeTK/ofertassertao/app/database"
	"github.com/AndradeTK/ofertassertao/app/dedup"
	"github.com/AndradeTK/ofertassertao/app/delivery"
	"github.com/AndradeTK/ofertassertao/app/message"
	"github.com/AndradeTK/ofertassertao/app/monitor"
	"github.com/AndradeTK/ofertassertao/app/ratelimit"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	s.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (s *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (s *memStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, exists := s.data[key]; exists {
			delete(s.data, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (s *memStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

type stubAdapter struct{}

var stubItemPattern = regexp.MustCompile(`-?i\.(\d+)\.(\d+)`)

func (stubAdapter) Platform() affiliate.Platform { return affiliate.PlatformShopee }

func (stubAdapter) Detect(u *url.URL) bool {
	return strings.HasSuffix(u.Hostname(), "shopee.com.br")
}

func (stubAdapter) IsShortLink(*url.URL) bool { return false }

func (stubAdapter) ProductID(rawURL string) string {
	m := stubItemPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2]
}

func (stubAdapter) Monetize(_ context.Context, resolvedURL string) (string, error) {
	return resolvedURL + "?aff=tag1", nil
}

func (stubAdapter) Fallback(resolvedURL string) string { return resolvedURL }

type stubForbidden struct {
	words []string
}

func (f *stubForbidden) Match(text string) ([]string, error) {
	var hits []string
	lower := strings.ToLower(text)
	for _, word := range f.words {
		if strings.Contains(lower, word) {
			hits = append(hits, word)
		}
	}
	return hits, nil
}

type stubSettings struct{}

func (stubSettings) Get(string) (string, error) { return "", nil }

func (stubSettings) Set(string, string) error { return nil }

func (stubSettings) GetBool(_ string, def bool) bool { return def }

type stubHistory struct {
	mu      sync.Mutex
	entries []database.HistoryEntry
	done    chan struct{}
}

func (h *stubHistory) Append(entry database.HistoryEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- struct{}{}
	}
	return nil
}

func (h *stubHistory) GetRecent(int) ([]database.HistoryEntry, error) { return nil, nil }
func (h *stubHistory) CountSince(int) (int, error)                    { return 0, nil }

func (h *stubHistory) last(t *testing.T) database.HistoryEntry {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		t.Fatal("no history entries recorded")
	}
	return h.entries[len(h.entries)-1]
}

type stubPending struct {
	mu     sync.Mutex
	queued []database.PendingPromotion
}

func (p *stubPending) Enqueue(promo database.PendingPromotion) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, promo)
	return "pending-1", nil
}

func (p *stubPending) ListPending(int) ([]database.PendingPromotion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]database.PendingPromotion(nil), p.queued...), nil
}

func (p *stubPending) CountPending() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued), nil
}

func (p *stubPending) Resolve(string, bool) (*database.PendingPromotion, error) { return nil, nil }

type stubCategories struct {
	threads map[string]int
}

func (c *stubCategories) GetThreadID(name string) (int, bool, error) {
	id, ok := c.threads[name]
	return id, ok, nil
}

func (c *stubCategories) List() ([]database.Category, error) { return nil, nil }

type scriptedAI struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (a *scriptedAI) Complete(context.Context, string, string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(a.responses) == 0 {
		return "", context.DeadlineExceeded
	}
	resp := a.responses[0]
	a.responses = a.responses[1:]
	return resp, nil
}

type recordingSender struct {
	mu    sync.Mutex
	sends []sendCall
}

type sendCall struct {
	dest    delivery.Destination
	payload delivery.Payload
}

func (s *recordingSender) Send(_ context.Context, dest delivery.Destination, payload delivery.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sendCall{dest: dest, payload: payload})
	return nil
}

func (s *recordingSender) all() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.sends...)
}

type fixture struct {
	pipeline *Pipeline
	store    *memStore
	gate     *dedup.Gate
	sender   *recordingSender
	history  *stubHistory
	pending  *stubPending
	queue    *delivery.Queue
	hub      *Hub
}

func newFixture(t *testing.T, ai *scriptedAI, forbidden *stubForbidden) *fixture {
	t.Helper()

	store := newMemStore()
	gate := dedup.NewGate(store, time.Hour)
	sender := &recordingSender{}
	history := &stubHistory{done: make(chan struct{}, 4)}
	pending := &stubPending{}
	hub := NewHub()

	queue := delivery.NewQueue(sender, ratelimit.NewLimiter(100, time.Minute), delivery.Options{
		MaxAttempts: 3,
		SendDelay:   time.Millisecond,
		RatePause:   time.Millisecond,
	})
	queue.Start()
	t.Cleanup(queue.Stop)

	classifier := classify.NewClassifier(ai, classify.NewKeywordTable(), 60)

	p := New(Deps{
		Gate:       gate,
		Forbidden:  forbidden,
		Resolver:   affiliate.NewResolver(affiliate.NewClient("test-agent"), stubSettings{}, stubAdapter{}),
		Classifier: classifier,
		Formatter:  message.NewFormatter("https://t.me/ofertassertao"),
		Limiter:    ratelimit.NewLimiter(5, time.Minute),
		Queue:      queue,
		History:    history,
		Pending:    pending,
		Categories: &stubCategories{threads: map[string]int{"Armazenamento": 7}},
		Hub:        hub,
	}, Options{DestinationID: -100123, SendToGeneral: true})

	return &fixture{
		pipeline: p,
		store:    store,
		gate:     gate,
		sender:   sender,
		history:  history,
		pending:  pending,
		queue:    queue,
		hub:      hub,
	}
}

func waitHistory(t *testing.T, fx *fixture) {
	t.Helper()
	select {
	case <-fx.history.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery to finish")
	}
}

const shopeeCandidate = "SSD Kingston 480GB\nR$ 199,90\nhttps://shopee.com.br/produto-i.1.42"

func TestPipelineEndToEnd(t *testing.T) {
	ai := &scriptedAI{responses: []string{
		`{"title":"SSD Kingston 480GB","price":"R$ 199,90","coupon":"","variants":[],"category":"Armazenamento","confidence":92,"is_coupon":false}`,
	}}
	fx := newFixture(t, ai, &stubForbidden{})

	fx.pipeline.Ingest(monitor.Message{SourceID: "ofertas-br", Text: shopeeCandidate, At: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.pipeline.Run(ctx)

	waitHistory(t, fx)

	sends := fx.sender.all()
	if len(sends) != 2 {
		t.Fatalf("got %d sends, want thread + general", len(sends))
	}

	caption := sends[0].payload.Caption
	for _, want := range []string{"SSD Kingston 480GB", "R$ 199,90", "shopee.com.br/produto-i.1.42?aff=tag1"} {
		if !strings.Contains(caption, want) {
			t.Errorf("caption missing %q:\n%s", want, caption)
		}
	}
	if !strings.Contains(caption, "https://t.me/ofertassertao") {
		t.Errorf("caption missing footer:\n%s", caption)
	}

	if sends[0].dest.ThreadID != 7 && sends[1].dest.ThreadID != 7 {
		t.Errorf("no send targeted the category thread: %+v", sends)
	}

	entry := fx.history.last(t)
	if entry.Category != "Armazenamento" || !entry.Success {
		t.Errorf("history entry = %+v", entry)
	}

	key := fx.gate.Key("https://shopee.com.br/produto-i.1.42")
	if v, ok := fx.store.get(key); !ok || v != "done" {
		t.Errorf("dedup key = %q, %v; want done", v, ok)
	}
}

func TestPipelineHistoryKeepsMessageURLOrder(t *testing.T) {
	ai := &scriptedAI{responses: []string{
		`{"title":"Kit SSD e MicroSD","price":"R$ 249,90","category":"Armazenamento","confidence":92}`,
	}}
	fx := newFixture(t, ai, &stubForbidden{})

	text := "Kit SSD e MicroSD\nR$ 249,90\n" +
		"https://shopee.com.br/ssd-i.9.77\n" +
		"https://shopee.com.br/microsd-i.3.11"
	fx.pipeline.process(context.Background(), Candidate{SourceID: "ofertas-br", Text: text})
	waitHistory(t, fx)

	entry := fx.history.last(t)
	want := []string{
		"https://shopee.com.br/ssd-i.9.77?aff=tag1",
		"https://shopee.com.br/microsd-i.3.11?aff=tag1",
	}
	if len(entry.URLs) != len(want) {
		t.Fatalf("history URLs = %v, want %v", entry.URLs, want)
	}
	for i := range want {
		if entry.URLs[i] != want[i] {
			t.Errorf("history URL %d = %q, want %q", i, entry.URLs[i], want[i])
		}
	}
}

func TestPipelineSkipsWithoutURLs(t *testing.T) {
	ai := &scriptedAI{}
	fx := newFixture(t, ai, &stubForbidden{})

	fx.pipeline.process(context.Background(), Candidate{SourceID: "x", Text: "bom dia grupo"})

	if ai.calls != 0 {
		t.Errorf("classifier called %d times for URL-less message", ai.calls)
	}
	if len(fx.sender.all()) != 0 {
		t.Error("unexpected send")
	}
}

func TestPipelineDuplicateSkipped(t *testing.T) {
	ai := &scriptedAI{responses: []string{
		`{"title":"SSD Kingston 480GB","price":"R$ 199,90","category":"Armazenamento","confidence":92}`,
	}}
	fx := newFixture(t, ai, &stubForbidden{})

	ctx := context.Background()
	fx.pipeline.process(ctx, Candidate{SourceID: "a", Text: shopeeCandidate})
	waitHistory(t, fx)

	before := len(fx.sender.all())
	fx.pipeline.process(ctx, Candidate{SourceID: "b", Text: shopeeCandidate})
	time.Sleep(50 * time.Millisecond)

	if got := len(fx.sender.all()); got != before {
		t.Errorf("duplicate produced %d extra sends", got-before)
	}
}

func TestPipelineForbiddenWordReleasesLock(t *testing.T) {
	ai := &scriptedAI{}
	fx := newFixture(t, ai, &stubForbidden{words: []string{"golpe"}})

	ctx := context.Background()
	fx.pipeline.process(ctx, Candidate{SourceID: "x", Text: "golpe imperdível\nhttps://shopee.com.br/produto-i.1.42"})

	if ai.calls != 0 {
		t.Error("classifier called for forbidden message")
	}

	key := fx.gate.Key("https://shopee.com.br/produto-i.1.42")
	if _, held := fx.store.get(key); held {
		t.Error("dedup lock still held after forbidden drop")
	}
}

func TestPipelineLowConfidenceRoutedToReview(t *testing.T) {
	ai := &scriptedAI{responses: []string{
		`{"title":"SSD Kingston 480GB","price":"R$ 199,90","category":"Armazenamento","confidence":40}`,
	}}
	fx := newFixture(t, ai, &stubForbidden{})

	events := fx.hub.Subscribe()
	defer fx.hub.Unsubscribe(events)

	fx.pipeline.process(context.Background(), Candidate{SourceID: "ofertas-br", Text: shopeeCandidate})
	time.Sleep(50 * time.Millisecond)

	if len(fx.sender.all()) != 0 {
		t.Error("low-confidence promotion was sent without review")
	}

	count, _ := fx.pending.CountPending()
	if count != 1 {
		t.Fatalf("pending count = %d, want 1", count)
	}
	queued := fx.pending.queued[0]
	if queued.SourceID != "ofertas-br" || len(queued.URLs) != 1 {
		t.Errorf("pending promotion = %+v", queued)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) < 2 || types[0] != EventNewPending || types[1] != EventPendingCount {
		t.Errorf("event types = %v", types)
	}

	// Lock stays held while the item awaits review.
	key := fx.gate.Key("https://shopee.com.br/produto-i.1.42")
	if _, held := fx.store.get(key); !held {
		t.Error("dedup lock released while pending review")
	}
}

func TestPipelineApprovedBypassesGateAndReview(t *testing.T) {
	ai := &scriptedAI{responses: []string{
		`{"title":"SSD Kingston 480GB","price":"R$ 199,90","category":"Armazenamento","confidence":40}`,
	}}
	fx := newFixture(t, ai, &stubForbidden{})

	// Simulate the lock held by the original arrival.
	if !fx.gate.TryAcquire(context.Background(), "https://shopee.com.br/produto-i.1.42") {
		t.Fatal("prefill acquire failed")
	}

	fx.pipeline.process(context.Background(), Candidate{
		SourceID: "ofertas-br",
		Text:     shopeeCandidate,
		Approved: true,
	})
	waitHistory(t, fx)

	if len(fx.sender.all()) == 0 {
		t.Fatal("approved promotion was not sent")
	}
	if count, _ := fx.pending.CountPending(); count != 0 {
		t.Errorf("approved promotion re-queued for review, count=%d", count)
	}
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain URL",
			text: "veja https://shopee.com.br/i.1.2",
			want: []string{"https://shopee.com.br/i.1.2"},
		},
		{
			name: "trailing punctuation trimmed",
			text: "corre: https://amzn.to/abc123!",
			want: []string{"https://amzn.to/abc123"},
		},
		{
			name: "duplicates collapse",
			text: "https://a.com/x e https://a.com/x de novo",
			want: []string{"https://a.com/x"},
		},
		{
			name: "multiple in order",
			text: "https://a.com/1\nhttps://b.com/2",
			want: []string{"https://a.com/1", "https://b.com/2"},
		},
		{
			name: "no URLs",
			text: "sem link nenhum",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractURLs(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("url %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub()

	slow := hub.Subscribe()
	defer hub.Unsubscribe(slow)

	// Overflow the buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(EventQueueStatus, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := len(slow); got != cap(slow) {
		t.Errorf("buffered events = %d, want full buffer %d", got, cap(slow))
	}
}
