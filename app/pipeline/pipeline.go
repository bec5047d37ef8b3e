package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AndradeTK/ofertassertao/app/affiliate"
	"github.com/AndradeTK/ofertassertao/app/classify"
	"github.com/AndradeTK/ofertassertao/app/database"
	"github.com/AndradeTK/ofertassertao/app/dedup"
	"github.com/AndradeTK/ofertassertao/app/delivery"
	"github.com/AndradeTK/ofertassertao/app/message"
	"github.com/AndradeTK/ofertassertao/app/monitor"
	"github.com/AndradeTK/ofertassertao/app/ratelimit"
)

// Candidate is one raw promotional message waiting for processing. Approved
// is set when an operator released it from the review queue, which skips the
// dedup gate (the original arrival still holds it) and the approval routing.
type Candidate struct {
	ID         string
	SourceID   string
	Text       string
	ImageRef   string
	Approved   bool
	ReceivedAt time.Time
}

type Options struct {
	DestinationID int64
	SendToGeneral bool
}

// Pipeline runs candidates through the full path: URL extraction, dedup,
// forbidden words, link monetization, classification, formatting and
// delivery enqueue. A single processor goroutine keeps ordering and the
// dedup window deterministic.
type Pipeline struct {
	gate       *dedup.Gate
	forbidden  database.ForbiddenWordRepository
	resolver   *affiliate.Resolver
	classifier *classify.Classifier
	formatter  *message.Formatter
	limiter    *ratelimit.Limiter
	queue      *delivery.Queue
	history    database.HistoryRepository
	pending    database.PendingRepository
	categories database.CategoryRepository
	hub        *Hub
	opts       Options

	in chan Candidate
}

type Deps struct {
	Gate       *dedup.Gate
	Forbidden  database.ForbiddenWordRepository
	Resolver   *affiliate.Resolver
	Classifier *classify.Classifier
	Formatter  *message.Formatter
	Limiter    *ratelimit.Limiter
	Queue      *delivery.Queue
	History    database.HistoryRepository
	Pending    database.PendingRepository
	Categories database.CategoryRepository
	Hub        *Hub
}

func New(deps Deps, opts Options) *Pipeline {
	return &Pipeline{
		gate:       deps.Gate,
		forbidden:  deps.Forbidden,
		resolver:   deps.Resolver,
		classifier: deps.Classifier,
		formatter:  deps.Formatter,
		limiter:    deps.Limiter,
		queue:      deps.Queue,
		history:    deps.History,
		pending:    deps.Pending,
		categories: deps.Categories,
		hub:        deps.Hub,
		opts:       opts,
		in:         make(chan Candidate, 256),
	}
}

// Ingest adapts a monitored source message into a candidate. Safe to call
// from any source goroutine; drops with a warning when the buffer is full so
// a stalled pipeline never blocks source polling.
func (p *Pipeline) Ingest(msg monitor.Message) {
	p.submit(Candidate{
		ID:         uuid.NewString(),
		SourceID:   msg.SourceID,
		Text:       msg.Text,
		ImageRef:   msg.ImageRef,
		ReceivedAt: msg.At,
	})
}

// SubmitApproved re-enters a reviewed promotion released by an operator.
func (p *Pipeline) SubmitApproved(promo database.PendingPromotion) {
	p.submit(Candidate{
		ID:         uuid.NewString(),
		SourceID:   promo.SourceID,
		Text:       promo.RawText,
		ImageRef:   promo.ImageRef,
		Approved:   true,
		ReceivedAt: time.Now(),
	})
}

func (p *Pipeline) submit(candidate Candidate) {
	select {
	case p.in <- candidate:
	default:
		slog.Warn("Pipeline buffer full, dropping candidate", "source", candidate.SourceID)
	}
}

// Run processes candidates until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case candidate := <-p.in:
			p.process(ctx, candidate)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, candidate Candidate) {
	urls := ExtractURLs(candidate.Text)
	if len(urls) == 0 {
		slog.Debug("Candidate has no URLs, skipping", "source", candidate.SourceID)
		return
	}

	primary := urls[0]

	if !candidate.Approved {
		if !p.gate.TryAcquire(ctx, primary) {
			slog.Info("Duplicate promotion, skipping", "source", candidate.SourceID, "url", primary)
			return
		}
	}

	if p.dropForbidden(ctx, candidate, primary) {
		return
	}

	if !p.limiter.Check() {
		// Not a rejection: the delivery queue paces itself, this is just
		// early visibility that sends will wait for the window.
		status := p.limiter.Status()
		slog.Info("Rate limit window full, delivery will wait", "next_slot_in", status.NextSlotIn)
		p.hub.Publish(EventQueueStatus, p.queueStatus())
	}

	affiliates := make(map[string]string, len(urls))
	for _, raw := range urls {
		result := p.resolver.Resolve(ctx, raw)
		affiliates[raw] = result.AffiliateURL
	}

	classification := p.classifier.Classify(ctx, "", "", candidate.Text)

	if classification.NeedsApproval && !candidate.Approved {
		p.routeToReview(ctx, candidate, urls, classification)
		return
	}

	caption := p.formatter.Build(message.Promo{
		Classification: classification,
		AffiliateURLs:  affiliates,
	})

	destinations := p.destinations(classification.Category)
	if len(destinations) == 0 {
		slog.Warn("No destination configured, dropping", "source", candidate.SourceID)
		p.gate.Release(ctx, primary)
		return
	}

	payload := delivery.Payload{
		Caption:   caption,
		ImageRef:  candidate.ImageRef,
		ButtonURL: affiliates[primary],
	}

	p.queue.Enqueue(payload, destinations, func(_ delivery.Payload, delivered int) {
		p.finish(candidate, primary, classification, urls, affiliates, delivered)
	})

	slog.Info("Promotion enqueued", "source", candidate.SourceID,
		"title", classification.Title, "category", classification.Category,
		"destinations", len(destinations))
}

// dropForbidden releases the dedup slot and reports true when the message
// contains a blocked word.
func (p *Pipeline) dropForbidden(ctx context.Context, candidate Candidate, primary string) bool {
	matches, err := p.forbidden.Match(candidate.Text)
	if err != nil {
		slog.Error("Forbidden word check failed, letting candidate through", "error", err)
		return false
	}
	if len(matches) == 0 {
		return false
	}

	slog.Info("Forbidden words matched, dropping", "source", candidate.SourceID, "words", matches)
	p.gate.Release(ctx, primary)
	return true
}

func (p *Pipeline) routeToReview(ctx context.Context, candidate Candidate, urls []string, classification classify.Result) {
	promo := database.PendingPromotion{
		RawText:  candidate.Text,
		ImageRef: candidate.ImageRef,
		SourceID: candidate.SourceID,
		URLs:     urls,
		Reason:   fmt.Sprintf("confiança %d abaixo do limite de aprovação", classification.Confidence),
	}

	id, err := p.pending.Enqueue(promo)
	if err != nil {
		slog.Error("Failed to queue promotion for review, dropping", "error", err)
		p.gate.Release(ctx, urls[0])
		return
	}
	promo.ID = id

	slog.Info("Promotion held for review", "id", id, "source", candidate.SourceID,
		"confidence", classification.Confidence)

	p.hub.Publish(EventNewPending, promo)
	p.publishPendingCount()
}

// finish runs once per promotion when every destination reached a terminal
// state. The dedup key is re-anchored on success so the suppression window
// counts from completion, and released on total failure so the promotion can
// come around again.
func (p *Pipeline) finish(candidate Candidate, primary string, classification classify.Result, urls []string, affiliates map[string]string, delivered int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// History keeps the links in the order they appeared in the message.
	sentURLs := make([]string, 0, len(urls))
	for _, raw := range urls {
		sentURLs = append(sentURLs, affiliates[raw])
	}

	entry := database.HistoryEntry{
		ProductName: classification.Title,
		Category:    classification.Category,
		Price:       classification.Price,
		Coupon:      classification.Coupon,
		URLs:        sentURLs,
		Success:     delivered > 0,
	}
	if err := p.history.Append(entry); err != nil {
		slog.Error("Failed to record delivery history", "error", err)
	}

	if delivered > 0 {
		p.gate.MarkDone(ctx, primary)
	} else {
		p.gate.Release(ctx, primary)
	}

	p.cleanupImage(candidate.ImageRef)
	p.hub.Publish(EventQueueStatus, p.queueStatus())
}

// destinations resolves the target set: the general chat plus the category
// thread when one is mapped. With no thread and general sends disabled the
// general chat is still used so approved content is never silently lost.
func (p *Pipeline) destinations(category string) []delivery.Destination {
	if p.opts.DestinationID == 0 {
		return nil
	}

	var dests []delivery.Destination

	threadID, ok, err := p.categories.GetThreadID(category)
	if err != nil {
		slog.Error("Category thread lookup failed", "category", category, "error", err)
	}
	if ok && threadID > 0 {
		dests = append(dests, delivery.Destination{ChatID: p.opts.DestinationID, ThreadID: threadID})
	}

	if p.opts.SendToGeneral || len(dests) == 0 {
		dests = append(dests, delivery.Destination{ChatID: p.opts.DestinationID})
	}

	return dests
}

func (p *Pipeline) publishPendingCount() {
	count, err := p.pending.CountPending()
	if err != nil {
		slog.Error("Failed to count pending promotions", "error", err)
		return
	}
	p.hub.Publish(EventPendingCount, map[string]int{"pending": count})
}

// PublishPendingCount refreshes dashboard counters after an operator
// resolves a review item.
func (p *Pipeline) PublishPendingCount() {
	p.publishPendingCount()
}

func (p *Pipeline) queueStatus() map[string]any {
	return map[string]any{
		"depth":   p.queue.Depth(),
		"limiter": p.limiter.Status(),
	}
}

// QueueStatus is the snapshot served by the stats endpoint.
func (p *Pipeline) QueueStatus() map[string]any {
	return p.queueStatus()
}

func (p *Pipeline) cleanupImage(imageRef string) {
	if imageRef == "" || strings.HasPrefix(imageRef, "http://") || strings.HasPrefix(imageRef, "https://") {
		return
	}
	// Only temp downloads are removable paths; Telegram file_ids fail Stat
	// and fall through here.
	if info, err := os.Stat(imageRef); err != nil || info.IsDir() {
		return
	}
	if err := os.Remove(imageRef); err != nil {
		slog.Warn("Failed to remove temp image", "path", imageRef, "error", err)
	}
}
