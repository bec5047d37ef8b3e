package monitor

import (
	"context"
	"time"
)

// Message is a raw post pulled from a monitored source, before any
// classification or link rewriting.
type Message struct {
	SourceID string
	ID       int64
	Text     string
	ImageRef string
	At       time.Time
}

// SourceClient is one monitored feed of promotional posts. Fetch returns the
// messages newer than the cursor plus the advanced cursor; implementations
// decide what the cursor means (update offset, feed item timestamp).
type SourceClient interface {
	Name() string
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Fetch(ctx context.Context, sinceID int64) ([]Message, int64, error)
}
