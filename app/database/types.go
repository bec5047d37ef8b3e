package database

import (
	"time"
)

type Category struct {
	ID        int
	Name      string
	ThreadID  *int
	CreatedAt time.Time
}

type HistoryEntry struct {
	ID          string // Database UUID
	ProductName string
	Category    string
	Price       string
	Coupon      string
	URLs        []string
	Success     bool
	SentAt      time.Time
}

type PendingPromotion struct {
	ID         string // Database UUID
	RawText    string
	ImageRef   string
	SourceID   string
	URLs       []string
	Reason     string
	Status     string // pending, approved, rejected
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
