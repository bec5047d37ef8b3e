package database

import (
	"fmt"

	"github.com/lib/pq"
)

// HistoryRepo handles database operations for the post history log
type HistoryRepo struct {
	db *DB
}

var _ HistoryRepository = (*HistoryRepo)(nil)

func NewHistoryRepository(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Append records a delivery outcome. The history is append-only.
func (r *HistoryRepo) Append(entry HistoryEntry) error {
	_, err := r.db.Exec(`
		INSERT INTO post_history (product_name, category, price, coupon, urls, success)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ProductName, entry.Category, entry.Price, entry.Coupon,
		pq.Array(entry.URLs), entry.Success)

	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

func (r *HistoryRepo) GetRecent(limit int) ([]HistoryEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, product_name, category, price, coupon, COALESCE(urls, '{}'), success, sent_at
		FROM post_history
		ORDER BY sent_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		err := rows.Scan(&e.ID, &e.ProductName, &e.Category, &e.Price, &e.Coupon,
			pq.Array(&e.URLs), &e.Success, &e.SentAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return entries, nil
}

func (r *HistoryRepo) CountSince(hours int) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM post_history
		WHERE sent_at > NOW() - ($1 || ' hours')::interval AND success = TRUE
	`, hours).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}
	return count, nil
}
