package database

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PendingRepo handles database operations for promotions held for manual review
type PendingRepo struct {
	db *DB
}

var _ PendingRepository = (*PendingRepo)(nil)

func NewPendingRepository(db *DB) *PendingRepo {
	return &PendingRepo{db: db}
}

func (r *PendingRepo) Enqueue(promo PendingPromotion) (string, error) {
	var id string
	err := r.db.QueryRow(`
		INSERT INTO pending_promotions (raw_text, image_ref, source_id, urls, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, promo.RawText, promo.ImageRef, promo.SourceID, pq.Array(promo.URLs), promo.Reason).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to enqueue pending promotion: %w", err)
	}

	return id, nil
}

func (r *PendingRepo) ListPending(limit int) ([]PendingPromotion, error) {
	rows, err := r.db.Query(`
		SELECT id, raw_text, image_ref, source_id, COALESCE(urls, '{}'), reason, status, created_at, resolved_at
		FROM pending_promotions
		WHERE status = 'pending'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending promotions: %w", err)
	}
	defer rows.Close()

	var promos []PendingPromotion
	for rows.Next() {
		var p PendingPromotion
		err := rows.Scan(&p.ID, &p.RawText, &p.ImageRef, &p.SourceID, pq.Array(&p.URLs),
			&p.Reason, &p.Status, &p.CreatedAt, &p.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending promotion row: %w", err)
		}
		promos = append(promos, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending promotion rows: %w", err)
	}

	return promos, nil
}

func (r *PendingRepo) CountPending() (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM pending_promotions WHERE status = 'pending'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending promotions: %w", err)
	}
	return count, nil
}

// Resolve marks a pending promotion approved or rejected and returns the
// resolved record so an approved candidate can be re-injected into the pipeline.
func (r *PendingRepo) Resolve(id string, approved bool) (*PendingPromotion, error) {
	status := "rejected"
	if approved {
		status = "approved"
	}

	var p PendingPromotion
	err := r.db.QueryRow(`
		UPDATE pending_promotions
		SET status = $2, resolved_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, raw_text, image_ref, source_id, COALESCE(urls, '{}'), reason, status, created_at, resolved_at
	`, id, status).Scan(&p.ID, &p.RawText, &p.ImageRef, &p.SourceID, pq.Array(&p.URLs),
		&p.Reason, &p.Status, &p.CreatedAt, &p.ResolvedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pending promotion: %w", err)
	}

	return &p, nil
}
