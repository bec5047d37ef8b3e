package database

import (
	"database/sql"
	"fmt"
)

// CategoryRepo handles database operations for category to thread routing
type CategoryRepo struct {
	db *DB
}

var _ CategoryRepository = (*CategoryRepo)(nil)

func NewCategoryRepository(db *DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

// GetThreadID returns the destination sub-thread configured for a category.
// The second return value is false when the category has no thread mapping.
func (r *CategoryRepo) GetThreadID(name string) (int, bool, error) {
	var threadID sql.NullInt64
	err := r.db.QueryRow(`
		SELECT thread_id FROM categories WHERE LOWER(name) = LOWER($1)
	`, name).Scan(&threadID)

	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get category thread: %w", err)
	}
	if !threadID.Valid {
		return 0, false, nil
	}

	return int(threadID.Int64), true, nil
}

func (r *CategoryRepo) List() ([]Category, error) {
	rows, err := r.db.Query(`
		SELECT id, name, thread_id, created_at FROM categories ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		var threadID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &threadID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		if threadID.Valid {
			id := int(threadID.Int64)
			c.ThreadID = &id
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}

	return categories, nil
}
