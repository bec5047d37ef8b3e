package database

import (
	"fmt"
	"strings"
)

// ForbiddenWordRepo handles database operations for the forbidden word list
type ForbiddenWordRepo struct {
	db *DB
}

var _ ForbiddenWordRepository = (*ForbiddenWordRepo)(nil)

func NewForbiddenWordRepository(db *DB) *ForbiddenWordRepo {
	return &ForbiddenWordRepo{db: db}
}

// Match returns every forbidden word contained in the text, case-insensitive.
func (r *ForbiddenWordRepo) Match(text string) ([]string, error) {
	rows, err := r.db.Query(`SELECT word FROM forbidden_words`)
	if err != nil {
		return nil, fmt.Errorf("failed to load forbidden words: %w", err)
	}
	defer rows.Close()

	lowered := strings.ToLower(text)

	var found []string
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("failed to scan forbidden word: %w", err)
		}
		if word != "" && strings.Contains(lowered, strings.ToLower(word)) {
			found = append(found, word)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forbidden words: %w", err)
	}

	return found, nil
}
