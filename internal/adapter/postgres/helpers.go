package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/decisiongate/internal/domain"
)

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// jsonOrEmpty encodes a map for a JSONB NOT NULL column; nil becomes "{}".
func jsonOrEmpty[K comparable, V any](v map[K]V) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// orEmpty keeps nil slices out of JSONB and text[] columns.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// wrapNoRows maps pgx.ErrNoRows onto domain.ErrNotFound under what.
func wrapNoRows(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
