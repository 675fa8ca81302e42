package database

import (
	"context"
	"fmt"
)

// TableExists reports whether a public-schema table is present. Default
// metric registration uses it to skip query-sourced metrics whose backing
// table does not exist in the configured database.
func (db *DB) TableExists(ctx context.Context, tableName string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)`
	err := db.QueryRowContext(ctx, query, tableName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if table exists: %w", err)
	}
	return exists, nil
}
