// Package migrations carries the Postgres schema for the ledger tables.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"gorm.io/gorm"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded migration in lexical order. The scripts are
// idempotent, so Apply may run on every start.
func Apply(ctx context.Context, db *gorm.DB) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.WithContext(ctx).Exec(string(script)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
