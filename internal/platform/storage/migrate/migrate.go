// Package migrate applies ordered, named schema migrations exactly once.
//
// Migrations are plain SQL files. Their lexical name order is their execution
// order, so callers should prefix file names with a number or date. The engine
// records each applied name through an Applier and refuses to proceed when the
// recorded history no longer matches the available set.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInconsistent indicates the recorded migration history is not an
	// ordered prefix of the available migration set. There is no automatic
	// repair; an operator has to reconcile the store with the file set.
	ErrInconsistent = errors.New("applied migrations diverge from available set")

	// ErrNotText indicates a migration file does not contain valid UTF-8.
	ErrNotText = errors.New("migration is not valid UTF-8 text")
)

// Migration is one named schema change.
type Migration struct {
	Name string
	SQL  string
}

// Applier is the narrow backend capability the engine drives. Setup must be
// safe to call on an already-initialized backend. Apply and MarkApplied are
// separate calls; the engine does not require atomicity across the pair.
type Applier interface {
	Setup(ctx context.Context) error
	Apply(ctx context.Context, sql string) error
	MarkApplied(ctx context.Context, name string) error
	Applied(ctx context.Context) ([]string, error)
}

// Load reads every *.sql file from the root of fsys and returns the set
// sorted by name. File bodies must be UTF-8 text.
func Load(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, fmt.Errorf("migration filesystem is required")
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if !utf8.Valid(content) {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), ErrNotText)
		}
		migrations = append(migrations, Migration{
			Name: entry.Name(),
			SQL:  string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations, nil
}

// Run brings the backend schema up to date. Every migration whose name is not
// yet recorded is applied in sorted name order and then recorded; migrations
// already recorded are never re-executed. The recorded history must be an
// ordered prefix of the available set or Run fails with ErrInconsistent
// before applying anything further.
func Run(ctx context.Context, migrations []Migration, applier Applier) error {
	if applier == nil {
		return fmt.Errorf("applier is required")
	}

	available := make([]Migration, len(migrations))
	copy(available, migrations)
	sort.Slice(available, func(i, j int) bool {
		return available[i].Name < available[j].Name
	})

	if err := applier.Setup(ctx); err != nil {
		return fmt.Errorf("set up migration ledger: %w", err)
	}

	applied, err := applier.Applied(ctx)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	sort.Strings(applied)

	if len(applied) > len(available) {
		return fmt.Errorf("recorded migration %q has no matching file: %w",
			applied[len(available)], ErrInconsistent)
	}

	for i, migration := range available {
		if i < len(applied) {
			if applied[i] != migration.Name {
				return fmt.Errorf("position %d: recorded %q, available %q: %w",
					i, applied[i], migration.Name, ErrInconsistent)
			}
			continue
		}
		if err := applier.Apply(ctx, migration.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Name, err)
		}
		if err := applier.MarkApplied(ctx, migration.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", migration.Name, err)
		}
	}
	return nil
}
