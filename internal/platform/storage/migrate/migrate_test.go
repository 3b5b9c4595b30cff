package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

// fakeApplier records engine calls against an in-memory ledger.
type fakeApplier struct {
	setupCalls int
	executed   []string
	marked     []string
	applyErr   error
}

func (f *fakeApplier) Setup(ctx context.Context) error {
	f.setupCalls++
	return nil
}

func (f *fakeApplier) Apply(ctx context.Context, sql string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.executed = append(f.executed, sql)
	return nil
}

func (f *fakeApplier) MarkApplied(ctx context.Context, name string) error {
	f.marked = append(f.marked, name)
	return nil
}

func (f *fakeApplier) Applied(ctx context.Context) ([]string, error) {
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out, nil
}

func TestLoadSortsByName(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0002_later.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE b(x);")},
		"0001_first.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE a(x);")},
		"notes.txt":        &fstest.MapFile{Data: []byte("ignored")},
		"0003_another.sql": &fstest.MapFile{Data: []byte("CREATE TABLE c(x);")},
	}
	migrations, err := Load(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("len = %d, want 3", len(migrations))
	}
	want := []string{"0001_first.sql", "0002_later.sql", "0003_another.sql"}
	for i, name := range want {
		if migrations[i].Name != name {
			t.Fatalf("migrations[%d].Name = %q, want %q", i, migrations[i].Name, name)
		}
	}
	if migrations[0].SQL != "CREATE TABLE a(x);" {
		t.Fatalf("unexpected first migration body %q", migrations[0].SQL)
	}
}

func TestLoadRejectsNonTextContent(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0001_bad.sql": &fstest.MapFile{Data: []byte{0xff, 0xfe, 0x00, 0x81}},
	}
	_, err := Load(fsys)
	if !errors.Is(err, ErrNotText) {
		t.Fatalf("err = %v, want ErrNotText", err)
	}
}

func TestRunAppliesInSortedOrder(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	migrations := []Migration{
		{Name: "0002_b.sql", SQL: "B"},
		{Name: "0001_a.sql", SQL: "A"},
	}
	if err := Run(context.Background(), migrations, applier); err != nil {
		t.Fatalf("run: %v", err)
	}
	if applier.setupCalls != 1 {
		t.Fatalf("setup calls = %d, want 1", applier.setupCalls)
	}
	if len(applier.executed) != 2 || applier.executed[0] != "A" || applier.executed[1] != "B" {
		t.Fatalf("executed = %v, want [A B]", applier.executed)
	}
	if len(applier.marked) != 2 || applier.marked[0] != "0001_a.sql" || applier.marked[1] != "0002_b.sql" {
		t.Fatalf("marked = %v", applier.marked)
	}
}

func TestRunTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	migrations := []Migration{
		{Name: "0001_a.sql", SQL: "A"},
		{Name: "0002_b.sql", SQL: "B"},
	}
	if err := Run(context.Background(), migrations, applier); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(context.Background(), migrations, applier); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(applier.executed) != 2 {
		t.Fatalf("executed %d statements after replay, want 2", len(applier.executed))
	}
}

func TestRunAppliesOnlyAppendedMigrations(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	initial := []Migration{{Name: "0001_a.sql", SQL: "A"}}
	if err := Run(context.Background(), initial, applier); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	extended := []Migration{
		{Name: "0001_a.sql", SQL: "A"},
		{Name: "0002_b.sql", SQL: "B"},
	}
	if err := Run(context.Background(), extended, applier); err != nil {
		t.Fatalf("extended run: %v", err)
	}
	if len(applier.executed) != 2 || applier.executed[1] != "B" {
		t.Fatalf("executed = %v, want appended B only", applier.executed)
	}
}

func TestRunFailsOnHistoryMismatch(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{marked: []string{"0001_renamed.sql"}}
	migrations := []Migration{
		{Name: "0001_a.sql", SQL: "A"},
		{Name: "0002_b.sql", SQL: "B"},
	}
	err := Run(context.Background(), migrations, applier)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}
	if len(applier.executed) != 0 {
		t.Fatalf("executed = %v, want nothing applied after mismatch", applier.executed)
	}
}

func TestRunFailsWhenRecordedHistoryExceedsAvailable(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{marked: []string{"0001_a.sql", "0002_removed.sql"}}
	migrations := []Migration{{Name: "0001_a.sql", SQL: "A"}}
	err := Run(context.Background(), migrations, applier)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}
}

func TestRunStopsWithoutMarkingOnApplyFailure(t *testing.T) {
	t.Parallel()

	applyErr := errors.New("syntax error")
	applier := &fakeApplier{applyErr: applyErr}
	migrations := []Migration{{Name: "0001_a.sql", SQL: "A"}}
	err := Run(context.Background(), migrations, applier)
	if !errors.Is(err, applyErr) {
		t.Fatalf("err = %v, want wrapped apply error", err)
	}
	if len(applier.marked) != 0 {
		t.Fatalf("marked = %v, want failed migration unrecorded", applier.marked)
	}
}
