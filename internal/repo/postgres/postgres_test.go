package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
)

type execRecorder struct {
	query string
	args  []any
	err   error
}

func (e *execRecorder) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	e.query = query
	e.args = args
	return nil, e.err
}

func (e *execRecorder) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (e *execRecorder) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func TestUpsertRunLabelIsSingleStatementUpsert(t *testing.T) {
	db := &execRecorder{}
	store := NewRunLabelStore(db)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	if err := store.UpsertRunLabel(context.Background(), 42, " x@y.com triggered event "); err != nil {
		t.Fatalf("UpsertRunLabel() err=%v", err)
	}
	if !strings.Contains(db.query, "ON CONFLICT (run_id) DO UPDATE") {
		t.Fatalf("expected ON CONFLICT upsert, got %s", db.query)
	}
	if len(db.args) != 3 {
		t.Fatalf("len(args)=%d, want 3", len(db.args))
	}
	if db.args[0] != int64(42) || db.args[1] != "x@y.com triggered event" || db.args[2] != fixed {
		t.Fatalf("args=%v", db.args)
	}
}

func TestUpsertRunLabelValidates(t *testing.T) {
	store := NewRunLabelStore(&execRecorder{})
	if err := store.UpsertRunLabel(context.Background(), 0, "label"); err == nil {
		t.Fatalf("expected error for zero run id")
	}
	if err := store.UpsertRunLabel(context.Background(), 1, "  "); err == nil {
		t.Fatalf("expected error for blank label")
	}
}

func TestUpsertRunLabelWrapsDBError(t *testing.T) {
	boom := errors.New("boom")
	store := NewRunLabelStore(&execRecorder{err: boom})
	if err := store.UpsertRunLabel(context.Background(), 7, "label"); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped boom", err)
	}
}

func TestNilStores(t *testing.T) {
	if NewRunLabelStore(nil) != nil || NewEpisodeStore(nil) != nil {
		t.Fatalf("expected nil stores for nil db")
	}
	var episodes *EpisodeStore
	if _, err := episodes.ListEpisodes(context.Background()); err == nil {
		t.Fatalf("expected error from nil episode store")
	}
}

func TestDecodeTags(t *testing.T) {
	tags, err := decodeTags([]byte(`["tech", 3, "world", null]`))
	if err != nil {
		t.Fatalf("decodeTags() err=%v", err)
	}
	if strings.Join(tags, ",") != "tech,world" {
		t.Fatalf("tags=%v, want [tech world]", tags)
	}
	empty, err := decodeTags(nil)
	if err != nil || len(empty) != 0 || empty == nil {
		t.Fatalf("decodeTags(nil)=%v, %v", empty, err)
	}
	if _, err := decodeTags([]byte(`{"a":1}`)); err == nil {
		t.Fatalf("expected error for non-array tags")
	}
}

func TestListEpisodesQueryOrdersNewestFirst(t *testing.T) {
	if !strings.Contains(listEpisodesQuery, "ORDER BY published_at DESC") {
		t.Fatalf("expected newest-first ordering, got %s", listEpisodesQuery)
	}
}
