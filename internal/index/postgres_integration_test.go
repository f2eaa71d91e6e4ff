//go:build integration

package index

import (
	"context"
	"errors"
	"testing"

	"github.com/moduloapp/modulo-rag/internal/chunk"
	"github.com/moduloapp/modulo-rag/internal/log"
	"github.com/moduloapp/modulo-rag/internal/testutil"
)

// Run with: go test -tags integration ./internal/index/
// Requires Docker for the pgvector testcontainer.

func newPostgresForTest(t *testing.T, m *mockEmbedder) *Postgres {
	t.Helper()
	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return NewPostgres(tdb.Pool, NewEmbedder(m, 0), log.NewNop())
}

func TestPostgres_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newPostgresForTest(t, &mockEmbedder{})

	for i := 0; i < 2; i++ {
		report, err := s.Upsert(ctx, "bio101", bioChunks())
		if err != nil {
			t.Fatal(err)
		}
		if report.ChunksInserted != 3 || report.FilesOK != 2 {
			t.Fatalf("run %d: report = %+v, want 3 chunks from 2 files", i, report)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 3 {
		t.Errorf("count after double upsert = %d, want 3 (partition replaced, not appended)", stats.Count)
	}
}

func TestPostgres_SearchBeforeAnyUpsert(t *testing.T) {
	ctx := context.Background()
	s := newPostgresForTest(t, &mockEmbedder{})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed || stats.Count != 0 {
		t.Errorf("stats = %+v, want empty index", stats)
	}

	if _, err := s.Search(ctx, "anything", 8, ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable before the first upsert", err)
	}
}

func TestPostgres_SubjectIsolation(t *testing.T) {
	ctx := context.Background()
	s := newPostgresForTest(t, &mockEmbedder{})

	if _, err := s.Upsert(ctx, "bio101", bioChunks()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, "chem101", []chunk.Chunk{
		{Content: "acids donate protons", SubjectID: "chem101", SourceFile: "acids.md"},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "protons and cells", 8, "bio101")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected matches inside the bio101 partition")
	}
	for _, r := range results {
		if r.Chunk.SubjectID != "bio101" {
			t.Errorf("subject-scoped search leaked chunk from %q", r.Chunk.SubjectID)
		}
	}

	results, err = s.Search(ctx, "protons", 8, "phys101")
	if err != nil {
		t.Fatalf("missing partition must not be an error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from a partition that does not exist", len(results))
	}
}

func TestPostgres_DeletePartition(t *testing.T) {
	ctx := context.Background()
	s := newPostgresForTest(t, &mockEmbedder{})

	if err := s.DeletePartition(ctx, "never-indexed"); err != nil {
		t.Errorf("deleting a missing partition must be a no-op, got %v", err)
	}

	if _, err := s.Upsert(ctx, "bio101", bioChunks()); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePartition(ctx, "bio101"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed || stats.Count != 0 {
		t.Errorf("stats = %+v, want empty index after delete", stats)
	}
}

func TestPostgres_EmbedFailureSkipsFile(t *testing.T) {
	ctx := context.Background()
	m := &mockEmbedder{failOn: map[string]bool{"enzymes catalyze reactions": true}}
	s := newPostgresForTest(t, m)

	report, err := s.Upsert(ctx, "bio101", bioChunks())
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesOK != 1 || report.ChunksInserted != 2 {
		t.Errorf("report = %+v, want the intact file's 2 chunks inserted", report)
	}
	if len(report.FileErrors) != 1 || report.FileErrors[0].File != "enzymes.txt" {
		t.Errorf("file errors = %+v, want exactly enzymes.txt", report.FileErrors)
	}
}
