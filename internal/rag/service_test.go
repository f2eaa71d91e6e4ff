package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/moduloapp/modulo-rag/internal/answer"
	"github.com/moduloapp/modulo-rag/internal/chunk"
	"github.com/moduloapp/modulo-rag/internal/extract"
	"github.com/moduloapp/modulo-rag/internal/index"
	"github.com/moduloapp/modulo-rag/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExtractor serves canned units per path.
type fakeExtractor struct {
	units map[string][]extract.Unit
	errs  map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, path string) ([]extract.Unit, error) {
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	return f.units[path], nil
}

// fakeStore is an in-memory Store with subject partitions.
type fakeStore struct {
	partitions map[string][]chunk.Chunk
	upsertErr  error
	searchErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{partitions: make(map[string][]chunk.Chunk)}
}

func (f *fakeStore) Upsert(_ context.Context, subjectID string, chunks []chunk.Chunk) (*index.UpsertReport, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.partitions[subjectID] = append([]chunk.Chunk(nil), chunks...)

	files := make(map[string]bool)
	for _, c := range chunks {
		files[c.SourceFile] = true
	}
	return &index.UpsertReport{ChunksInserted: len(chunks), FilesOK: len(files)}, nil
}

func (f *fakeStore) DeletePartition(_ context.Context, subjectID string) error {
	delete(f.partitions, subjectID)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, k int, subjectID string) ([]index.Result, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	total := 0
	for _, p := range f.partitions {
		total += len(p)
	}
	if total == 0 {
		return nil, index.ErrUnavailable
	}

	var results []index.Result
	for subject, p := range f.partitions {
		if subjectID != "" && subject != subjectID {
			continue
		}
		for _, c := range p {
			if len(results) == k {
				return results, nil
			}
			results = append(results, index.Result{Chunk: c, Similarity: 1})
		}
	}
	return results, nil
}

func (f *fakeStore) Stats(_ context.Context) (index.Stats, error) {
	total := 0
	for _, p := range f.partitions {
		total += len(p)
	}
	return index.Stats{Indexed: total > 0, Count: total}, nil
}

type fakeGenerator struct {
	response string
	err      error
	called   bool
}

func (g *fakeGenerator) Generate(context.Context, string) (string, error) {
	g.called = true
	return g.response, g.err
}

func newTestService(store *fakeStore, ex *fakeExtractor, gen *fakeGenerator) *Service {
	return NewService(
		ex,
		chunk.NewSplitter(2000, 400),
		store,
		NewRetriever(store, 8, log.NewNop()),
		answer.NewSynthesizer(gen),
		log.NewNop(),
	)
}

func textUnits(text string) []extract.Unit {
	return []extract.Unit{{Content: text, Via: extract.ViaNative}}
}

func TestIndex_RequiresSubject(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), &fakeExtractor{}, &fakeGenerator{})
	_, err := svc.Index(context.Background(), IndexRequest{SubjectID: "  ", FilePaths: []string{"a.txt"}})
	if !errors.Is(err, ErrEmptySubject) {
		t.Errorf("got %v, want ErrEmptySubject", err)
	}
}

func TestIndex_PartialFailureKeepsBatchGoing(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{
		units: map[string][]extract.Unit{"good.txt": textUnits("cells divide by mitosis")},
		errs:  map[string]error{"bad.pdf": extract.ErrExtraction},
	}
	svc := newTestService(newFakeStore(), ex, &fakeGenerator{})

	resp, err := svc.Index(context.Background(), IndexRequest{
		SubjectID: "bio101",
		FilePaths: []string{"bad.pdf", "good.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusOK {
		t.Errorf("status = %q, want ok despite one failed file", resp.Status)
	}
	if resp.DocumentsProcessed != 1 || resp.ChunksCreated != 1 {
		t.Errorf("resp = %+v, want 1 document and 1 chunk", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].File != "bad.pdf" {
		t.Errorf("errors = %+v, want exactly bad.pdf", resp.Errors)
	}
}

func TestIndex_AllFilesFailed(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{errs: map[string]error{
		"bad1.pdf": extract.ErrExtraction,
		"bad2.txt": extract.ErrFileNotFound,
	}}
	store := newFakeStore()
	svc := newTestService(store, ex, &fakeGenerator{})

	resp, err := svc.Index(context.Background(), IndexRequest{
		SubjectID: "bio101",
		FilePaths: []string{"bad1.pdf", "bad2.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusError || resp.Message == "" {
		t.Errorf("resp = %+v, want status error with a message when zero files succeeded", resp)
	}
	if len(resp.Errors) != 2 {
		t.Errorf("got %d errors, want 2", len(resp.Errors))
	}
	if len(store.partitions) != 0 {
		t.Error("nothing must be written when zero files succeeded")
	}
}

func TestIndex_FileWithNoTextIsAnError(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{units: map[string][]extract.Unit{"empty.txt": textUnits("   \n ")}}
	svc := newTestService(newFakeStore(), ex, &fakeGenerator{})

	resp, err := svc.Index(context.Background(), IndexRequest{
		SubjectID: "bio101",
		FilePaths: []string{"empty.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusError || len(resp.Errors) != 1 {
		t.Errorf("resp = %+v, want the whitespace-only file reported as a per-file error", resp)
	}
}

func TestIndex_ChunkCountForThreeThousandChars(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{units: map[string][]extract.Unit{
		"bio.txt": textUnits(strings.Repeat("a", 3000)),
	}}
	svc := newTestService(newFakeStore(), ex, &fakeGenerator{})

	resp, err := svc.Index(context.Background(), IndexRequest{
		SubjectID: "bio101",
		FilePaths: []string{"bio.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ChunksCreated < 2 || resp.ChunksCreated > 3 {
		t.Errorf("chunks_created = %d, want 2..3 for 3000 characters at 2000/400", resp.ChunksCreated)
	}
}

func TestQuery_RejectsEmptyQuestion(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), &fakeExtractor{}, &fakeGenerator{})
	for _, q := range []string{"", "   ", "\t\n"} {
		if _, err := svc.Query(context.Background(), QueryRequest{Question: q}); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("question %q: got %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestQuery_NotIndexedYet(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	svc := newTestService(newFakeStore(), &fakeExtractor{}, gen)

	resp, err := svc.Query(context.Background(), QueryRequest{Question: "what is mitosis?"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusError || resp.Message != NotIndexedMessage {
		t.Errorf("resp = %+v, want the structured not-indexed response", resp)
	}
	if gen.called {
		t.Error("generator must not run before anything is indexed")
	}
}

func TestQuery_ZeroMatchesSkipsGeneration(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.partitions["bio101"] = []chunk.Chunk{
		{Content: "cells divide", SubjectID: "bio101", SourceFile: "cells.md"},
	}
	gen := &fakeGenerator{response: "never"}
	svc := newTestService(store, &fakeExtractor{}, gen)

	resp, err := svc.Query(context.Background(), QueryRequest{Question: "acids?", SubjectID: "chem101"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusOK {
		t.Errorf("status = %q, want ok: zero matches is a valid outcome", resp.Status)
	}
	if resp.Answer != answer.NoMatchAnswer {
		t.Errorf("answer = %q, want the fixed no-match answer", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %v, want empty", resp.Sources)
	}
	if gen.called {
		t.Error("generator must not run for zero matches")
	}
}

func TestQuery_GroundedAnswerWithSources(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.partitions["bio101"] = []chunk.Chunk{
		{Content: "cells divide by mitosis", SubjectID: "bio101", SourceFile: "cells.md"},
		{Content: "DNA carries genes", SubjectID: "bio101", SourceFile: "cells.md"},
		{Content: "enzymes catalyze", SubjectID: "bio101", SourceFile: "enzymes.txt"},
	}
	gen := &fakeGenerator{response: "Cells divide by mitosis."}
	svc := newTestService(store, &fakeExtractor{}, gen)

	resp, err := svc.Query(context.Background(), QueryRequest{Question: "how do cells divide?", SubjectID: "bio101"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusOK || resp.Answer != "Cells divide by mitosis." {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("got %d sources, want 2 distinct files", len(resp.Sources))
	}
	for _, src := range resp.Sources {
		if src.Subject != "bio101" {
			t.Errorf("source %+v outside the queried subject", src)
		}
	}
}

func TestQuery_GenerationFailureDegrades(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.partitions["bio101"] = []chunk.Chunk{
		{Content: "cells divide", SubjectID: "bio101", SourceFile: "cells.md"},
	}
	gen := &fakeGenerator{err: errors.New("model is down")}
	svc := newTestService(store, &fakeExtractor{}, gen)

	resp, err := svc.Query(context.Background(), QueryRequest{Question: "how?", SubjectID: "bio101"})
	if err != nil {
		t.Fatalf("generation failure must degrade to a response, got error %v", err)
	}
	if resp.Status != StatusError || resp.Message != CouldNotAnswerMessage {
		t.Errorf("resp = %+v, want the could-not-answer response", resp)
	}
}

func TestDeleteSubject(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.partitions["bio101"] = []chunk.Chunk{
		{Content: "cells divide", SubjectID: "bio101", SourceFile: "cells.md"},
	}
	svc := newTestService(store, &fakeExtractor{}, &fakeGenerator{})

	if err := svc.DeleteSubject(context.Background(), ""); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("got %v, want ErrEmptySubject", err)
	}

	if err := svc.DeleteSubject(context.Background(), "bio101"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.partitions["bio101"]; ok {
		t.Error("partition still present after delete")
	}

	// Deleting again is a no-op.
	if err := svc.DeleteSubject(context.Background(), "bio101"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store, &fakeExtractor{}, &fakeGenerator{})

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed || stats.Count != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}

	store.partitions["bio101"] = []chunk.Chunk{{Content: "x", SubjectID: "bio101", SourceFile: "f"}}
	stats, err = svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Indexed || stats.Count != 1 {
		t.Errorf("stats = %+v, want indexed with 1 chunk", stats)
	}
}
