package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/moduloapp/modulo-rag/internal/chunk"
)

// Local is the embedded on-disk index backend.
//
// Each subject is a first-class chromem collection, which makes the
// serialize-writes invariant enforceable per subject instead of globally:
// every subject has its own RWMutex, held exclusively for the duration of
// the delete+insert upsert and shared during reads. Reads of one subject
// run concurrently with writes to other subjects.
//
// The index directory is guarded by a file lock so two processes cannot
// corrupt the same persisted index.
type Local struct {
	db       *chromem.DB
	embedder *Embedder
	embedFn  chromem.EmbeddingFunc
	logger   *slog.Logger
	dirLock  *flock.Flock

	mu       sync.Mutex
	subjects map[string]*sync.RWMutex
}

// OpenLocal opens (or creates) the persistent index under dir and
// reattaches to any previously persisted state. With no prior state the
// index starts empty: queries report "not indexed" until the first
// successful upsert.
func OpenLocal(dir string, embedder *Embedder, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dirLock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking index directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("index directory %s is in use by another process", dir)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, "chromem"), false)
	if err != nil {
		_ = dirLock.Unlock()
		return nil, fmt.Errorf("opening persistent index: %w", err)
	}

	s := &Local{
		db:       db,
		embedder: embedder,
		embedFn:  embeddingFunc(embedder),
		logger:   logger,
		dirLock:  dirLock,
		subjects: make(map[string]*sync.RWMutex),
	}

	stats, err := s.Stats(context.Background())
	if err == nil {
		logger.Info("local index opened", "dir", dir, "indexed", stats.Indexed, "chunks", stats.Count)
	}
	return s, nil
}

// embeddingFunc bridges the Embedder to chromem's embedding callback.
// Only used for documents without a precomputed vector; upsert and search
// precompute embeddings so failures stay file-granular.
func embeddingFunc(e *Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}

// subjectLock returns the lock guarding one subject's partition.
func (s *Local) subjectLock(subjectID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.subjects[subjectID]
	if !ok {
		lk = &sync.RWMutex{}
		s.subjects[subjectID] = lk
	}
	return lk
}

// Upsert replaces the subject's partition with the given chunks.
//
// Chunks are embedded file by file before anything is written: an
// embedding failure skips that file (recorded in the report) and when no
// file survives, the existing partition is left untouched so it still
// reflects the last successful index request. Cancellation aborts the
// batch before the partition is modified.
func (s *Local) Upsert(ctx context.Context, subjectID string, chunks []chunk.Chunk) (*UpsertReport, error) {
	report := &UpsertReport{}

	var docs []chromem.Document
	for _, g := range groupByFile(chunks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileDocs := make([]chromem.Document, 0, len(g.chunks))
		var fileErr error
		for _, c := range g.chunks {
			vec, err := s.embedder.Embed(ctx, c.Content)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				fileErr = err
				break
			}
			fileDocs = append(fileDocs, chromem.Document{
				ID:        uuid.NewString(),
				Content:   c.Content,
				Embedding: vec,
				Metadata:  chunkMetadata(c, len(docs)+len(fileDocs)),
			})
		}
		if fileErr != nil {
			s.logger.Warn("embedding failed, skipping file", "file", g.file, "error", fileErr)
			report.FileErrors = append(report.FileErrors, FileError{File: g.file, Err: fileErr})
			continue
		}

		docs = append(docs, fileDocs...)
		report.FilesOK++
		report.ChunksInserted += len(fileDocs)
	}

	if report.FilesOK == 0 {
		// Nothing succeeded: keep the old partition intact.
		return report, nil
	}

	lk := s.subjectLock(subjectID)
	lk.Lock()
	defer lk.Unlock()

	if existing := s.db.GetCollection(subjectID, s.embedFn); existing != nil {
		if err := s.db.DeleteCollection(subjectID); err != nil {
			return nil, fmt.Errorf("deleting partition %q: %w", subjectID, err)
		}
	}

	col, err := s.db.GetOrCreateCollection(subjectID, map[string]string{metaSubject: subjectID}, s.embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating partition %q: %w", subjectID, err)
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("inserting %d chunks into partition %q: %w", len(docs), subjectID, err)
	}

	s.logger.Info("partition replaced",
		"subject", subjectID, "chunks", report.ChunksInserted, "files", report.FilesOK)
	return report, nil
}

// DeletePartition removes all chunks for a subject. Deleting a subject
// with no partition is a no-op, not an error; genuine storage errors
// surface.
func (s *Local) DeletePartition(_ context.Context, subjectID string) error {
	lk := s.subjectLock(subjectID)
	lk.Lock()
	defer lk.Unlock()

	if s.db.GetCollection(subjectID, s.embedFn) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(subjectID); err != nil {
		return fmt.Errorf("deleting partition %q: %w", subjectID, err)
	}
	s.logger.Info("partition deleted", "subject", subjectID)
	return nil
}

// Search returns up to k chunks ranked by cosine similarity. With a
// subject the candidates are restricted to that partition; otherwise the
// whole index is searched. Returns ErrUnavailable before the first
// successful upsert; an empty slice is the valid zero-match outcome.
func (s *Local) Search(ctx context.Context, query string, k int, subjectID string) ([]Result, error) {
	cols := s.db.ListCollections()

	total := 0
	for _, c := range cols {
		total += c.Count()
	}
	if total == 0 {
		return nil, ErrUnavailable
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if subjectID != "" {
		return s.searchPartition(ctx, qvec, k, subjectID)
	}

	// Search every partition and merge. Collection names are iterated in
	// sorted order so merged ties resolve deterministically.
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var merged []Result
	for _, name := range names {
		partial, err := s.searchPartition(ctx, qvec, k, name)
		if err != nil {
			return nil, err
		}
		merged = append(merged, partial...)
	}

	// Rank by similarity; equal scores keep insertion order via seq.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// searchPartition queries a single subject collection under its read lock.
func (s *Local) searchPartition(ctx context.Context, qvec []float32, k int, subjectID string) ([]Result, error) {
	lk := s.subjectLock(subjectID)
	lk.RLock()
	defer lk.RUnlock()

	col := s.db.GetCollection(subjectID, s.embedFn)
	if col == nil {
		return nil, nil // no partition: zero matches, not an error
	}

	n := min(k, col.Count())
	if n == 0 {
		return nil, nil
	}

	rows, err := col.QueryEmbedding(ctx, qvec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying partition %q: %w", subjectID, err)
	}

	type scored struct {
		res Result
		seq int
	}
	ranked := make([]scored, 0, len(rows))
	for _, r := range rows {
		seq, _ := strconv.Atoi(r.Metadata[metaSeq])
		ranked = append(ranked, scored{
			res: Result{
				Chunk:      chunkFromMetadata(r.Content, r.Metadata),
				Similarity: r.Similarity,
			},
			seq: seq,
		})
	}

	// chromem ranks by similarity; make ties deterministic by insertion order.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].res.Similarity != ranked[j].res.Similarity {
			return ranked[i].res.Similarity > ranked[j].res.Similarity
		}
		return ranked[i].seq < ranked[j].seq
	})

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r.res)
	}
	return results, nil
}

// Stats reports whether any chunk is indexed and the total count across
// all subjects.
func (s *Local) Stats(_ context.Context) (Stats, error) {
	total := 0
	for _, c := range s.db.ListCollections() {
		total += c.Count()
	}
	return Stats{Indexed: total > 0, Count: total}, nil
}

// Close releases the index directory lock. Persisted state stays on disk
// and is reattached by the next OpenLocal.
func (s *Local) Close() error {
	if err := s.dirLock.Unlock(); err != nil {
		return fmt.Errorf("releasing index directory lock: %w", err)
	}
	return nil
}
