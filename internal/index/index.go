// Package index owns the persistent vector index.
//
// The index is partitioned by subject: at any time a subject's partition
// reflects exactly the most recent successful upsert for that subject.
// Upsert is delete-then-insert; writes to the same subject are serialized
// while reads proceed concurrently with writes to other subjects.
//
// Two backends implement the same operations:
//   - Local: an embedded chromem-go database persisted under a fixed
//     directory, one collection per subject. No external services.
//   - Postgres: pgvector over a pgx pool, partition = subject_id column,
//     delete+insert in one transaction under a per-subject advisory lock.
//
// The index exclusively owns all persisted chunk/vector state.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/moduloapp/modulo-rag/internal/chunk"
)

var (
	// ErrUnavailable indicates no index has been built yet. Queries should
	// surface a structured "not indexed" response, never a crash.
	ErrUnavailable = errors.New("index not built yet")

	// ErrEmbedding indicates an embedding provider failure. The affected
	// file's chunks are skipped; the batch continues.
	ErrEmbedding = errors.New("embedding failed")
)

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Chunk      chunk.Chunk
	Similarity float32
}

// Stats reports index existence and total chunk count across all subjects.
type Stats struct {
	Indexed bool `json:"indexed"`
	Count   int  `json:"count"`
}

// FileError records a per-file ingestion failure.
type FileError struct {
	File string
	Err  error
}

// UpsertReport summarizes one upsert: how many chunks were inserted, how
// many files contributed, and which files failed at the embedding stage.
type UpsertReport struct {
	ChunksInserted int
	FilesOK        int
	FileErrors     []FileError
}

// Embedder wraps the external embedding capability with optional rate
// limiting. Callers never see provider types beyond the vector.
type Embedder struct {
	embedder ai.Embedder
	limiter  *rate.Limiter // nil disables limiting
}

// NewEmbedder creates an Embedder. callsPerSecond <= 0 disables rate
// limiting.
func NewEmbedder(embedder ai.Embedder, callsPerSecond int) *Embedder {
	var limiter *rate.Limiter
	if callsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(callsPerSecond), callsPerSecond)
	}
	return &Embedder{embedder: embedder, limiter: limiter}
}

// Embed returns the fixed-length vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty embedding", ErrEmbedding)
	}
	return resp.Embeddings[0].Embedding, nil
}

// fileGroup is the chunks of one source file in insertion order.
type fileGroup struct {
	file   string
	chunks []chunk.Chunk
}

// groupByFile partitions chunks by source file, preserving first-seen
// file order and chunk order within each file. Embedding failures are
// file-granular, so both backends ingest file by file.
func groupByFile(chunks []chunk.Chunk) []fileGroup {
	byFile := make(map[string]int)
	var groups []fileGroup
	for _, c := range chunks {
		i, ok := byFile[c.SourceFile]
		if !ok {
			i = len(groups)
			byFile[c.SourceFile] = i
			groups = append(groups, fileGroup{file: c.SourceFile})
		}
		groups[i].chunks = append(groups[i].chunks, c)
	}
	return groups
}

// Metadata keys shared by both backends.
const (
	metaSubject = "subject_id"
	metaFile    = "source_file"
	metaPage    = "page_number"
	metaOCR     = "ocr"
	metaSeq     = "seq"
)

// chunkMetadata serializes a chunk's provenance for metadata-based stores.
func chunkMetadata(c chunk.Chunk, seq int) map[string]string {
	m := map[string]string{
		metaSubject: c.SubjectID,
		metaFile:    c.SourceFile,
		metaOCR:     strconv.FormatBool(c.OCR),
		metaSeq:     strconv.Itoa(seq),
	}
	if c.Page > 0 {
		m[metaPage] = strconv.Itoa(c.Page)
	}
	return m
}

// chunkFromMetadata rebuilds a chunk from stored content and metadata.
func chunkFromMetadata(content string, m map[string]string) chunk.Chunk {
	c := chunk.Chunk{
		Content:    content,
		SubjectID:  m[metaSubject],
		SourceFile: m[metaFile],
	}
	if v, err := strconv.Atoi(m[metaPage]); err == nil {
		c.Page = v
	}
	if v, err := strconv.ParseBool(m[metaOCR]); err == nil {
		c.OCR = v
	}
	return c
}
