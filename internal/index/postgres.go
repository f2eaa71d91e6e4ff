package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/moduloapp/modulo-rag/internal/chunk"
)

// Postgres is the server-backed index, storing chunks and their embeddings
// in a pgvector table. Subjects are partitioned by the subject_id column;
// writes to one subject take a transaction-scoped advisory lock keyed on
// the subject so concurrent upserts serialize without blocking other
// subjects.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool     *pgxpool.Pool
	embedder *Embedder
	logger   *slog.Logger
}

// NewPostgres creates a Postgres index on an existing connection pool.
// The pool must have been built with PoolConfig so the vector type is
// registered on every connection.
func NewPostgres(pool *pgxpool.Pool, embedder *Embedder, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, embedder: embedder, logger: logger}
}

// PoolConfig parses the connection string and registers the pgvector type
// on each new connection.
func PoolConfig(connString string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return cfg, nil
}

// Upsert replaces the subject's partition with the given chunks.
//
// Embeddings are computed file by file before the transaction opens, so an
// embedding failure skips only that file. The delete and insert run in one
// transaction under an advisory lock on the subject: readers either see
// the previous partition or the new one, never a mix, and concurrent
// upserts for the same subject queue behind each other.
func (s *Postgres) Upsert(ctx context.Context, subjectID string, chunks []chunk.Chunk) (*UpsertReport, error) {
	report := &UpsertReport{}

	type row struct {
		c         chunk.Chunk
		embedding pgvector.Vector
	}
	var rows []row
	for _, g := range groupByFile(chunks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileRows := make([]row, 0, len(g.chunks))
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
			fileRows = append(fileRows, row{c: c, embedding: pgvector.NewVector(vec)})
		}
		if fileErr != nil {
			s.logger.Warn("embedding failed, skipping file", "file", g.file, "error", fileErr)
			report.FileErrors = append(report.FileErrors, FileError{File: g.file, Err: fileErr})
			continue
		}

		rows = append(rows, fileRows...)
		report.FilesOK++
		report.ChunksInserted += len(fileRows)
	}

	if report.FilesOK == 0 {
		// Nothing succeeded: keep the old partition intact.
		return report, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize writers per subject without blocking other subjects.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectID); err != nil {
		return nil, fmt.Errorf("acquiring partition lock for %q: %w", subjectID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM study_chunks WHERE subject_id = $1`, subjectID); err != nil {
		return nil, fmt.Errorf("deleting partition %q: %w", subjectID, err)
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO study_chunks (subject_id, source_file, page_number, ocr, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			subjectID, r.c.SourceFile, r.c.Page, r.c.OCR, r.c.Content, r.embedding,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting %d chunks into partition %q: %w", len(rows), subjectID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing upsert for partition %q: %w", subjectID, err)
	}

	s.logger.Info("partition replaced",
		"subject", subjectID, "chunks", report.ChunksInserted, "files", report.FilesOK)
	return report, nil
}

// DeletePartition removes all chunks for a subject. Deleting a subject
// with no rows is a no-op, not an error.
func (s *Postgres) DeletePartition(ctx context.Context, subjectID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM study_chunks WHERE subject_id = $1`, subjectID)
	if err != nil {
		return fmt.Errorf("deleting partition %q: %w", subjectID, err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("partition deleted", "subject", subjectID, "chunks", tag.RowsAffected())
	}
	return nil
}

// Search returns up to k chunks ranked by cosine similarity. With a
// subject the candidates are restricted to that partition; otherwise the
// whole table is searched. Returns ErrUnavailable when the table is
// empty; an empty slice is the valid zero-match outcome.
func (s *Postgres) Search(ctx context.Context, query string, k int, subjectID string) ([]Result, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM study_chunks`).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting indexed chunks: %w", err)
	}
	if total == 0 {
		return nil, ErrUnavailable
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	qvec := pgvector.NewVector(vec)

	// <=> is cosine distance; ties break on insertion order via seq.
	var rows pgx.Rows
	if subjectID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT subject_id, source_file, page_number, ocr, content,
			        1 - (embedding <=> $1) AS similarity
			 FROM study_chunks
			 WHERE subject_id = $2
			 ORDER BY embedding <=> $1, seq
			 LIMIT $3`,
			qvec, subjectID, k)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT subject_id, source_file, page_number, ocr, content,
			        1 - (embedding <=> $1) AS similarity
			 FROM study_chunks
			 ORDER BY embedding <=> $1, seq
			 LIMIT $2`,
			qvec, k)
	}
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var similarity float64
		if err := rows.Scan(&r.Chunk.SubjectID, &r.Chunk.SourceFile, &r.Chunk.Page,
			&r.Chunk.OCR, &r.Chunk.Content, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		r.Similarity = float32(similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// Stats reports whether any chunk is indexed and the total count across
// all subjects.
func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM study_chunks`).Scan(&total); err != nil {
		return Stats{}, fmt.Errorf("counting indexed chunks: %w", err)
	}
	return Stats{Indexed: total > 0, Count: total}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
