// Package rag orchestrates the two request flows: indexing (extract,
// chunk, upsert into the subject's partition) and querying (retrieve,
// synthesize a grounded answer). It owns request validation and the
// per-file error accumulation policy: one bad file never aborts a batch.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/moduloapp/modulo-rag/internal/answer"
	"github.com/moduloapp/modulo-rag/internal/chunk"
	"github.com/moduloapp/modulo-rag/internal/extract"
	"github.com/moduloapp/modulo-rag/internal/index"
)

// Store is the index backend as the service consumes it. Implemented by
// index.Local and index.Postgres.
type Store interface {
	Upsert(ctx context.Context, subjectID string, chunks []chunk.Chunk) (*index.UpsertReport, error)
	DeletePartition(ctx context.Context, subjectID string) error
	Search(ctx context.Context, query string, k int, subjectID string) ([]index.Result, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// Extractor turns a file into ordered text units. Implemented by
// extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]extract.Unit, error)
}

// Synthesizer produces a grounded answer from retrieved passages.
// Implemented by answer.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, results []index.Result) (*answer.Answer, error)
}

// Service wires the ingestion and query pipelines together.
type Service struct {
	extractor   Extractor
	splitter    *chunk.Splitter
	store       Store
	retriever   *Retriever
	synthesizer Synthesizer
	logger      *slog.Logger
}

// NewService creates a Service. All collaborators are required except the
// logger (nil = default).
func NewService(
	extractor Extractor,
	splitter *chunk.Splitter,
	store Store,
	retriever *Retriever,
	synthesizer Synthesizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor:   extractor,
		splitter:    splitter,
		store:       store,
		retriever:   retriever,
		synthesizer: synthesizer,
		logger:      logger,
	}
}

// Index extracts, chunks and indexes the request's files into the
// subject's partition, replacing whatever the partition held before.
// Per-file failures are accumulated; Status is "error" only when zero
// files contributed chunks, in which case the existing partition is left
// untouched.
func (s *Service) Index(ctx context.Context, req IndexRequest) (*IndexResponse, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, ErrEmptySubject
	}

	resp := &IndexResponse{}
	var chunks []chunk.Chunk
	for _, path := range req.FilePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		units, err := s.extractor.Extract(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("extraction failed, skipping file", "file", path, "error", err)
			resp.Errors = append(resp.Errors, FileErrorDetail{File: path, Error: err.Error()})
			continue
		}

		fileChunks := s.splitter.Split(units, req.SubjectID, path)
		if len(fileChunks) == 0 {
			resp.Errors = append(resp.Errors, FileErrorDetail{File: path, Error: "no extractable text"})
			continue
		}
		chunks = append(chunks, fileChunks...)
	}

	if len(chunks) == 0 {
		resp.Status = StatusError
		resp.Message = "no documents could be indexed"
		return resp, nil
	}

	report, err := s.store.Upsert(ctx, req.SubjectID, chunks)
	if err != nil {
		return nil, fmt.Errorf("indexing subject %q: %w", req.SubjectID, err)
	}
	for _, fe := range report.FileErrors {
		resp.Errors = append(resp.Errors, FileErrorDetail{File: fe.File, Error: fe.Err.Error()})
	}

	resp.DocumentsProcessed = report.FilesOK
	resp.ChunksCreated = report.ChunksInserted
	if report.FilesOK == 0 {
		resp.Status = StatusError
		resp.Message = "no documents could be indexed"
		return resp, nil
	}

	resp.Status = StatusOK
	s.logger.Info("index request complete",
		"subject", req.SubjectID,
		"documents", resp.DocumentsProcessed,
		"chunks", resp.ChunksCreated,
		"skipped", len(resp.Errors))
	return resp, nil
}

// Query answers a question grounded in the indexed material. Retrieval
// and generation failures degrade to a structured error response; only a
// structurally invalid request (empty question) returns an error.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuery
	}

	results, err := s.retriever.Search(ctx, question, req.SubjectID)
	if err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			return &QueryResponse{Status: StatusError, Sources: []answer.Source{}, Message: NotIndexedMessage}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("retrieval failed", "subject", req.SubjectID, "error", err)
		return &QueryResponse{Status: StatusError, Sources: []answer.Source{}, Message: CouldNotAnswerMessage}, nil
	}

	ans, err := s.synthesizer.Synthesize(ctx, question, results)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("answer generation failed", "subject", req.SubjectID, "error", err)
		return &QueryResponse{Status: StatusError, Sources: []answer.Source{}, Message: CouldNotAnswerMessage}, nil
	}

	sources := ans.Sources
	if sources == nil {
		sources = []answer.Source{}
	}
	return &QueryResponse{Status: StatusOK, Answer: ans.Text, Sources: sources}, nil
}

// DeleteSubject removes a subject's partition. The subject is required;
// deleting a subject that was never indexed is a no-op.
func (s *Service) DeleteSubject(ctx context.Context, subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return ErrEmptySubject
	}
	return s.store.DeletePartition(ctx, subjectID)
}

// Stats reports whether anything is indexed and the total chunk count.
func (s *Service) Stats(ctx context.Context) (index.Stats, error) {
	return s.store.Stats(ctx)
}
