package rag

import (
	"context"
	"log/slog"

	"github.com/moduloapp/modulo-rag/internal/index"
)

// Retriever executes similarity search with a fixed breadth against the
// index.
type Retriever struct {
	store  Store
	topK   int
	logger *slog.Logger
}

// NewRetriever creates a Retriever returning at most topK passages per
// search.
func NewRetriever(store Store, topK int, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, topK: topK, logger: logger}
}

// Search returns the ranked passages most similar to the question. An
// empty subject searches the whole index. Propagates index.ErrUnavailable
// when nothing has been indexed yet; an empty slice is the valid
// zero-match outcome.
func (r *Retriever) Search(ctx context.Context, question, subjectID string) ([]index.Result, error) {
	results, err := r.store.Search(ctx, question, r.topK, subjectID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("retrieval complete",
		"subject", subjectID, "requested", r.topK, "returned", len(results))
	return results, nil
}
