// Package app provides application initialization and dependency
// injection. Setup constructs the full ingestion and query pipeline from
// configuration: Genkit with the configured AI provider, the embedding
// capability, the index backend (embedded or PostgreSQL), the OCR-capable
// extractor and the RAG service that ties them together.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/moduloapp/modulo-rag/internal/config"
	"github.com/moduloapp/modulo-rag/internal/ocr"
	"github.com/moduloapp/modulo-rag/internal/rag"
)

// Store is the index backend as the application manages it: the rag
// service's view plus lifecycle.
type Store interface {
	rag.Store
	Close() error
}

// App is the core application container.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Store    Store
	Service  *rag.Service

	ocrBridge   *ocr.Bridge
	otelCleanup func()
}

// Close releases the index backend, the OCR engine and flushes tracing.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			firstErr = err
		}
		a.Store = nil
	}
	if a.ocrBridge != nil {
		if err := a.ocrBridge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.ocrBridge = nil
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}
	return firstErr
}
