package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/moduloapp/modulo-rag/internal/extract"
)

// renderDPI is the base rendering resolution before the upscale factor.
// PDF user space is 72 dpi, so scale 2.0 renders at 144 dpi.
const renderDPI = 72.0

// Bridge rasterizes PDF pages and runs them through an optical
// recognition Engine, producing one text unit per page.
//
// The Engine is constructed lazily on first use, exactly once, even when
// multiple ingestion requests race (sync.Once). Page-level rendering or
// recognition errors skip the page and continue; the document fails only
// when no page yields text.
type Bridge struct {
	newEngine func() (Engine, error)
	scale     float64
	logger    *slog.Logger

	once    sync.Once
	engine  Engine
	initErr error

	raster rasterizer
}

// NewBridge creates a Bridge. newEngine is invoked at most once per
// process, on the first document that needs OCR. scale is the page
// upscale factor (2.0 doubles the rendered resolution).
func NewBridge(newEngine func() (Engine, error), scale float64, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		newEngine: newEngine,
		scale:     scale,
		logger:    logger,
		raster:    fitzRasterizer{},
	}
}

// Close releases the engine if it was ever initialized. The once pins
// the engine state: a Close racing a first RecognizePDF either sees the
// fully initialized engine or wins and leaves the bridge unusable.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		b.initErr = errors.New("recognition engine closed before first use")
	})
	if b.engine == nil {
		return nil
	}
	err := b.engine.Close()
	b.engine = nil
	return err
}

// RecognizePDF renders each page of the PDF at the configured upscale
// factor and recognizes its text. Pages yielding no text are dropped, not
// emitted as empty units. Implements extract.Recognizer.
func (b *Bridge) RecognizePDF(ctx context.Context, path string) ([]extract.Unit, error) {
	engine, err := b.engineOnce()
	if err != nil {
		return nil, fmt.Errorf("%w: initializing engine: %v", ErrRecognition, err)
	}

	doc, err := b.raster.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for rasterization: %v", ErrRecognition, path, err)
	}
	defer func() {
		if cerr := doc.close(); cerr != nil {
			b.logger.Warn("closing rasterizer document", "path", path, "error", cerr)
		}
	}()

	pages := doc.pageCount()
	units := make([]extract.Unit, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.renderPage(i, renderDPI*b.scale)
		if err != nil {
			b.logger.Warn("rendering page failed, skipping",
				"path", path, "page", i+1, "error", err)
			continue
		}

		words, err := engine.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Warn("recognition failed, skipping page",
				"path", path, "page", i+1, "error", err)
			continue
		}

		text := joinWords(words)
		if text == "" {
			continue
		}
		units = append(units, extract.Unit{Content: text, Page: i + 1, Via: extract.ViaOCR})
	}

	b.logger.Info("OCR completed", "path", path, "pages", pages, "pages_with_text", len(units))
	return units, nil
}

// engineOnce initializes the recognition engine at most once.
// A failed initialization is sticky: retrying on a broken installation
// would pay the full model-load cost on every document.
func (b *Bridge) engineOnce() (Engine, error) {
	b.once.Do(func() {
		b.logger.Info("initializing OCR engine (first use)")
		b.engine, b.initErr = b.newEngine()
	})
	return b.engine, b.initErr
}

// joinWords concatenates recognized words with single spaces.
func joinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// rasterizer abstracts page rendering so tests can inject fakes.
type rasterizer interface {
	open(path string) (rasterDoc, error)
}

type rasterDoc interface {
	pageCount() int
	// renderPage returns the page as PNG bytes at the given DPI. Pages are 0-based.
	renderPage(page int, dpi float64) ([]byte, error)
	close() error
}

// fitzRasterizer renders pages with MuPDF.
type fitzRasterizer struct{}

func (fitzRasterizer) open(path string) (rasterDoc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzRasterDoc{doc: doc}, nil
}

type fitzRasterDoc struct {
	doc *fitz.Document
}

func (d *fitzRasterDoc) pageCount() int { return d.doc.NumPage() }

func (d *fitzRasterDoc) renderPage(page int, dpi float64) ([]byte, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding page %d: %w", page+1, err)
	}
	return buf.Bytes(), nil
}

func (d *fitzRasterDoc) close() error { return d.doc.Close() }
