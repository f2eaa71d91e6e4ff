// Package extract turns source files into ordered text units.
//
// Extraction is format-aware: PDFs go through the embedded text layer
// first and fall back to OCR when the text layer is too thin (scanned or
// image-only documents); everything else is read as UTF-8 text. Each unit
// carries its page number (PDFs) and whether it came from the native text
// layer or from OCR, so downstream consumers can audit extraction quality.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrFileNotFound indicates the input path does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrExtraction indicates a format-specific read error. The file is
	// skipped; the rest of the batch continues.
	ErrExtraction = errors.New("extraction failed")

	// ErrUnsupportedFormat indicates the last-resort plain-text read also
	// failed (the file is not valid UTF-8 text).
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Provenance values for Unit.Via.
const (
	// ViaNative marks text obtained from a document's embedded text layer.
	ViaNative = "native"

	// ViaOCR marks text obtained through optical recognition.
	ViaOCR = "ocr"
)

// Unit is one extracted, ordered piece of a document (e.g. one PDF page).
type Unit struct {
	// Content is the raw extracted text.
	Content string

	// Page is the 1-based page number for paginated formats, 0 otherwise.
	Page int

	// Via records how the text was obtained: ViaNative or ViaOCR.
	Via string
}

// Recognizer is the OCR fallback path for image-based PDFs.
// Implemented by ocr.Bridge; defined here by the consumer.
type Recognizer interface {
	// RecognizePDF rasterizes the document's pages and returns one unit
	// per page with non-empty recognized text.
	RecognizePDF(ctx context.Context, path string) ([]Unit, error)
}

// textExtensions are extensions read as plain UTF-8 text. Anything not
// listed here (and not .pdf) still gets a permissive UTF-8 read; the set
// exists for documentation and for skipping heuristics upstream.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
	".py": true, ".js": true, ".ts": true, ".go": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".sh": true,
	".yaml": true, ".yml": true, ".json": true, ".xml": true,
	".html": true, ".css": true, ".sql": true,
}

// Extractor converts file paths into ordered text units.
//
// Extractor is safe for concurrent use: it holds no per-request state and
// the OCR bridge serializes its own engine access.
type Extractor struct {
	pdf     pdfOpener
	ocr     Recognizer
	minText int // native PDF character threshold that triggers OCR
	logger  *slog.Logger
}

// New creates an Extractor.
//
// ocr may be nil, in which case image-based PDFs fail with ErrExtraction
// instead of falling back to optical recognition. minText is the trimmed
// character count below which a PDF's native text layer is considered
// insufficient.
func New(ocr Recognizer, minText int, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		pdf:     fitzOpener{},
		ocr:     ocr,
		minText: minText,
		logger:  logger,
	}
}

// Extract reads the file at path and returns its text units in document order.
//
// Dispatch is by extension: .pdf takes the PDF path, everything else is a
// permissive UTF-8 read. Returns ErrFileNotFound if the path does not
// exist, ErrUnsupportedFormat if the fallback text read finds non-UTF-8
// content, and ErrExtraction for format-specific failures.
func (e *Extractor) Extract(ctx context.Context, path string) ([]Unit, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrExtraction, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrExtraction, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return e.extractPDF(ctx, path)
	}

	// Known text-like extensions and the permissive default share the
	// same code path: a strict UTF-8 read.
	return e.extractText(path, ext)
}

// extractText reads the whole file as one UTF-8 text unit.
func (e *Extractor) extractText(path, ext string) ([]Unit, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-supplied ingestion path by design
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrExtraction, path, err)
	}

	if !utf8.Valid(data) {
		// The permissive default already tried; nothing left to try.
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text (extension %q)", ErrUnsupportedFormat, path, ext)
	}

	if !textExtensions[ext] && ext != "" {
		e.logger.Debug("unknown extension read as plain text", "path", path, "extension", ext)
	}

	return []Unit{{Content: string(data), Via: ViaNative}}, nil
}

// extractPDF extracts the PDF text layer page by page. If the total
// trimmed text across all pages is below the threshold, the document is
// treated as image-based and the whole native result is replaced by OCR
// output (no merge).
func (e *Extractor) extractPDF(ctx context.Context, path string) ([]Unit, error) {
	doc, err := e.pdf.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening PDF %s: %v", ErrExtraction, path, err)
	}
	defer func() {
		if cerr := doc.close(); cerr != nil {
			e.logger.Warn("closing PDF document", "path", path, "error", cerr)
		}
	}()

	pages := doc.pageCount()
	units := make([]Unit, 0, pages)
	total := 0
	for i := 0; i < pages; i++ {
		text, err := doc.text(i)
		if err != nil {
			return nil, fmt.Errorf("%w: reading page %d of %s: %v", ErrExtraction, i+1, path, err)
		}
		total += len(strings.TrimSpace(text))
		units = append(units, Unit{Content: text, Page: i + 1, Via: ViaNative})
	}

	if total >= e.minText {
		return units, nil
	}

	// Too little embedded text: the document is likely scanned.
	if e.ocr == nil {
		return nil, fmt.Errorf("%w: %s has %d characters of embedded text (threshold %d) and OCR is disabled",
			ErrExtraction, path, total, e.minText)
	}

	e.logger.Info("PDF text layer below threshold, falling back to OCR",
		"path", path, "native_chars", total, "threshold", e.minText)

	recognized, err := e.ocr.RecognizePDF(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("OCR fallback for %s: %w", path, err)
	}
	if len(recognized) == 0 {
		return nil, fmt.Errorf("%w: OCR recognized no text in %s", ErrExtraction, path)
	}
	return recognized, nil
}
