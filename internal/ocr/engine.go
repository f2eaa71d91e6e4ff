// Package ocr recovers text from image-based PDFs.
//
// The package separates two concerns: rasterizing document pages (MuPDF
// via go-fitz, with a configurable upscale factor for recognition
// accuracy) and the optical recognition capability itself, which is an
// external, swappable Engine. The default Engine is Tesseract.
package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrRecognition indicates an optical recognition failure. Page-level
// occurrences are skipped with a warning; a document-level occurrence
// fails the document (never the whole ingestion batch).
var ErrRecognition = errors.New("recognition failed")

// Word is one recognized token with its confidence and position.
type Word struct {
	Text       string
	Confidence float64 // provider scale, typically 0-100
	Box        image.Rectangle
}

// Engine is the external optical recognition capability.
//
// Engines are expensive to initialize, so the Bridge constructs one
// lazily and reuses it for the process lifetime. Implementations must be
// safe for concurrent Recognize calls (serialize internally if the
// underlying library is not).
type Engine interface {
	// Recognize extracts words from a PNG-encoded page image.
	Recognize(ctx context.Context, png []byte) ([]Word, error)

	// Close releases engine resources.
	Close() error
}
