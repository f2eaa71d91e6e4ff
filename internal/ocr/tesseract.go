package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract is an Engine backed by a local Tesseract installation.
//
// gosseract clients are not safe for concurrent use, so all calls are
// serialized on an internal mutex. The client is created once and kept
// for the process lifetime (model loading dominates per-call cost).
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a Tesseract engine for the given language codes
// (ISO 639-2/T, e.g. "spa", "eng").
func NewTesseract(languages []string) (*Tesseract, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("setting tesseract languages %v: %w", languages, err)
	}
	return &Tesseract{client: client}, nil
}

// Recognize extracts word-level results from a PNG-encoded image.
func (t *Tesseract) Recognize(ctx context.Context, png []byte) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(png); err != nil {
		return nil, fmt.Errorf("%w: setting image: %v", ErrRecognition, err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecognition, err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, Word{
			Text:       b.Word,
			Confidence: b.Confidence,
			Box:        b.Box,
		})
	}
	return words, nil
}

// Close releases the underlying Tesseract client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
