// Package chunk splits extracted text units into bounded, overlapping
// segments suitable for embedding and retrieval.
//
// The splitter is deterministic: identical input and configuration always
// produce identical chunks. Splits prefer natural boundaries (paragraph
// break, line break, sentence end, space) and only cut mid-token when no
// better boundary exists within the size budget. Adjacent chunks share
// trailing/leading context so retrieval recall survives chunk boundaries.
package chunk

import (
	"strings"

	"github.com/moduloapp/modulo-rag/internal/extract"
)

// separators are boundary candidates in priority order. The empty string
// is the character-level last resort (split at rune boundaries, never
// inside a UTF-8 sequence).
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a bounded span of text with its provenance metadata.
// Chunks are immutable once created; after ingestion they are owned
// exclusively by the index.
type Chunk struct {
	Content    string
	SubjectID  string
	SourceFile string
	Page       int  // 1-based page number, 0 when the source is unpaginated
	OCR        bool // true when the text came through optical recognition
}

// Splitter splits text into chunks of at most Size characters with
// Overlap characters of shared context between adjacent chunks.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a Splitter. size must be positive and overlap must
// be smaller than size (enforced by config validation upstream).
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{size: size, overlap: overlap}
}

// Split chunks every unit and propagates the unit's metadata unmodified
// to each derived chunk. Whitespace-only pieces are dropped.
func (s *Splitter) Split(units []extract.Unit, subjectID, sourceFile string) []Chunk {
	var chunks []Chunk
	for _, u := range units {
		for _, piece := range s.splitText(u.Content, separators) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:    piece,
				SubjectID:  subjectID,
				SourceFile: sourceFile,
				Page:       u.Page,
				OCR:        u.Via == extract.ViaOCR,
			})
		}
	}
	return chunks
}

// splitText recursively splits text at the highest-priority separator
// present, merging the resulting pieces back into chunks within the size
// budget. A piece still over budget is re-split with the remaining
// lower-priority separators; with no separators left it is emitted as one
// oversized chunk rather than corrupted by an unsafe cut.
func (s *Splitter) splitText(text string, seps []string) []string {
	sep := ""
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	pieces := splitKeepSep(text, sep)

	var out []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			out = append(out, s.merge(pending)...)
			pending = nil
		}
	}

	for _, piece := range pieces {
		if len(piece) < s.size {
			pending = append(pending, piece)
			continue
		}
		flush()
		if len(rest) == 0 {
			// Atomic boundary unit larger than the budget.
			out = append(out, piece)
			continue
		}
		out = append(out, s.splitText(piece, rest)...)
	}
	flush()
	return out
}

// merge accumulates pieces into chunks of at most size characters. When a
// chunk is emitted, pieces are dropped from the front of the window until
// at most overlap characters remain; those become the shared prefix of
// the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, piece := range pieces {
		if total+len(piece) > s.size && total > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			for total > s.overlap || (total+len(piece) > s.size && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += len(piece)
	}

	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// splitKeepSep splits text by sep, keeping the separator attached to the
// preceding piece so no characters are lost. An empty separator splits
// into individual runes.
func splitKeepSep(text, sep string) []string {
	if sep == "" {
		runes := []rune(text)
		pieces := make([]string, 0, len(runes))
		for _, r := range runes {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}
