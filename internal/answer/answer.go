// Package answer turns retrieved chunks into a grounded natural-language
// answer. The synthesizer builds a prompt that restricts the model to the
// retrieved fragments and collects the distinct source files the answer
// draws on.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/moduloapp/modulo-rag/internal/index"
)

// RefusalPhrase is the exact sentence the model is instructed to reply
// with when the retrieved fragments do not contain the answer.
const RefusalPhrase = "That does not appear in the provided documents."

// NoMatchAnswer is returned without calling the model when retrieval
// found nothing.
const NoMatchAnswer = "I could not find relevant information in the indexed material."

// fragmentSeparator visually delimits fragments inside the prompt so the
// model does not blend adjacent sources.
const fragmentSeparator = "\n\n---\n\n"

// Generator produces a completion for a prompt. Implemented by
// GenkitGenerator in production and by fakes in tests.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Source identifies a document an answer was grounded on.
type Source struct {
	File    string `json:"file"`
	Subject string `json:"subject"`
}

// Answer is a synthesized response plus the documents it drew on.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Synthesizer composes grounded answers from retrieval results.
type Synthesizer struct {
	generator Generator
}

// NewSynthesizer creates a Synthesizer backed by the given generator.
func NewSynthesizer(generator Generator) *Synthesizer {
	return &Synthesizer{generator: generator}
}

// Synthesize answers the question using only the given fragments. With no
// fragments it short-circuits to NoMatchAnswer without calling the model.
// Sources are deduplicated by file, keeping first-seen (highest ranked)
// order.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []index.Result) (*Answer, error) {
	if len(results) == 0 {
		return &Answer{Text: NoMatchAnswer, Sources: nil}, nil
	}

	text, err := s.generator.Generate(ctx, buildPrompt(question, results))
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	return &Answer{
		Text:    strings.TrimSpace(text),
		Sources: collectSources(results),
	}, nil
}

// buildPrompt assembles the grounding prompt: numbered fragments followed
// by instructions that prohibit outside knowledge.
func buildPrompt(question string, results []index.Result) string {
	var b strings.Builder

	b.WriteString("You are a study assistant. Answer the question using ONLY the document fragments below.\n")
	b.WriteString("If the fragments do not contain the answer, reply exactly: ")
	b.WriteString(RefusalPhrase)
	b.WriteString("\nDo not use outside knowledge. Do not invent information.\n\n")
	b.WriteString("Document fragments:\n\n")

	for i, r := range results {
		if i > 0 {
			b.WriteString(fragmentSeparator)
		}
		if r.Chunk.Page > 0 {
			fmt.Fprintf(&b, "[Fragment %d] (file: %s, page: %d)\n%s",
				i+1, r.Chunk.SourceFile, r.Chunk.Page, r.Chunk.Content)
		} else {
			// Unpaginated source, no page to cite.
			fmt.Fprintf(&b, "[Fragment %d] (file: %s)\n%s",
				i+1, r.Chunk.SourceFile, r.Chunk.Content)
		}
	}

	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// collectSources deduplicates results by source file, preserving the rank
// order of each file's first appearance.
func collectSources(results []index.Result) []Source {
	seen := make(map[string]bool, len(results))
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		if seen[r.Chunk.SourceFile] {
			continue
		}
		seen[r.Chunk.SourceFile] = true
		sources = append(sources, Source{
			File:    r.Chunk.SourceFile,
			Subject: r.Chunk.SubjectID,
		})
	}
	return sources
}
