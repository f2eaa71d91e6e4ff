package cmd

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// answerWrapWidth keeps rendered answers readable without querying the
// terminal size.
const answerWrapWidth = 80

// renderMarkdown converts the model's Markdown answer to styled terminal
// output. Returns the original text when rendering is not possible
// (graceful degradation).
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Detect light/dark terminal
		glamour.WithWordWrap(answerWrapWidth),
	)
	if err != nil {
		return text
	}

	rendered, err := r.Render(text)
	if err != nil {
		return text
	}

	// Glamour pads the output with blank lines; the command adds its own.
	return strings.TrimSpace(rendered)
}
