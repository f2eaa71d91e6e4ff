package rag

import (
	"errors"

	"github.com/moduloapp/modulo-rag/internal/answer"
)

// Request validation errors, rejected before any work begins.
var (
	ErrEmptyQuery   = errors.New("question must not be empty")
	ErrEmptySubject = errors.New("subject must not be empty")
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// NotIndexedMessage is returned for queries before any document has been
// indexed.
const NotIndexedMessage = "No documents have been indexed yet. Index some documents first."

// CouldNotAnswerMessage is returned when retrieval succeeded but answer
// generation failed.
const CouldNotAnswerMessage = "Could not generate an answer. Please try again."

// IndexRequest asks the service to (re)index a subject from files.
type IndexRequest struct {
	SubjectID string   `json:"subject_id"`
	FilePaths []string `json:"file_paths"`
}

// FileErrorDetail records why a single file was skipped during indexing.
type FileErrorDetail struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// IndexResponse summarizes an index request. Status is "error" only when
// zero documents succeeded; partial failures keep "ok" and list the
// skipped files.
type IndexResponse struct {
	Status             string            `json:"status"`
	DocumentsProcessed int               `json:"documents_processed"`
	ChunksCreated      int               `json:"chunks_created"`
	Errors             []FileErrorDetail `json:"errors,omitempty"`
	Message            string            `json:"message,omitempty"`
}

// QueryRequest asks a question, optionally scoped to one subject.
type QueryRequest struct {
	Question  string `json:"question"`
	SubjectID string `json:"subject_id,omitempty"`
}

// QueryResponse carries a grounded answer with its sources, or a message
// explaining why no answer was produced.
type QueryResponse struct {
	Status  string          `json:"status"`
	Answer  string          `json:"answer,omitempty"`
	Sources []answer.Source `json:"sources"`
	Message string          `json:"message,omitempty"`
}
