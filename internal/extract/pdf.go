package extract

import (
	"github.com/gen2brain/go-fitz"
)

// pdfOpener abstracts PDF parsing so tests can inject synthetic documents.
// The production implementation is MuPDF via go-fitz.
type pdfOpener interface {
	open(path string) (pdfDoc, error)
}

// pdfDoc is a minimal view of an open PDF document. Pages are 0-based.
type pdfDoc interface {
	pageCount() int
	text(page int) (string, error)
	close() error
}

// fitzOpener opens PDFs with MuPDF.
type fitzOpener struct{}

func (fitzOpener) open(path string) (pdfDoc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzDoc{doc: doc}, nil
}

type fitzDoc struct {
	doc *fitz.Document
}

func (d *fitzDoc) pageCount() int { return d.doc.NumPage() }

func (d *fitzDoc) text(page int) (string, error) { return d.doc.Text(page) }

func (d *fitzDoc) close() error { return d.doc.Close() }
