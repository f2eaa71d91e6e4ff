package ocr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/moduloapp/modulo-rag/internal/extract"
	"github.com/moduloapp/modulo-rag/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine recognizes one word per page, keyed by the page marker byte
// the fake rasterizer emits.
type fakeEngine struct {
	words  map[byte][]Word
	errOn  map[byte]error
	closed bool
}

func (e *fakeEngine) Recognize(_ context.Context, png []byte) ([]Word, error) {
	key := png[0]
	if err := e.errOn[key]; err != nil {
		return nil, err
	}
	return e.words[key], nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

// fakeRasterDoc renders each page as a single marker byte.
type fakeRasterDoc struct {
	pages    int
	renderOn map[int]error
}

func (d *fakeRasterDoc) pageCount() int { return d.pages }

func (d *fakeRasterDoc) renderPage(page int, _ float64) ([]byte, error) {
	if err := d.renderOn[page]; err != nil {
		return nil, err
	}
	return []byte{byte(page)}, nil
}

func (d *fakeRasterDoc) close() error { return nil }

type fakeRasterizer struct {
	doc *fakeRasterDoc
	err error
}

func (r fakeRasterizer) open(string) (rasterDoc, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.doc, nil
}

func newTestBridge(engine Engine, doc *fakeRasterDoc) *Bridge {
	b := NewBridge(func() (Engine, error) { return engine, nil }, 2.0, log.NewNop())
	b.raster = fakeRasterizer{doc: doc}
	return b
}

func TestRecognizePDF_OneUnitPerPage(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{words: map[byte][]Word{
		0: {{Text: "Hello"}, {Text: "world"}},
		1: {{Text: "second"}, {Text: " page "}},
	}}
	b := newTestBridge(engine, &fakeRasterDoc{pages: 2})

	units, err := b.RecognizePDF(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Content != "Hello world" || units[0].Page != 1 || units[0].Via != extract.ViaOCR {
		t.Errorf("unit 0 = %+v", units[0])
	}
	if units[1].Content != "second page" || units[1].Page != 2 {
		t.Errorf("unit 1 = %+v", units[1])
	}
}

func TestRecognizePDF_EmptyPagesDropped(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{words: map[byte][]Word{
		0: {{Text: "only"}},
		1: {},                             // nothing recognized
		2: {{Text: "  "}, {Text: "\t"}},   // whitespace only
		3: {{Text: "and"}, {Text: "last"}},
	}}
	b := newTestBridge(engine, &fakeRasterDoc{pages: 4})

	units, err := b.RecognizePDF(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2 (empty pages dropped, not emitted)", len(units))
	}
	if units[0].Page != 1 || units[1].Page != 4 {
		t.Errorf("pages = %d, %d; want 1, 4", units[0].Page, units[1].Page)
	}
}

func TestRecognizePDF_PageErrorsSkipped(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		words: map[byte][]Word{0: {{Text: "ok"}}, 2: {{Text: "fine"}}},
		errOn: map[byte]error{1: errors.New("recognition blew up")},
	}
	doc := &fakeRasterDoc{pages: 4, renderOn: map[int]error{3: errors.New("render failed")}}
	b := newTestBridge(engine, doc)

	units, err := b.RecognizePDF(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2 (failed pages skipped, batch continues)", len(units))
	}
}

func TestRecognizePDF_Cancellation(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{words: map[byte][]Word{0: {{Text: "x"}}}}
	b := newTestBridge(engine, &fakeRasterDoc{pages: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.RecognizePDF(ctx, "scan.pdf")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestEngineInit_OnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	var inits atomic.Int32
	engine := &fakeEngine{words: map[byte][]Word{0: {{Text: "x"}}}}
	b := NewBridge(func() (Engine, error) {
		inits.Add(1)
		return engine, nil
	}, 2.0, log.NewNop())
	b.raster = fakeRasterizer{doc: &fakeRasterDoc{pages: 1}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.RecognizePDF(context.Background(), "scan.pdf"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := inits.Load(); got != 1 {
		t.Errorf("engine initialized %d times, want exactly 1", got)
	}
}

func TestEngineInit_FailureIsSticky(t *testing.T) {
	t.Parallel()

	var inits atomic.Int32
	b := NewBridge(func() (Engine, error) {
		inits.Add(1)
		return nil, errors.New("tesseract not installed")
	}, 2.0, log.NewNop())
	b.raster = fakeRasterizer{doc: &fakeRasterDoc{pages: 1}}

	for i := 0; i < 3; i++ {
		if _, err := b.RecognizePDF(context.Background(), "scan.pdf"); !errors.Is(err, ErrRecognition) {
			t.Errorf("call %d: got %v, want ErrRecognition", i, err)
		}
	}
	if got := inits.Load(); got != 1 {
		t.Errorf("failed initialization retried %d times, want exactly 1 attempt", got)
	}
}

func TestClose_ReleasesInitializedEngine(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{words: map[byte][]Word{0: {{Text: "x"}}}}
	b := newTestBridge(engine, &fakeRasterDoc{pages: 1})

	if _, err := b.RecognizePDF(context.Background(), "scan.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if !engine.closed {
		t.Error("engine not closed")
	}
	// Second Close is a no-op.
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestClose_BeforeFirstUse(t *testing.T) {
	t.Parallel()

	var inits atomic.Int32
	b := NewBridge(func() (Engine, error) {
		inits.Add(1)
		return &fakeEngine{}, nil
	}, 2.0, log.NewNop())
	b.raster = fakeRasterizer{doc: &fakeRasterDoc{pages: 1}}

	if err := b.Close(); err != nil {
		t.Fatalf("Close before use = %v", err)
	}
	if got := inits.Load(); got != 0 {
		t.Errorf("Close initialized the engine %d times, want 0", got)
	}
	if _, err := b.RecognizePDF(context.Background(), "scan.pdf"); !errors.Is(err, ErrRecognition) {
		t.Errorf("RecognizePDF after Close = %v, want ErrRecognition", err)
	}
}

func TestJoinWords(t *testing.T) {
	t.Parallel()

	got := joinWords([]Word{{Text: " Hello "}, {Text: ""}, {Text: "  "}, {Text: "world"}})
	if got != "Hello world" {
		t.Errorf("joinWords = %q, want %q", got, "Hello world")
	}
	if joinWords(nil) != "" {
		t.Error("joinWords(nil) should be empty")
	}
}
