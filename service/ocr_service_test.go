package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casefile-ai/docproc-be/types"
)

type fakeConverter struct {
	pages     int
	textLayer string
	layerErr  error
	rasterErr error
}

func (f *fakeConverter) PageCount(path string) (int, error) { return f.pages, nil }

func (f *fakeConverter) ExtractTextLayer(ctx context.Context, path string) (string, error) {
	return f.textLayer, f.layerErr
}

func (f *fakeConverter) RasterizePages(ctx context.Context, path string, dpi int) ([]string, func(), error) {
	if f.rasterErr != nil {
		return nil, nil, f.rasterErr
	}
	images := make([]string, f.pages)
	for i := range images {
		images[i] = fmt.Sprintf("%s.page-%02d.png", path, i+1)
	}
	return images, func() {}, nil
}

type fakePage struct {
	text  string
	conf  float64
	err   error
	delay time.Duration
}

// fakeEngine serves canned pages keyed by image path; unknown paths fall
// back to fallback when set.
type fakeEngine struct {
	mu       sync.Mutex
	pages    map[string]fakePage
	fallback *fakePage
	calls    int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, imagePath string, languages []string) (*RecognizedText, error) {
	f.mu.Lock()
	f.calls++
	page, ok := f.pages[imagePath]
	f.mu.Unlock()
	if !ok && f.fallback != nil {
		page = *f.fallback
	}

	if page.delay > 0 {
		select {
		case <-time.After(page.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page.err != nil {
		return nil, page.err
	}
	return &RecognizedText{Text: page.text, MeanConfidence: page.conf}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOCRService(t *testing.T, conv PDFConverter, engine OCREngine, opts OCROptions) *OCRService {
	t.Helper()
	pool := NewWorkerPool(4)
	t.Cleanup(pool.Shutdown)
	return NewOCRService(conv, engine, pool, NewMetricsService(0), testLogger(), opts)
}

func TestDirectExtractionSkipsOCR(t *testing.T) {
	conv := &fakeConverter{
		pages:     3,
		textLayer: strings.Repeat("Contrato de arrendamiento entre las partes. ", 5),
	}
	engine := &fakeEngine{}
	svc := newTestOCRService(t, conv, engine, OCROptions{Languages: []string{"spa"}})

	res, err := svc.ProcessDocument(context.Background(), "contrato.pdf")
	require.NoError(t, err)
	assert.Equal(t, types.MethodDirectExtraction, res.Method)
	assert.Equal(t, float64(99), res.Confidence)
	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 3, res.SuccessfulPages)
	assert.Equal(t, "spa", res.Language)
	assert.Equal(t, types.StatusDone, res.Status())
	assert.Zero(t, engine.callCount(), "text layer hit must not invoke the engine")
}

func TestShortTextLayerFallsBackToOCR(t *testing.T) {
	conv := &fakeConverter{pages: 3, textLayer: "id 123"}
	engine := &fakeEngine{pages: map[string]fakePage{
		"scan.pdf.page-01.png": {text: "first page text", conf: 90},
		"scan.pdf.page-02.png": {text: "second page text", conf: 80},
		"scan.pdf.page-03.png": {text: "third page text", conf: 70},
	}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, types.MethodParallelOCR, res.Method)
	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 3, res.SuccessfulPages)
	assert.Empty(t, res.FailedPages)
	assert.InDelta(t, 80.0, res.Confidence, 0.001)
	assert.Equal(t, 3, engine.callCount())

	// pages aggregate in page order regardless of completion order
	p1 := strings.Index(res.Text, "--- Page 1 ---")
	p2 := strings.Index(res.Text, "--- Page 2 ---")
	p3 := strings.Index(res.Text, "--- Page 3 ---")
	require.True(t, p1 >= 0 && p2 > p1 && p3 > p2, "markers out of order: %q", res.Text)
	assert.Contains(t, res.Text, "--- Page 2 ---\nsecond page text")
}

func TestTextLayerErrorFallsBackToOCR(t *testing.T) {
	conv := &fakeConverter{pages: 1, layerErr: errors.New("pdftotext exited 1")}
	engine := &fakeEngine{fallback: &fakePage{text: "recovered by ocr", conf: 85}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, types.MethodParallelOCR, res.Method)
	assert.Equal(t, 1, res.SuccessfulPages)
	assert.Contains(t, res.Text, "recovered by ocr")
}

func TestPartialPageFailure(t *testing.T) {
	conv := &fakeConverter{pages: 3, textLayer: ""}
	engine := &fakeEngine{pages: map[string]fakePage{
		"doc.pdf.page-01.png": {text: "page one", conf: 90},
		"doc.pdf.page-02.png": {err: errors.New("scanner jam")},
		"doc.pdf.page-03.png": {text: "page three", conf: 70},
	}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "doc.pdf")
	require.NoError(t, err, "one good page keeps the document alive")
	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 2, res.SuccessfulPages)
	assert.Equal(t, []int{2}, res.FailedPages)
	assert.Equal(t, types.StatusPartialFailure, res.Status())
	assert.InDelta(t, 80.0, res.Confidence, 0.001, "confidence averages successful pages only")
	assert.Contains(t, res.Text, "--- Page 2 ---\n[OCR FAILED: page 2 recognition failed: scanner jam]")
}

func TestFailureMarkerTruncatesLongErrors(t *testing.T) {
	longErr := errors.New(strings.Repeat("x", 300))
	conv := &fakeConverter{pages: 2, textLayer: ""}
	engine := &fakeEngine{pages: map[string]fakePage{
		"doc.pdf.page-01.png": {err: longErr},
		"doc.pdf.page-02.png": {text: "fine", conf: 95},
	}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "doc.pdf")
	require.NoError(t, err)

	full := (&types.PageRecognitionError{Page: 1, Err: longErr}).Error()
	assert.Contains(t, res.Text, "[OCR FAILED: "+full[:maxMarkerErrorChars]+"]")
	assert.NotContains(t, res.Text, full)
}

func TestAllPagesFailed(t *testing.T) {
	conv := &fakeConverter{pages: 3, textLayer: ""}
	engine := &fakeEngine{fallback: &fakePage{err: errors.New("blank page")}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "doc.pdf")
	assert.Nil(t, res)
	require.True(t, types.IsAllPagesFailed(err))

	var apf *types.AllPagesFailedError
	require.ErrorAs(t, err, &apf)
	assert.Equal(t, 3, apf.PageCount)
	assert.Equal(t, "doc.pdf", apf.DocumentID)
	assert.ErrorContains(t, apf.FirstErr, "blank page")
}

func TestPageTimeoutFailsOnlyThatPage(t *testing.T) {
	conv := &fakeConverter{pages: 3, textLayer: ""}
	engine := &fakeEngine{pages: map[string]fakePage{
		"slow.pdf.page-01.png": {text: "quick", conf: 90},
		"slow.pdf.page-02.png": {text: "never returned", conf: 90, delay: 500 * time.Millisecond},
		"slow.pdf.page-03.png": {text: "quick", conf: 90},
	}}
	svc := newTestOCRService(t, conv, engine, OCROptions{PageTimeout: 20 * time.Millisecond})

	res, err := svc.ProcessDocument(context.Background(), "slow.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessfulPages)
	assert.Equal(t, []int{2}, res.FailedPages)
	assert.Contains(t, res.Text, "context deadline exceeded")
	assert.NotContains(t, res.Text, "never returned")
}

func TestUnsupportedFormat(t *testing.T) {
	svc := newTestOCRService(t, &fakeConverter{}, &fakeEngine{}, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "notes.docx")
	assert.Nil(t, res)
	require.True(t, types.IsUnsupportedFormat(err))

	var uf *types.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Equal(t, ".docx", uf.Ext)
}

func TestImageOCR(t *testing.T) {
	engine := &fakeEngine{pages: map[string]fakePage{
		"scan.png": {text: "cedula de identidad", conf: 88},
	}}
	svc := newTestOCRService(t, &fakeConverter{}, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "scan.png")
	require.NoError(t, err)
	assert.Equal(t, types.MethodImageOCR, res.Method)
	assert.Equal(t, 1, res.PagesProcessed)
	assert.Equal(t, 1, res.SuccessfulPages)
	assert.InDelta(t, 88.0, res.Confidence, 0.001)
	assert.Equal(t, "cedula de identidad", res.Text)
}

func TestImageOCREngineError(t *testing.T) {
	engine := &fakeEngine{fallback: &fakePage{err: errors.New("no text found")}}
	svc := newTestOCRService(t, &fakeConverter{}, engine, OCROptions{})

	res, err := svc.ProcessDocument(context.Background(), "scan.jpg")
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "no text found")
}

func TestProcessBatchPreservesInputOrder(t *testing.T) {
	conv := &fakeConverter{pages: 1, textLayer: strings.Repeat("usable text layer ", 5)}
	engine := &fakeEngine{fallback: &fakePage{text: "image text", conf: 75}}
	svc := newTestOCRService(t, conv, engine, OCROptions{})

	outcomes := svc.ProcessBatch(context.Background(), []string{"a.pdf", "bad.docx", "c.png"})
	require.Len(t, outcomes, 3)

	assert.Equal(t, "a.pdf", outcomes[0].Path)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, types.MethodDirectExtraction, outcomes[0].Result.Method)

	assert.Equal(t, "bad.docx", outcomes[1].Path)
	assert.True(t, types.IsUnsupportedFormat(outcomes[1].Err))
	assert.Nil(t, outcomes[1].Result)

	assert.Equal(t, "c.png", outcomes[2].Path)
	require.NoError(t, outcomes[2].Err)
	assert.Equal(t, types.MethodImageOCR, outcomes[2].Result.Method)
}

// gaugeEngine tracks how many Recognize calls run at once.
type gaugeEngine struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (g *gaugeEngine) Name() string { return "gauge" }

func (g *gaugeEngine) Recognize(ctx context.Context, imagePath string, languages []string) (*RecognizedText, error) {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
	return &RecognizedText{Text: "page text", MeanConfidence: 90}, nil
}

func TestSemaphoreCapsConcurrentPages(t *testing.T) {
	conv := &fakeConverter{pages: 6, textLayer: ""}
	engine := &gaugeEngine{}
	pool := NewWorkerPool(8)
	t.Cleanup(pool.Shutdown)
	svc := NewOCRService(conv, engine, pool, NewMetricsService(0), testLogger(),
		OCROptions{MaxConcurrentPages: 2})

	res, err := svc.ProcessDocument(context.Background(), "big.pdf")
	require.NoError(t, err)
	assert.Equal(t, 6, res.SuccessfulPages)
	assert.LessOrEqual(t, engine.peak, 2, "semaphore must cap in-flight pages")
}
