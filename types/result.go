package types

import "fmt"

// Engine selects the OCR backend. Closed set: construction goes through
// ParseEngine so free-form strings never reach the pipeline.
type Engine string

const (
	EngineTesseract Engine = "tesseract"
)

// ParseEngine validates an engine name from config or a CLI flag.
func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EngineTesseract, "":
		return EngineTesseract, nil
	default:
		return "", fmt.Errorf("unknown ocr engine %q", s)
	}
}

// Extraction methods reported in OCRResult.Method.
const (
	MethodDirectExtraction = "direct_extraction"
	MethodParallelOCR      = "parallel_ocr"
	MethodImageOCR         = "async_ocr"
)

// PageResult is the outcome of recognizing one rasterized page.
// Exactly one exists per page; Err is set when the page failed.
type PageResult struct {
	Index      int // 0-based rasterized page index
	Text       string
	Confidence float64
	Err        error
}

// OK reports whether the page was recognized.
func (r PageResult) OK() bool { return r.Err == nil }

// OCRResult is the aggregated outcome of processing one document.
type OCRResult struct {
	Text            string  `json:"extracted_text"`
	Confidence      float64 `json:"ocr_confidence"`
	Language        string  `json:"detected_language"`
	PagesProcessed  int     `json:"pages_processed"`
	SuccessfulPages int     `json:"successful_pages"`
	FailedPages     []int   `json:"failed_pages,omitempty"` // 1-based page numbers
	Method          string  `json:"method"`
}

// Status derives the document status from the page counts.
func (r *OCRResult) Status() DocumentStatus {
	switch {
	case r.SuccessfulPages == 0:
		return StatusFailed
	case r.SuccessfulPages < r.PagesProcessed:
		return StatusPartialFailure
	default:
		return StatusDone
	}
}

// DocumentOutcome pairs one input of a multi-document batch with its result.
type DocumentOutcome struct {
	Path   string     `json:"path"`
	Result *OCRResult `json:"result,omitempty"`
	Err    error      `json:"-"`
}

// Embedding result statuses.
const (
	EmbedStatusSuccess         = "success"
	EmbedStatusAlreadyEmbedded = "already_embedded"
)

// EmbedDocumentResult reports what embedDocument stored.
type EmbedDocumentResult struct {
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	ChunksEmbedded int     `json:"chunks_embedded"`
	TotalChunks    int     `json:"total_chunks"`
	ElapsedSeconds float64 `json:"processing_time_seconds"`
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
}

// Classification is the AI-assigned category for a document.
type Classification struct {
	Category   string  `bson:"category" json:"category"`
	Summary    string  `bson:"summary" json:"summary"`
	Confidence float64 `bson:"confidence" json:"confidence"`
}

// DocumentCategories is the closed set of categories the classifier may
// assign.
var DocumentCategories = []string{
	"contract",
	"court_filing",
	"correspondence",
	"invoice",
	"identity_document",
	"evidence",
	"regulatory",
	"other",
}
