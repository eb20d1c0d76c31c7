package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/casefile-ai/docproc-be/types"
)

// RecognizedText is one page's OCR output. MeanConfidence is on the 0-100
// scale tesseract reports.
type RecognizedText struct {
	Text           string
	MeanConfidence float64
}

// OCREngine recognizes the text in a single page image.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string, languages []string) (*RecognizedText, error)
}

// NewOCREngine returns the engine implementation for a parsed engine name.
func NewOCREngine(engine types.Engine) (OCREngine, error) {
	switch engine {
	case types.EngineTesseract:
		return NewTesseractEngine(), nil
	default:
		return nil, fmt.Errorf("no implementation for OCR engine %q", engine)
	}
}

// TesseractEngine runs tesseract in-process through gosseract. A client is
// created per call: the underlying handle is not safe for concurrent use,
// and page-level parallelism already lives above the engine.
type TesseractEngine struct{}

func NewTesseractEngine() *TesseractEngine { return &TesseractEngine{} }

func (e *TesseractEngine) Name() string { return string(types.EngineTesseract) }

// Recognize OCRs one page image. The deadline is checked up front; a
// recognition already handed to tesseract cannot be interrupted.
func (e *TesseractEngine) Recognize(ctx context.Context, imagePath string, languages []string) (*RecognizedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return nil, fmt.Errorf("set language %s: %w", strings.Join(languages, "+"), err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("set image %s: %w", imagePath, err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", imagePath, err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word confidences %s: %w", imagePath, err)
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	mean := 0.0
	if len(boxes) > 0 {
		mean = sum / float64(len(boxes))
	}

	return &RecognizedText{Text: text, MeanConfidence: mean}, nil
}
