package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/casefile-ai/docproc-be/utils"
)

// DefaultRasterDPI is the render resolution for OCR. 300 DPI is the floor
// tesseract needs for small print in scanned filings.
const DefaultRasterDPI = 300

// PDFConverter exposes the PDF operations the OCR pipeline needs. The
// production implementation shells out to poppler and uses pdfcpu for
// structural checks; tests substitute fakes.
type PDFConverter interface {
	// PageCount returns the number of pages in the document.
	PageCount(path string) (int, error)
	// ExtractTextLayer returns the embedded text layer, if any.
	ExtractTextLayer(ctx context.Context, path string) (string, error)
	// RasterizePages renders every page to an image and returns the image
	// paths in page order plus a cleanup func for the scratch directory.
	RasterizePages(ctx context.Context, path string, dpi int) ([]string, func(), error)
}

// PopplerConverter implements PDFConverter with pdftotext and pdftoppm.
type PopplerConverter struct{}

func NewPopplerConverter() *PopplerConverter { return &PopplerConverter{} }

func (c *PopplerConverter) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

func (c *PopplerConverter) ExtractTextLayer(ctx context.Context, path string) (string, error) {
	// "-" sends the extracted text to stdout
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext %s: %w", filepath.Base(path), err)
	}
	return string(out), nil
}

func (c *PopplerConverter) RasterizePages(ctx context.Context, path string, dpi int) ([]string, func(), error) {
	if dpi <= 0 {
		dpi = DefaultRasterDPI
	}
	scratch := "raster-" + utils.SanitizeFilename(utils.FileNameWithoutExt(path)) + "-*"
	dir, err := os.MkdirTemp("", scratch)
	if err != nil {
		return nil, nil, fmt.Errorf("scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-r", strconv.Itoa(dpi), "-png", path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(string(out)))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if len(images) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm %s produced no pages", filepath.Base(path))
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order
	sort.Strings(images)
	return images, cleanup, nil
}

// ValidatePDF runs a structural check before a document enters the queue,
// so broken uploads fail fast instead of burning OCR retries.
func ValidatePDF(path string) error {
	if err := api.ValidateFile(path, nil); err != nil {
		return fmt.Errorf("invalid pdf %s: %w", filepath.Base(path), err)
	}
	return nil
}

// OptimizePDF rewrites a PDF in place, dropping redundant objects. Scanned
// uploads shrink considerably before archival.
func OptimizePDF(inPath, outPath string) error {
	if err := api.OptimizeFile(inPath, outPath, nil); err != nil {
		return fmt.Errorf("optimize pdf %s: %w", filepath.Base(inPath), err)
	}
	return nil
}

var textReplacements = []struct{ from, to string }{
	{"\x00", ""},    // null bytes from broken encoders
	{"\ufffd", ""},  // unicode replacement rune
	{"\x1b", ""},    // stray escape characters
	{"\r\n", "\n"},  // windows line endings, before bare \r
	{"\r", "\n"},    // bare carriage returns
	{"\f", "\n"},    // form feed between pages
	{"\u00a0", " "}, // no-break space
	{"\uf8ff", ""},  // apple logo, shows up in exported contracts
}

// cleanExtractedText strips the control bytes and artifacts that pdftotext
// and tesseract leave behind in scanned filings, and collapses the space
// runs layout extraction produces.
func cleanExtractedText(text string) string {
	for _, r := range textReplacements {
		text = strings.ReplaceAll(text, r.from, r.to)
	}
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return strings.TrimSpace(text)
}
