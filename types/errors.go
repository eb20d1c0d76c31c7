package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PageRecognitionError reports one failed page. Recoverable at the document
// level: the aggregate still succeeds while any sibling page succeeds.
type PageRecognitionError struct {
	Page int // 1-based page number
	Err  error
}

func (e *PageRecognitionError) Error() string {
	return fmt.Sprintf("page %d recognition failed: %v", e.Page, e.Err)
}

func (e *PageRecognitionError) Unwrap() error { return e.Err }

// AllPagesFailedError is fatal for the whole document. It carries the counts
// and the first page error for alerting; no partial text is valid.
type AllPagesFailedError struct {
	DocumentID string
	PageCount  int
	FirstErr   error
}

func (e *AllPagesFailedError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("document %s: all %d pages failed OCR, first error: %v", e.DocumentID, e.PageCount, e.FirstErr)
	}
	return fmt.Sprintf("all %d pages failed OCR, first error: %v", e.PageCount, e.FirstErr)
}

func (e *AllPagesFailedError) Unwrap() error { return e.FirstErr }

// RateLimitError marks an upstream 429 so callers apply backoff instead of
// permanent-failure handling.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s: %v", e.Service, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s rate limited: %v", e.Service, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// UnsupportedFormatError is fatal and non-retryable.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type %q (%s)", e.Ext, e.Path)
}

// IsRateLimit reports whether err wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsUnsupportedFormat reports whether err wraps an UnsupportedFormatError.
func IsUnsupportedFormat(err error) bool {
	var uf *UnsupportedFormatError
	return errors.As(err, &uf)
}

// IsAllPagesFailed reports whether err wraps an AllPagesFailedError.
func IsAllPagesFailed(err error) bool {
	var apf *AllPagesFailedError
	return errors.As(err, &apf)
}

// ErrorKind names an error for metrics aggregation. Typed pipeline errors
// map to stable kinds; anything else falls back to "error".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsRateLimit(err):
		return "rate_limit"
	case IsAllPagesFailed(err):
		return "all_pages_failed"
	case IsUnsupportedFormat(err):
		return "unsupported_format"
	default:
		var pre *PageRecognitionError
		if errors.As(err, &pre) {
			return "page_recognition"
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		if errors.Is(err, context.Canceled) {
			return "canceled"
		}
		return "error"
	}
}
