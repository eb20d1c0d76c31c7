package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanExtractedText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"null bytes", "con\x00trato", "contrato"},
		{"replacement rune", "cl�usula", "clusula"},
		{"escape chars", "a\x1bb", "ab"},
		{"windows line endings", "line one\r\nline two", "line one\nline two"},
		{"bare carriage return", "line one\rline two", "line one\nline two"},
		{"form feed", "page one\fpage two", "page one\npage two"},
		{"no-break space", "firma digital", "firma digital"},
		{"private use glyph", "total amount", "total amount"},
		{"space runs", "col one     col two", "col one col two"},
		{"surrounding whitespace", "  \n body \n  ", "body"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanExtractedText(tc.in))
		})
	}
}
