package extraction

import (
	"strings"
	"testing"

	"github.com/shishobooks/spines/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestStrategicPages(t *testing.T) {
	tests := []struct {
		name      string
		pageCount int
		expected  []int
	}{
		{"empty", 0, nil},
		{"single page", 1, []int{1}},
		{"short document", 10, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"head and tail overlap", 13, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}},
		{"twenty pages has no middle", 20, []int{1, 2, 3, 4, 5, 6, 7, 8, 16, 17, 18, 19, 20}},
		{"long document", 100, []int{1, 2, 3, 4, 5, 6, 7, 8, 51, 52, 96, 97, 98, 99, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := StrategicPages(tt.pageCount)
			assert.Equal(t, tt.expected, pages)
			assert.LessOrEqual(t, len(pages), 15)
		})
	}
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		input    string
		expected *int
	}{
		{"1999", intPtr(1999)},
		{"2011-04-05", intPtr(2011)},
		{"2011-04-05T00:00:00+00:00", intPtr(2011)},
		{"First published in March 1954 by Allen & Unwin", intPtr(1954)},
		{"no year here", nil},
		{"12345", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseYear(tt.input))
		})
	}
}

func TestPlausibleTitle(t *testing.T) {
	tests := []struct {
		title    string
		filename string
		expected bool
	}{
		{"The Fellowship of the Ring", "lotr.pdf", true},
		{"Dune", "dune.epub", true},
		{"It", "it.pdf", false},
		{"Untitled", "x.pdf", false},
		{"unknown", "x.pdf", false},
		{"scan_0001_final.pdf", "scan_0001_final.pdf", false},
		{"scan_0001_final", "scan_0001_final.pdf", false},
		{"Microsoft Word - draft.docx", "draft.pdf", false},
		{strings.Repeat("a", 201), "x.pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.expected, PlausibleTitle(tt.title, tt.filename))
		})
	}
}

func TestContentText(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		shown    bool
	}{
		{"simple Tj", "BT /F1 12 Tf 72 712 Td (Hello World) Tj ET", "Hello World", true},
		{"TJ array", "BT [(IS) -20 (BN 978) 10 (0306406157)] TJ ET", "ISBN 9780306406157", true},
		{"hex string", "BT <48656C6C6F> Tj ET", "Hello", true},
		{"escapes", `BT (a \(b\) c\\d) Tj ET`, `a (b) c\d`, true},
		{"octal escape", `BT (caf\351) Tj ET`, "caf\xe9", true},
		{"outside text object", "(ignored) Tj", "", false},
		{"no text operators", "q 0 0 0 rg 72 72 468 648 re f Q", "", false},
		{"comment skipped", "% (not text)\nBT (Real) Tj ET", "Real", true},
		{"blank string", "BT ( ) Tj ET", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, shown := contentText([]byte(tt.content))
			assert.Equal(t, tt.shown, shown)
			assert.Equal(t, tt.expected, normalizeSpace(text))
		})
	}
}

func normalizeSpace(s string) string {
	out := []byte{}
	space := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\n' {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, c)
	}
	return string(out)
}

func intPtr(i int) *int {
	return &i
}

func TestFromOCRText(t *testing.T) {
	reason := models.ExtractionFailureRequiresOCR
	prev := &models.ExtractionResult{Method: models.ExtractionMethodNone, FailureReason: &reason}

	result := FromOCRText(prev, "A WIZARD OF EARTHSEA\nCopyright © 1968\nISBN 978-0-306-40615-7", "scan.pdf", DefaultWeights())

	assert.Equal(t, models.ExtractionMethodOCRPartial, result.Method)
	assert.Nil(t, result.FailureReason)
	assert.True(t, result.ISBNFound)
	assert.Equal(t, "9780306406157", result.ISBNString())
	assert.Equal(t, 1968, *result.Year)
	assert.InDelta(t, DefaultWeights().ISBN, result.Confidence, 0.0001)

	empty := FromOCRText(nil, "", "scan.pdf", DefaultWeights())
	assert.False(t, empty.ISBNFound)
	assert.Zero(t, empty.Confidence)
}
