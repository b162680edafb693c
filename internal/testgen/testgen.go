// Package testgen generates small but structurally valid ebook files (EPUB,
// PDF) with configurable metadata for ingest and extraction tests.
package testgen

import (
	"os"
	"path/filepath"
	"testing"
)

// EPUBOptions configures the generated EPUB file. Empty fields are left out
// of the package document.
type EPUBOptions struct {
	Title       string
	Authors     []string
	ISBN        string
	Publisher   string
	Date        string
	Description string
	// ContentText is the body of each chapter, in spine order. Defaults to a
	// single placeholder chapter.
	ContentText []string
}

// PDFOptions configures the generated PDF file. Each entry in Pages is the
// text drawn on that page; lines are split on "\n".
type PDFOptions struct {
	Title  string
	Author string
	Pages  []string
	// ImageOnly draws a filled rectangle on every page instead of text, which
	// is what a scanned document without a text layer looks like.
	ImageOnly bool
}

// WriteFile creates a file with the given content in the specified directory.
// Returns the full path to the created file.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("testgen: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}
