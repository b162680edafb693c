package testgen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// GeneratePDF writes a minimal PDF 1.4 document with an Info dictionary and
// one Helvetica content stream per page.
func GeneratePDF(t *testing.T, dir, filename string, opts PDFOptions) string {
	t.Helper()

	pages := opts.Pages
	if len(pages) == 0 {
		pages = []string{"Sample page"}
	}

	// Fixed objects: 1 catalog, 2 page tree, 3 font, 4 info. Each page then
	// takes two objects (page, content stream).
	const firstPageObj = 5
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+i*2)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		infoDict(opts),
	}
	for i, text := range pages {
		contentObj := firstPageObj + i*2 + 1
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj,
		))
		stream := pageStream(text, opts.ImageOnly)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("testgen: %v", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("failed to write PDF file: %v", err)
	}
	return path
}

// GenerateImageOnlyPDF writes a PDF whose pages carry no text operators.
func GenerateImageOnlyPDF(t *testing.T, dir, filename string, pageCount int) string {
	t.Helper()
	if pageCount < 1 {
		pageCount = 1
	}
	return GeneratePDF(t, dir, filename, PDFOptions{
		Pages:     make([]string, pageCount),
		ImageOnly: true,
	})
}

func infoDict(opts PDFOptions) string {
	var parts []string
	if opts.Title != "" {
		parts = append(parts, "/Title "+pdfString(opts.Title))
	}
	if opts.Author != "" {
		parts = append(parts, "/Author "+pdfString(opts.Author))
	}
	parts = append(parts, "/Producer (testgen)")
	return "<< " + strings.Join(parts, " ") + " >>"
}

func pageStream(text string, imageOnly bool) string {
	if imageOnly {
		return "q 0.2 0.2 0.2 rg 72 72 468 648 re f Q"
	}
	var sb strings.Builder
	sb.WriteString("BT /F1 12 Tf 14 TL 72 712 Td")
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			sb.WriteString(" T*")
		}
		sb.WriteString(" " + pdfString(line) + " Tj")
	}
	sb.WriteString(" ET")
	return sb.String()
}

func pdfString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(s) + ")"
}
