package extraction

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/models"
)

var disablePDFConfigDir sync.Once

// PDFReader reads the document information dictionary and scans the text
// layer of the strategic pages.
type PDFReader struct{}

func NewPDFReader() *PDFReader {
	disablePDFConfigDir.Do(api.DisableConfigDir)
	return &PDFReader{}
}

func (r *PDFReader) Read(ctx context.Context, path string) (*Metadata, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrUnreadable, err.Error())
	}

	md := &Metadata{
		Title:     strings.TrimSpace(pdfCtx.Title),
		Author:    strings.TrimSpace(pdfCtx.Author),
		PageCount: pdfCtx.PageCount,
		Method:    models.ExtractionMethodBasic,
		Scanned:   true,
	}

	var texts []string
	sawText := false
	for _, page := range StrategicPages(pdfCtx.PageCount) {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		content, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil || content == nil {
			continue
		}
		raw, err := io.ReadAll(content)
		if err != nil {
			continue
		}
		text, ok := contentText(raw)
		if ok {
			sawText = true
			texts = append(texts, text)
		}
	}

	md.ScanText = strings.Join(texts, "\n")
	md.ImageOnly = pdfCtx.PageCount > 0 && !sawText

	return md, nil
}

// contentText pulls the strings shown by text operators out of a decoded page
// content stream. The second return value reports whether any text operator
// showed a non-blank string.
func contentText(content []byte) (string, bool) {
	var sb strings.Builder
	inText := false
	shown := false

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case c == '%':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteralString(content, i)
			if inText {
				sb.WriteString(s)
				if strings.TrimSpace(s) != "" {
					shown = true
				}
			}
			i = next
		case c == '<' && i+1 < len(content) && content[i+1] == '<':
			i += 2
		case c == '<':
			s, next := readHexString(content, i)
			if inText {
				sb.WriteString(s)
				if strings.TrimSpace(s) != "" {
					shown = true
				}
			}
			i = next
		case isPDFWhitespace(c) || isPDFDelimiter(c):
			i++
		default:
			start := i
			for i < len(content) && !isPDFWhitespace(content[i]) && !isPDFDelimiter(content[i]) {
				i++
			}
			switch string(content[start:i]) {
			case "BT":
				inText = true
			case "ET":
				inText = false
				sb.WriteByte('\n')
			case "T*", "Td", "TD", "'", `"`:
				sb.WriteByte('\n')
			case "Tj", "TJ":
				sb.WriteByte(' ')
			}
		}
	}

	return sb.String(), shown
}

func readLiteralString(b []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(b) {
		c := b[i]
		switch c {
		case '\\':
			if i+1 < len(b) {
				i++
				switch e := b[i]; e {
				case 'n':
					sb.WriteByte('\n')
				case 'r', 't', 'b', 'f':
					sb.WriteByte(' ')
				case '\r', '\n':
				default:
					if e >= '0' && e <= '7' {
						v := 0
						for n := 0; n < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7'; n++ {
							v = v*8 + int(b[i]-'0')
							i++
						}
						i--
						sb.WriteByte(byte(v))
					} else {
						sb.WriteByte(e)
					}
				}
			}
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

func readHexString(b []byte, start int) (string, int) {
	var digits []byte
	i := start + 1
	for i < len(b) && b[i] != '>' {
		if isHexDigit(b[i]) {
			digits = append(digits, b[i])
		}
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for j := 0; j < len(digits); j += 2 {
		out = append(out, hexValue(digits[j])<<4|hexValue(digits[j+1]))
	}
	return string(out), i + 1
}

func isPDFWhitespace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
