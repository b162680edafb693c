package extraction

import (
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shishobooks/spines/pkg/identifiers"
	"github.com/shishobooks/spines/pkg/models"
)

const (
	headPages   = 8
	tailPages   = 5
	maxScanned  = 15
	middleAfter = 20
)

var (
	yearPattern      = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
	copyrightPattern = regexp.MustCompile(`(?i)(?:copyright|\(c\)|©)\s*(?:©\s*)?(1[5-9]\d{2}|20\d{2})\b`)
	filenameLike     = regexp.MustCompile(`(?i)\.(pdf|epub|mobi|azw3?|djvu?|docx?|txt|rtf|html?)$`)
)

// placeholderTitles are values tools write when a document has no real title.
var placeholderTitles = map[string]bool{
	"untitled": true,
	"unknown":  true,
	"title":    true,
	"document": true,
}

// Weights controls how much each piece of evidence contributes to an
// extraction's confidence. The sum is clamped to [0, 1].
type Weights struct {
	ISBN         float64
	TitleAuthor  float64
	Agreement    float64
	Plausibility float64
}

func DefaultWeights() Weights {
	return Weights{
		ISBN:         0.45,
		TitleAuthor:  0.25,
		Agreement:    0.15,
		Plausibility: 0.15,
	}
}

// StrategicPages returns the 1-based pages worth scanning for an ISBN: the
// first 8, the last 5 and, for documents over 20 pages, two from the middle.
// At most 15 pages are returned, in ascending order.
func StrategicPages(pageCount int) []int {
	if pageCount <= 0 {
		return nil
	}

	seen := make(map[int]bool)
	var pages []int
	add := func(p int) {
		if p >= 1 && p <= pageCount && !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	for p := 1; p <= headPages; p++ {
		add(p)
	}
	for p := pageCount - tailPages + 1; p <= pageCount; p++ {
		add(p)
	}
	if pageCount > middleAfter {
		middle := pageCount/2 + 1
		add(middle)
		add(middle + 1)
	}

	sort.Ints(pages)
	if len(pages) > maxScanned {
		pages = pages[:maxScanned]
	}
	return pages
}

// ParseYear pulls a four digit year out of YYYY, YYYY-MM-DD or free text.
func ParseYear(s string) *int {
	m := yearPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &year
}

// PlausibleTitle reports whether a title looks like a real title rather than
// a filename, a placeholder or noise.
func PlausibleTitle(title, filename string) bool {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n < 3 || n > 200 {
		return false
	}
	lower := strings.ToLower(title)
	if placeholderTitles[lower] {
		return false
	}
	if filenameLike.MatchString(lower) {
		return false
	}
	if filename != "" {
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
		if lower == stem && strings.ContainsAny(stem, "_-") && !strings.Contains(stem, " ") {
			return false
		}
	}
	return true
}

// buildResult scores what a reader found and turns it into a result.
func buildResult(md *Metadata, filename string, w Weights) *models.ExtractionResult {
	result := &models.ExtractionResult{
		Method: md.Method,
	}

	title := strings.TrimSpace(md.Title)
	author := strings.TrimSpace(md.Author)
	primaryISBN, _ := identifiers.CanonicalISBN(md.ISBN)
	scanISBNs := identifiers.FindISBNs(md.ScanText)

	isbn := primaryISBN
	if isbn == "" && len(scanISBNs) > 0 {
		isbn = scanISBNs[0]
		if title == "" && author == "" {
			result.Method = models.ExtractionMethodTextScan
		}
	}

	year := md.Year
	if year == nil {
		if m := copyrightPattern.FindStringSubmatch(md.ScanText); m != nil {
			year = ParseYear(m[1])
		}
	}

	result.Title = optional(title)
	result.Author = optional(author)
	result.Publisher = optional(strings.TrimSpace(md.Publisher))
	result.Description = optional(strings.TrimSpace(md.Description))
	result.ISBN = optional(isbn)
	result.ISBNFound = isbn != ""
	result.Year = year
	if md.PageCount > 0 {
		pc := md.PageCount
		result.PageCount = &pc
	}
	mediaType := detectMediaType(isbn, md.ScanText)
	result.MediaType = &mediaType

	if md.ImageOnly {
		reason := models.ExtractionFailureRequiresOCR
		result.FailureReason = &reason
		result.Confidence = 0
		return result
	}

	score := 0.0
	if result.ISBNFound {
		score += w.ISBN
	}
	if title != "" && author != "" {
		score += w.TitleAuthor
	}
	if agrees(md, primaryISBN, scanISBNs) {
		score += w.Agreement
	}
	if PlausibleTitle(title, filename) {
		score += w.Plausibility
	}
	result.Confidence = clamp(score)

	return result
}

// agrees reports whether the primary metadata and the text scan corroborate
// each other: the same ISBN, or the embedded title printed in the text.
func agrees(md *Metadata, primaryISBN string, scanISBNs []string) bool {
	if !md.Scanned || md.ScanText == "" {
		return false
	}
	if primaryISBN != "" {
		for _, s := range scanISBNs {
			if s == primaryISBN {
				return true
			}
		}
	}
	title := strings.TrimSpace(md.Title)
	if utf8.RuneCountInString(title) >= 3 {
		return strings.Contains(strings.ToLower(md.ScanText), strings.ToLower(title))
	}
	return false
}

func detectMediaType(isbn, scanText string) string {
	if isbn != "" {
		return models.MediaTypeBook
	}
	head := scanText
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if strings.Contains(head, "http://") || strings.Contains(head, "https://") {
		return models.MediaTypeWeb
	}
	return models.MediaTypeBook
}

// clamp bounds the score to [0, 1] and rounds away float noise so that
// threshold comparisons behave.
func clamp(v float64) float64 {
	v = math.Round(v*10000) / 10000
	return math.Max(0, math.Min(1, v))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FromOCRText rescores a file using text recognized off its page images. What
// the earlier extraction found is kept and the OCR text stands in for the
// missing text layer.
func FromOCRText(prev *models.ExtractionResult, text, filename string, w Weights) *models.ExtractionResult {
	if prev == nil {
		prev = &models.ExtractionResult{}
	}
	md := &Metadata{
		Title:    prev.TitleString(),
		Author:   prev.AuthorString(),
		ISBN:     prev.ISBNString(),
		Year:     prev.Year,
		Method:   models.ExtractionMethodOCRPartial,
		Scanned:  true,
		ScanText: text,
	}
	if prev.Publisher != nil {
		md.Publisher = *prev.Publisher
	}
	if prev.PageCount != nil {
		md.PageCount = *prev.PageCount
	}

	result := buildResult(md, filename, w)
	result.Method = models.ExtractionMethodOCRPartial
	return result
}
