package models

const (
	ExtractionMethodBasic      = "basic"
	ExtractionMethodCalibre    = "calibre"
	ExtractionMethodTextScan   = "text_scan"
	ExtractionMethodOCRPartial = "ocr_partial"
	ExtractionMethodNone       = "none"
)

const (
	MediaTypeBook    = "book"
	MediaTypeWeb     = "web"
	MediaTypeUnknown = "unknown"
)

// Extraction failure reasons. They never abort a batch; the file is routed to
// review with the reason attached.
const (
	ExtractionFailureUnreadable        = "unreadable"
	ExtractionFailureUnsupportedFormat = "unsupported_format"
	ExtractionFailureTimeout           = "extraction_timeout"
	ExtractionFailureRequiresOCR       = "requires_ocr"
)

// ExtractionResult is the metadata pulled out of a staged file along with how
// much we trust it.
type ExtractionResult struct {
	Title         *string `json:"title,omitempty"`
	Author        *string `json:"author,omitempty"`
	Year          *int    `json:"year,omitempty"`
	ISBN          *string `json:"isbn,omitempty"`
	Publisher     *string `json:"publisher,omitempty"`
	MediaType     *string `json:"media_type,omitempty"`
	Description   *string `json:"description,omitempty"`
	PageCount     *int    `json:"page_count,omitempty"`
	Method        string  `json:"method"`
	Confidence    float64 `json:"confidence"`
	ISBNFound     bool    `json:"isbn_found"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// Failed reports whether extraction ended with a failure reason.
func (r *ExtractionResult) Failed() bool {
	return r != nil && r.FailureReason != nil
}

// TitleString returns the title or an empty string.
func (r *ExtractionResult) TitleString() string {
	if r == nil || r.Title == nil {
		return ""
	}
	return *r.Title
}

// AuthorString returns the author or an empty string.
func (r *ExtractionResult) AuthorString() string {
	if r == nil || r.Author == nil {
		return ""
	}
	return *r.Author
}

// ISBNString returns the ISBN or an empty string.
func (r *ExtractionResult) ISBNString() string {
	if r == nil || r.ISBN == nil {
		return ""
	}
	return *r.ISBN
}

// SimilarBookMatch is a derived read of an existing book that resembles an
// extraction result. It is recomputed on demand and never stored.
type SimilarBookMatch struct {
	BookID       int      `json:"book_id"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Year         *int     `json:"year,omitempty"`
	ISBN         *string  `json:"isbn,omitempty"`
	Contributors []string `json:"contributors"`
	Confidence   float64  `json:"confidence"`
}

// LookupMetadata is what an ISBN registry returned for an identifier.
type LookupMetadata struct {
	ISBN      string  `json:"isbn"`
	Title     string  `json:"title"`
	Author    string  `json:"author,omitempty"`
	Year      *int    `json:"year,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	Source    string  `json:"source"`
}
