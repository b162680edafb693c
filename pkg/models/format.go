package models

import (
	"path/filepath"
	"strings"
)

const (
	FileFormatPDF  = "pdf"
	FileFormatEPUB = "epub"
	FileFormatMOBI = "mobi"
	FileFormatAZW  = "azw"
	FileFormatAZW3 = "azw3"
	FileFormatDJVU = "djvu"
)

// formatsByExtension maps accepted upload extensions to a canonical format.
var formatsByExtension = map[string]string{
	".pdf":  FileFormatPDF,
	".epub": FileFormatEPUB,
	".mobi": FileFormatMOBI,
	".azw":  FileFormatAZW,
	".azw3": FileFormatAZW3,
	".djvu": FileFormatDJVU,
	".djv":  FileFormatDJVU,
}

// FormatFromFilename returns the canonical format for a filename, or an empty
// string if the extension isn't one we ingest.
func FormatFromFilename(filename string) string {
	return formatsByExtension[strings.ToLower(filepath.Ext(filename))]
}

// IsSupportedFilename reports whether the filename has an ingestible extension.
func IsSupportedFilename(filename string) bool {
	return FormatFromFilename(filename) != ""
}
