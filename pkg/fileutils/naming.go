package fileutils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	smartDoubleQuotes = regexp.MustCompile(`[\x{201C}\x{201D}]`)
	smartSingleQuotes = regexp.MustCompile(`[\x{2018}\x{2019}]`)
	invalidChars      = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	whitespaceRuns    = regexp.MustCompile(`\s+`)
)

// OrganizedNameOptions contains the data needed to generate organized file/folder names.
type OrganizedNameOptions struct {
	Author string
	Title  string
}

// GenerateOrganizedFolderName creates a standardized folder name: [Author] Title.
func GenerateOrganizedFolderName(opts OrganizedNameOptions) string {
	var parts []string

	if author := sanitizeForFilename(opts.Author); author != "" {
		parts = append(parts, fmt.Sprintf("[%s]", author))
	}
	if title := sanitizeForFilename(opts.Title); title != "" {
		parts = append(parts, title)
	}

	name := strings.Join(parts, " ")
	if name == "" {
		name = "Unknown"
	}
	return name
}

// GenerateOrganizedFileName creates a standardized filename: Title.ext.
// Author names are not included since files already live inside
// author-prefixed folders.
func GenerateOrganizedFileName(opts OrganizedNameOptions, originalFilepath string) string {
	ext := strings.ToLower(filepath.Ext(originalFilepath))
	baseName := GenerateOrganizedFolderName(OrganizedNameOptions{Title: opts.Title})
	return baseName + ext
}

// SanitizeFilename makes an uploaded filename safe to store: directory
// components, control characters and leading dots are removed and the
// extension is lowercased. An empty result falls back to "upload".
func SanitizeFilename(name string) string {
	// Uploads from Windows clients can carry backslash-separated paths.
	name = name[strings.LastIndexAny(name, `/\`)+1:]

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimLeft(sanitizeForFilename(base), ".")
	ext = invalidChars.ReplaceAllString(ext, "")

	if base == "" {
		base = "upload"
	}
	return base + ext
}

// sanitizeForFilename removes or replaces characters that are not safe for filenames.
func sanitizeForFilename(name string) string {
	name = smartDoubleQuotes.ReplaceAllString(name, `"`)
	name = smartSingleQuotes.ReplaceAllString(name, `'`)

	// Tabs and newlines separate words, so they become spaces before the
	// control character sweep.
	name = whitespaceRuns.ReplaceAllString(name, " ")
	// Different operating systems have different restrictions, so be conservative.
	name = invalidChars.ReplaceAllString(name, "")
	name = whitespaceRuns.ReplaceAllString(name, " ")

	// Windows doesn't like trailing dots.
	name = strings.Trim(name, " .")

	if len(name) > 200 {
		name = strings.ToValidUTF8(name[:200], "")
		name = strings.Trim(name, " .")
	}

	return name
}

// SplitNames splits a string of names by common delimiters (comma, semicolon
// and ampersand), trims whitespace from each name, and returns non-empty names.
func SplitNames(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	for _, segment := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ',' || r == '&'
	}) {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
