package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/ingest"
	"github.com/shishobooks/spines/pkg/progress"
	"github.com/stretchr/testify/assert"
)

func TestFormatEvent(t *testing.T) {
	tcs := []struct {
		name string
		ev   progress.Event
		want string
	}{
		{"start", progress.Start([]string{"a.epub", "b.pdf"}), "Processing 2 file(s)"},
		{"progress", progress.Progress(1, 2, "a.epub"), "[1/2] a.epub"},
		{"review", progress.FileComplete(2, 2, "b.pdf", progress.StatusReview, "low_confidence", "abc"), "[2/2] b.pdf: review (low_confidence)"},
		{"error", progress.Error(errors.New("catalog is down"), progress.StatusFailed, 1, 0, 0), "Stopped: catalog is down"},
		{"ping", progress.Ping("hello"), ""},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(tt *testing.T) {
			assert.Equal(tt, tc.want, formatEvent(tc.ev, false))
		})
	}
}

func TestFormatEventColorizes(t *testing.T) {
	line := formatEvent(progress.FileComplete(1, 1, "a.epub", progress.StatusSuccess, "", "1"), true)
	assert.True(t, strings.HasPrefix(line, ansiGreen))
	assert.True(t, strings.HasSuffix(line, ansiReset))
}

func TestRenderSummary(t *testing.T) {
	bookID := 4
	itemID := "item-1"
	summary := &ingest.Summary{
		ProcessedCount:   1,
		ReviewQueueCount: 1,
		Outcomes: []*ingest.Outcome{
			{Filename: "dune.epub", Status: progress.StatusSuccess, BookID: &bookID},
			{Filename: "scan.pdf", Status: progress.StatusReview, Reason: "requires_ocr", ReviewItemID: &itemID},
		},
	}

	out := renderSummary(summary, false)
	assert.Contains(t, out, "book 4")
	assert.Contains(t, out, "review item-1")
	assert.Contains(t, out, "1 processed, 1 queued for review, 0 failed")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "1,048,576 B", formatBytes(1<<20))
}

func TestShouldColorize(t *testing.T) {
	assert.False(t, shouldColorize(&bytes.Buffer{}))
}
