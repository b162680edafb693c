package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTags(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want string
	}{
		"empty": {"", ""},
		"plain text passes through": {
			"A Wizard of Earthsea",
			"A Wizard of Earthsea",
		},
		"opf description with inline markup": {
			`<p>Ged was the <i>greatest</i> sorcerer in Earthsea.</p>`,
			"Ged was the greatest sorcerer in Earthsea.",
		},
		"paragraphs become lines": {
			"<p>Chapter One</p><p>It was a dark night.</p>",
			"Chapter One\nIt was a dark night.",
		},
		"headings and list items are blocks": {
			"<h1>Contents</h1><ul><li>Prologue</li><li>Part I</li></ul>",
			"Contents\nPrologue\nPart I",
		},
		"br and hr break lines": {
			"Copyright 1968<br/>All rights reserved<hr>ISBN 978-0-306-40615-7",
			"Copyright 1968\nAll rights reserved\nISBN 978-0-306-40615-7",
		},
		"entities are decoded": {
			"Pride &amp; Prejudice &#169; Austen&nbsp;&nbsp;1813",
			"Pride & Prejudice \u00a9 Austen 1813",
		},
		"script and style bodies dropped": {
			"<style>p { color: red }</style><p>Visible</p><script>alert('x')</script>",
			"Visible",
		},
		"images leave a gap": {
			"Before<img src=\"cover.jpg\"/>After",
			"Before After",
		},
		"whitespace collapses and blank lines vanish": {
			"<div>\n\n   spaced    out   \n\n</div><p>   </p>",
			"spaced out",
		},
		"table rows": {
			"<table><tr><td>Title</td><td>Earthsea</td></tr><tr><td>Year</td><td>1968</td></tr></table>",
			"Title Earthsea\nYear 1968",
		},
		"unclosed tags tolerated": {
			"<p>Unclosed <b>bold",
			"Unclosed bold",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripTags(tc.in))
		})
	}
}
