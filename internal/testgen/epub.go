package testgen

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"text/template"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

var funcs = template.FuncMap{"x": escape, "inc": func(i int) int { return i + 1 }}

var opfTemplate = template.Must(template.New("opf").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
{{- with .Title}}
    <dc:title id="title">{{x .}}</dc:title>
{{- end}}
{{- range $i, $a := .Authors}}
    <dc:creator id="creator{{$i}}" opf:role="aut">{{x $a}}</dc:creator>
{{- end}}
    <dc:identifier id="bookid">urn:uuid:test-book-id</dc:identifier>
{{- with .ISBN}}
    <dc:identifier opf:scheme="ISBN">{{x .}}</dc:identifier>
{{- end}}
    <dc:language>en</dc:language>
{{- with .Publisher}}
    <dc:publisher>{{x .}}</dc:publisher>
{{- end}}
{{- with .Date}}
    <dc:date>{{x .}}</dc:date>
{{- end}}
{{- with .Description}}
    <dc:description>{{x .}}</dc:description>
{{- end}}
  </metadata>
  <manifest>
{{- range $i, $c := .Chapters}}
    <item id="ch{{inc $i}}" href="chapter{{inc $i}}.xhtml" media-type="application/xhtml+xml"/>
{{- end}}
  </manifest>
  <spine>
{{- range $i, $c := .Chapters}}
    <itemref idref="ch{{inc $i}}"/>
{{- end}}
  </spine>
</package>`))

var chapterTemplate = template.Must(template.New("chapter").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter {{.N}}</title></head>
<body>
  <h1>Chapter {{.N}}</h1>
  <p>{{x .Text}}</p>
</body>
</html>`))

// GenerateEPUB writes an EPUB 3 package to dir/filename: an uncompressed
// mimetype entry, container.xml, an OPF carrying opts, and one XHTML document
// per chapter. It returns the file's path.
func GenerateEPUB(t *testing.T, dir, filename string, opts EPUBOptions) string {
	t.Helper()

	chapters := opts.ContentText
	if len(chapters) == 0 {
		chapters = []string{"This is a test chapter."}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// The mimetype entry must come first and be stored, not deflated.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	must(t, err)
	_, err = w.Write([]byte("application/epub+zip"))
	must(t, err)

	add := func(name string, render func(*bytes.Buffer) error) {
		var b bytes.Buffer
		must(t, render(&b))
		f, err := zw.Create(name)
		must(t, err)
		_, err = f.Write(b.Bytes())
		must(t, err)
	}

	add("META-INF/container.xml", func(b *bytes.Buffer) error {
		_, err := b.WriteString(containerXML)
		return err
	})
	add("OEBPS/content.opf", func(b *bytes.Buffer) error {
		return opfTemplate.Execute(b, struct {
			EPUBOptions
			Chapters []string
		}{opts, chapters})
	})
	for i, text := range chapters {
		n := i + 1
		add(fmt.Sprintf("OEBPS/chapter%d.xhtml", n), func(b *bytes.Buffer) error {
			return chapterTemplate.Execute(b, struct {
				N    int
				Text string
			}{n, text})
		})
	}
	must(t, zw.Close())

	must(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, filename)
	must(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("testgen: %v", err)
	}
}
