package epub

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/htmlutil"
)

// maxDocumentSize bounds how much of a single content document is read.
const maxDocumentSize = 4 << 20

// ContentText returns the plain text of each content document in spine
// order. Documents that are missing from the archive are skipped.
func ContentText(filepath string) ([]string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	zr, err := zip.NewReader(f, stats.Size())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	opfFile := findPackageDocument(zr)
	if opfFile == nil {
		return nil, ErrNoPackageDocument
	}

	r, err := opfFile.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pkg := &packageDocument{}
	err = xml.NewDecoder(r).Decode(pkg)
	r.Close()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, file := range zr.File {
		files[file.Name] = file
	}

	hrefs := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefs[item.ID] = item.Href
	}

	base := path.Dir(opfFile.Name)
	var texts []string
	for _, ref := range pkg.Spine.Itemrefs {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		file, ok := files[path.Join(base, href)]
		if !ok {
			continue
		}
		text, err := readDocumentText(file)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}

	return texts, nil
}

func readDocumentText(file *zip.File) (string, error) {
	r, err := file.Open()
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer r.Close()

	b, err := io.ReadAll(io.LimitReader(r, maxDocumentSize))
	if err != nil {
		return "", errors.WithStack(err)
	}
	return htmlutil.StripTags(string(b)), nil
}
