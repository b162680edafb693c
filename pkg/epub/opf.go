package epub

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/htmlutil"
	"github.com/shishobooks/spines/pkg/identifiers"
)

const containerPath = "META-INF/container.xml"

// ErrNoPackageDocument is returned when the archive has no OPF file.
var ErrNoPackageDocument = errors.New("no opf file found")

type Identifier struct {
	Value string
	Type  identifiers.Type
}

// Metadata is the subset of the OPF package metadata the ingest pipeline reads.
type Metadata struct {
	Title       string
	Authors     []string
	Publisher   string
	Date        string
	Description string
	Language    string
	Identifiers []Identifier
}

// ISBN returns the first identifier that is a valid ISBN, as ISBN-13.
func (m *Metadata) ISBN() (string, bool) {
	for _, id := range m.Identifiers {
		if id.Type != identifiers.TypeISBN10 && id.Type != identifiers.TypeISBN13 {
			continue
		}
		if isbn, ok := identifiers.CanonicalISBN(id.Value); ok {
			return isbn, true
		}
	}
	return "", false
}

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDocument struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
		} `xml:"title"`
		Creator []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
			Role string `xml:"role,attr"`
		} `xml:"creator"`
		Description string `xml:"description"`
		Publisher   string `xml:"publisher"`
		Identifier  []struct {
			Text   string `xml:",chardata"`
			Scheme string `xml:"scheme,attr"`
		} `xml:"identifier"`
		Date     []string `xml:"date"`
		Language string   `xml:"language"`
		Meta     []struct {
			Text     string `xml:",chardata"`
			Refines  string `xml:"refines,attr"`
			Property string `xml:"property,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// Parse opens the EPUB at path and reads the package document named by
// META-INF/container.xml, falling back to the first .opf in the archive.
func Parse(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	stats, err := f.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	zipReader, err := zip.NewReader(f, stats.Size())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	opfFile := findPackageDocument(zipReader)
	if opfFile == nil {
		return nil, ErrNoPackageDocument
	}

	r, err := opfFile.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	return ParseOPF(r)
}

func findPackageDocument(zr *zip.Reader) *zip.File {
	files := map[string]*zip.File{}
	for _, file := range zr.File {
		files[file.Name] = file
	}

	if cf, ok := files[containerPath]; ok {
		if r, err := cf.Open(); err == nil {
			c := container{}
			err = xml.NewDecoder(r).Decode(&c)
			r.Close()
			if err == nil {
				for _, rf := range c.Rootfiles {
					if f, ok := files[rf.FullPath]; ok {
						return f
					}
				}
			}
		}
	}

	for _, file := range zr.File {
		if strings.EqualFold(filepath.Ext(file.Name), ".opf") {
			return file
		}
	}
	return nil
}

// ParseOPF decodes an OPF package document.
func ParseOPF(r io.Reader) (*Metadata, error) {
	pkg := &packageDocument{}
	if err := xml.NewDecoder(r).Decode(pkg); err != nil {
		return nil, errors.WithStack(err)
	}

	// EPUB 3 puts refinements (title-type, role) in <meta refines="#id">.
	refinements := map[string]map[string]string{}
	for _, m := range pkg.Metadata.Meta {
		if m.Refines == "" {
			continue
		}
		key := strings.TrimPrefix(m.Refines, "#")
		if refinements[key] == nil {
			refinements[key] = map[string]string{}
		}
		refinements[key][m.Property] = strings.TrimSpace(m.Text)
	}

	md := &Metadata{
		Publisher: strings.TrimSpace(pkg.Metadata.Publisher),
		Language:  strings.TrimSpace(pkg.Metadata.Language),
	}

	switch len(pkg.Metadata.Title) {
	case 0:
	case 1:
		md.Title = strings.TrimSpace(pkg.Metadata.Title[0].Text)
	default:
		md.Title = strings.TrimSpace(pkg.Metadata.Title[0].Text)
		for _, t := range pkg.Metadata.Title {
			if t.ID != "" && refinements[t.ID]["title-type"] == "main" {
				md.Title = strings.TrimSpace(t.Text)
				break
			}
		}
	}

	for _, creator := range pkg.Metadata.Creator {
		role := creator.Role
		if role == "" && creator.ID != "" {
			role = refinements[creator.ID]["role"]
		}
		if role == "aut" || role == "" || len(pkg.Metadata.Creator) == 1 {
			if name := strings.TrimSpace(creator.Text); name != "" {
				md.Authors = append(md.Authors, name)
			}
		}
	}

	if len(pkg.Metadata.Date) > 0 {
		md.Date = strings.TrimSpace(pkg.Metadata.Date[0])
	}

	if pkg.Metadata.Description != "" {
		md.Description = htmlutil.StripTags(pkg.Metadata.Description)
	}

	for _, id := range pkg.Metadata.Identifier {
		value := strings.TrimSpace(id.Text)
		if value == "" {
			continue
		}
		md.Identifiers = append(md.Identifiers, Identifier{
			Value: value,
			Type:  identifiers.DetectType(value, id.Scheme),
		})
	}

	return md, nil
}
