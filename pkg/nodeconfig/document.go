// pkg/nodeconfig/document.go

package nodeconfig

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"
	cerr "github.com/cockroachdb/errors"
)

// Jenkins writes config.xml with an XML 1.1 prolog; encoding/xml only accepts 1.0.
var prologVersion = regexp.MustCompile(`^(\s*<\?xml\s+version\s*=\s*["'])1\.1(["'])`)

// Document is a node configuration document. Everything in it is preserved on
// serialisation, including elements and attributes this package never touches.
type Document struct {
	doc *etree.Document
}

// Parse reads a config.xml document.
func Parse(raw string) (*Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, cerr.New("empty node configuration document")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(prologVersion.ReplaceAllString(raw, "${1}1.0${2}")); err != nil {
		return nil, cerr.Wrap(err, "parse node configuration document")
	}
	if doc.Root() == nil {
		return nil, cerr.New("node configuration document has no root element")
	}
	return &Document{doc: doc}, nil
}

// Root returns the document element (<slave> for an agent node).
func (d *Document) Root() *etree.Element {
	return d.doc.Root()
}

// String serialises the document.
func (d *Document) String() (string, error) {
	out, err := d.doc.WriteToString()
	if err != nil {
		return "", cerr.Wrap(err, "serialise node configuration document")
	}
	return out, nil
}
