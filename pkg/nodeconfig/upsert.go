package nodeconfig

import (
	"strings"

	"github.com/beevik/etree"
	cerr "github.com/cockroachdb/errors"
)

var (
	// ErrUnsupportedPath is returned for tag paths nested more than one level.
	ErrUnsupportedPath = cerr.New("tag path nested more than one level is not supported")
	// ErrInvalidPath is returned for empty tags or empty path segments.
	ErrInvalidPath = cerr.New("invalid tag path")
)

// UpsertText sets the text of the element at path below root, creating it if absent.
// path is "tag" or "parent/tag"; a missing parent is created under root.
func UpsertText(root *etree.Element, path, value string) error {
	el, err := findOrCreate(root, path)
	if err != nil {
		return err
	}
	el.SetText(value)
	return nil
}

// UpsertAttribute sets attribute attr on the element at path below root, creating
// the element if absent. Other attributes and the element's children are untouched.
func UpsertAttribute(root *etree.Element, path, attr, value string) error {
	if attr == "" {
		return cerr.Wrapf(ErrInvalidPath, "empty attribute name for %q", path)
	}
	el, err := findOrCreate(root, path)
	if err != nil {
		return err
	}
	el.CreateAttr(attr, value)
	return nil
}

// Lookup returns the element at path below root, or nil.
func Lookup(root *etree.Element, path string) (*etree.Element, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	el := root
	for _, seg := range segments {
		el = el.SelectElement(seg)
		if el == nil {
			return nil, nil
		}
	}
	return el, nil
}

// findOrCreate validates the whole path before touching the tree, so a rejected
// path never leaves a half-created parent behind.
func findOrCreate(root *etree.Element, path string) (*etree.Element, error) {
	if root == nil {
		return nil, cerr.New("nil root element")
	}
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	el := root
	for _, seg := range segments {
		child := el.SelectElement(seg)
		if child == nil {
			child = el.CreateElement(seg)
		}
		el = child
	}
	return el, nil
}

func splitPath(path string) ([]string, error) {
	segments := strings.Split(path, "/")
	if len(segments) > 2 {
		return nil, cerr.Wrapf(ErrUnsupportedPath, "%q", path)
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" || strings.ContainsAny(seg, " \t\n<>&'\"=") {
			return nil, cerr.Wrapf(ErrInvalidPath, "%q", path)
		}
	}
	return segments, nil
}
