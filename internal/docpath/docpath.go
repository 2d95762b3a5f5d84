// Package docpath maps client document identifiers onto document keys and
// storage locations.
package docpath

import (
	"fmt"
	"path"
	"strings"
)

// Mode selects how identifiers are interpreted.
type Mode string

const (
	// ModePath treats the identifier as dir/.../file.
	ModePath Mode = "path"
	// ModeID treats the identifier as a directory and takes the file name separately.
	ModeID Mode = "id"
	// ModePrefix strips a fixed URL prefix and then applies ModePath.
	ModePrefix Mode = "prefix"
)

// Layout selects where blobs live relative to their document.
type Layout string

const (
	// LayoutFlat stores blobs next to the document file.
	LayoutFlat Layout = "flat"
	// LayoutBlobs stores blobs in a blobs/ subdirectory.
	LayoutBlobs Layout = "blobs"
)

// BlobsDir is the subdirectory used by LayoutBlobs.
const BlobsDir = "blobs"

// InvalidError reports an identifier or name that does not have the expected shape.
type InvalidError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Document is a resolved identifier.
type Document struct {
	// Key is the lock key, equal to Dir + "/" + File.
	Key  string
	Dir  string
	File string
}

// ContentKey returns the storage key of the document content.
func (d Document) ContentKey() string {
	return d.Dir + "/" + d.File
}

// BlobDir returns the storage directory holding blobs for layout.
func (d Document) BlobDir(layout Layout) string {
	if layout == LayoutBlobs {
		return d.Dir + "/" + BlobsDir
	}
	return d.Dir
}

// BlobKey returns the storage key of blob name under layout.
func (d Document) BlobKey(layout Layout, name string) string {
	return d.BlobDir(layout) + "/" + name
}

// Resolver applies one identifier convention consistently.
type Resolver struct {
	mode   Mode
	prefix string
}

// ParseMode validates a mode string. Empty selects ModePath.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePath, nil
	case ModePath, ModeID, ModePrefix:
		return m, nil
	default:
		return "", fmt.Errorf("unknown document id mode %q (want path, id or prefix)", s)
	}
}

// ParseLayout validates a layout string. Empty selects LayoutFlat.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutFlat, nil
	case LayoutFlat, LayoutBlobs:
		return l, nil
	default:
		return "", fmt.Errorf("unknown blob layout %q (want flat or blobs)", s)
	}
}

// NewResolver returns a Resolver for mode. ModePrefix requires a non-empty prefix.
func NewResolver(mode Mode, prefix string) (Resolver, error) {
	if mode == "" {
		mode = ModePath
	}
	switch mode {
	case ModePath, ModeID:
		return Resolver{mode: mode}, nil
	case ModePrefix:
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return Resolver{}, fmt.Errorf("document id mode %q requires a prefix", mode)
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return Resolver{mode: mode, prefix: prefix}, nil
	default:
		return Resolver{}, fmt.Errorf("unknown document id mode %q", mode)
	}
}

// Mode returns the configured convention.
func (r Resolver) Mode() Mode {
	if r.mode == "" {
		return ModePath
	}
	return r.mode
}

// Resolve derives a Document from identifier and, in ModeID, fileName.
// Errors are *InvalidError.
func (r Resolver) Resolve(identifier, fileName string) (Document, error) {
	switch r.Mode() {
	case ModeID:
		dirSegs, err := segments("document id", identifier)
		if err != nil {
			return Document{}, err
		}
		if err := ValidateName("file name", fileName); err != nil {
			return Document{}, err
		}
		return newDocument(dirSegs, fileName), nil
	case ModePrefix:
		rest, ok := strings.CutPrefix(identifier, r.prefix)
		if !ok {
			return Document{}, &InvalidError{Field: "document id", Value: identifier, Reason: "missing prefix " + r.prefix}
		}
		return resolvePath(identifier, rest)
	default:
		return resolvePath(identifier, identifier)
	}
}

func resolvePath(identifier, rel string) (Document, error) {
	segs, err := segments("document id", rel)
	if err != nil {
		if inv, ok := err.(*InvalidError); ok {
			inv.Value = identifier
		}
		return Document{}, err
	}
	if len(segs) < 2 {
		return Document{}, &InvalidError{Field: "document id", Value: identifier, Reason: "expected <dir>/<file>"}
	}
	return newDocument(segs[:len(segs)-1], segs[len(segs)-1]), nil
}

func newDocument(dir []string, file string) Document {
	d := Document{Dir: strings.Join(dir, "/"), File: file}
	d.Key = d.ContentKey()
	return d
}

func segments(field, value string) ([]string, error) {
	trimmed := strings.TrimLeft(value, "/")
	if strings.TrimSpace(trimmed) == "" {
		return nil, &InvalidError{Field: field, Value: value, Reason: "empty"}
	}
	if strings.HasSuffix(trimmed, "/") {
		return nil, &InvalidError{Field: field, Value: value, Reason: "trailing slash"}
	}
	parts := strings.Split(trimmed, "/")
	for _, part := range parts {
		if err := ValidateName(field, part); err != nil {
			err.(*InvalidError).Value = value
			return nil, err
		}
	}
	return parts, nil
}

// ValidateName checks that name is usable as a single path segment.
func ValidateName(field, name string) error {
	switch {
	case name == "":
		return &InvalidError{Field: field, Value: name, Reason: "empty segment"}
	case name == "." || name == "..":
		return &InvalidError{Field: field, Value: name, Reason: "relative segment"}
	case strings.ContainsAny(name, "/\\\x00"):
		return &InvalidError{Field: field, Value: name, Reason: "illegal character"}
	case path.Clean(name) != name:
		return &InvalidError{Field: field, Value: name, Reason: "not canonical"}
	}
	return nil
}
