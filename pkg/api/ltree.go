package api

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"
)

// Path is a dotted hierarchical label as stored in Postgres ltree columns.
// Segments match [a-z0-9_]+ and are joined by '.'. The zero value is the
// empty path, which is never valid for persisted entities.
type Path string

var pathSegmentRegexp = regexp.MustCompile(`^[a-z0-9_]+$`)

// NewPath joins segments into a Path, validating each one.
func NewPath(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("path needs at least one segment")
	}
	for _, s := range segments {
		if !pathSegmentRegexp.MatchString(s) {
			return "", fmt.Errorf("invalid path segment %q: segments must match [a-z0-9_]+", s)
		}
	}
	return Path(strings.Join(segments, ".")), nil
}

// Validate checks that every segment of the path is well-formed.
func (p Path) Validate() error {
	if p == "" {
		return fmt.Errorf("path must not be empty")
	}
	for _, s := range strings.Split(string(p), ".") {
		if !pathSegmentRegexp.MatchString(s) {
			return fmt.Errorf("invalid path segment %q in %q: segments must match [a-z0-9_]+", s, p)
		}
	}
	return nil
}

// Segments returns the individual labels of the path.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// NLevel returns the number of labels, mirroring ltree's nlevel().
func (p Path) NLevel() int {
	return len(p.Segments())
}

// Base returns the last label of the path.
func (p Path) Base() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Parent returns the path with the last label removed, or "" for a root.
func (p Path) Parent() Path {
	segments := p.Segments()
	if len(segments) <= 1 {
		return ""
	}
	return Path(strings.Join(segments[:len(segments)-1], "."))
}

// Child appends a label to the path.
func (p Path) Child(segment string) (Path, error) {
	if !pathSegmentRegexp.MatchString(segment) {
		return "", fmt.Errorf("invalid path segment %q: segments must match [a-z0-9_]+", segment)
	}
	if p == "" {
		return Path(segment), nil
	}
	return Path(string(p) + "." + segment), nil
}

// IsDescendantOf reports whether p is equal to or below ancestor, matching
// the semantics of ltree's <@ operator.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if p == ancestor {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+".")
}

// IsAncestorOf reports whether p is equal to or above descendant (ltree @>).
func (p Path) IsAncestorOf(descendant Path) bool {
	return descendant.IsDescendantOf(p)
}

func (p Path) String() string { return string(p) }

// Value implements driver.Valuer so paths can be bound as ltree parameters.
func (p Path) Value() (driver.Value, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *Path) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = ""
		return nil
	case string:
		*p = Path(v)
		return nil
	case []byte:
		*p = Path(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Path", src)
	}
}
