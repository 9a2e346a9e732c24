package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// ErrInvalidSchema is wrapped by every error returned from Validate.
var ErrInvalidSchema = errors.New("invalid metric schema")

// Extractor computes a candidate value from the raw data of a node.
// The boolean is false when the value is not present.
type Extractor interface {
	Extract(raw any) (any, bool)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(raw any) (any, bool)

func (f ExtractorFunc) Extract(raw any) (any, bool) { return f(raw) }

// TagExtractor derives additional tags from the raw data of a node.
type TagExtractor interface {
	Tags(raw any) []types.Tag
}

// TagFunc adapts a plain function to TagExtractor.
type TagFunc func(raw any) []types.Tag

func (f TagFunc) Tags(raw any) []types.Tag { return f(raw) }

// TimestampExtractor derives the measurement time from the raw data of a node.
// Times without zone information are interpreted in loc.
type TimestampExtractor interface {
	Timestamp(raw any, loc *time.Location) (time.Time, bool)
}

// TimestampFunc adapts a plain function to TimestampExtractor.
type TimestampFunc func(raw any, loc *time.Location) (time.Time, bool)

func (f TimestampFunc) Timestamp(raw any, loc *time.Location) (time.Time, bool) {
	return f(raw, loc)
}

// ExcludePredicate reports whether a node does not apply to the raw data.
type ExcludePredicate interface {
	Exclude(raw any) bool
}

// ExcludeFunc adapts a plain function to ExcludePredicate.
type ExcludeFunc func(raw any) bool

func (f ExcludeFunc) Exclude(raw any) bool { return f(raw) }

// Node is one element of a metric schema tree.
//
// A scalar node (int, float, bool, str) is a leaf and resolves its value through
// exactly one of Path or Value. A container node (list, map) resolves a
// collection the same way, or uses the raw data itself when neither is set, and
// applies Next to every element.
type Node struct {
	Path       string
	Value      Extractor
	Type       types.ValueType
	Tags       TagExtractor
	StaticTags []types.Tag
	Timestamp  TimestampExtractor
	Exclude    ExcludePredicate
	Next       *Node
}

// Leaf returns a scalar node reading path.
func Leaf(path string, t types.ValueType) *Node {
	return &Node{Path: path, Type: t}
}

// Computed returns a scalar node whose value is produced by fn.
func Computed(t types.ValueType, fn ExtractorFunc) *Node {
	return &Node{Type: t, Value: fn}
}

// ListOf returns a list node reading the sequence at path.
func ListOf(path string, next *Node) *Node {
	return &Node{Path: path, Type: types.List, Next: next}
}

// MapOf returns a map node reading the mapping at path.
func MapOf(path string, next *Node) *Node {
	return &Node{Path: path, Type: types.Map, Next: next}
}

// WithValue sets the value extractor.
func (n *Node) WithValue(fn ExtractorFunc) *Node {
	n.Value = fn
	return n
}

// WithTags sets the tag extractor.
func (n *Node) WithTags(fn TagFunc) *Node {
	n.Tags = fn
	return n
}

// WithStaticTag appends a fixed tag.
func (n *Node) WithStaticTag(key, value string) *Node {
	n.StaticTags = append(n.StaticTags, types.Tag{Key: key, Value: value})
	return n
}

// WithTimestamp sets the timestamp extractor.
func (n *Node) WithTimestamp(ts TimestampExtractor) *Node {
	n.Timestamp = ts
	return n
}

// Excluding sets the exclude predicate.
func (n *Node) Excluding(fn ExcludeFunc) *Node {
	n.Exclude = fn
	return n
}

// Validate checks the structural invariants of the tree rooted at n.
// name is used to locate the offending node in the error message.
func Validate(name string, n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: %s: node is nil", ErrInvalidSchema, name)
	}
	switch {
	case n.Type == types.Invalid:
		return fmt.Errorf("%w: %s: no type declared", ErrInvalidSchema, name)
	case n.Type.Container():
		if n.Next == nil {
			return fmt.Errorf("%w: %s: type %s requires a child node", ErrInvalidSchema, name, n.Type)
		}
		if n.Path != "" && n.Value != nil {
			return fmt.Errorf("%w: %s: both data path and value extractor set", ErrInvalidSchema, name)
		}
		return Validate(name+"[]", n.Next)
	case n.Type.Scalar():
		if n.Path == "" && n.Value == nil {
			return fmt.Errorf("%w: %s: neither data path nor value extractor set", ErrInvalidSchema, name)
		}
		if n.Path != "" && n.Value != nil {
			return fmt.Errorf("%w: %s: both data path and value extractor set", ErrInvalidSchema, name)
		}
		if n.Next != nil {
			return fmt.Errorf("%w: %s: scalar type %s cannot have a child node", ErrInvalidSchema, name, n.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s: unknown type %s", ErrInvalidSchema, name, n.Type)
	}
}
