package types

import (
	"fmt"
	"strings"
)

// ValueType is the declared type of a schema node.
type ValueType int

const (
	Invalid ValueType = iota
	Int
	Float
	Bool
	String
	List
	Map
)

var valueTypeNames = map[ValueType]string{
	Int:    "int",
	Float:  "float",
	Bool:   "bool",
	String: "str",
	List:   "list",
	Map:    "map",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", int(t))
}

// Scalar reports whether t produces a single value rather than a collection.
func (t ValueType) Scalar() bool {
	return t == Int || t == Float || t == Bool || t == String
}

// Container reports whether t requires a child node.
func (t ValueType) Container() bool {
	return t == List || t == Map
}

// ParseValueType accepts the short names used in the service tables
// ("int", "float", "bool", "str", "list", "map") and a few aliases.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return Int, nil
	case "float", "double":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	case "str", "string":
		return String, nil
	case "list":
		return List, nil
	case "map", "dict":
		return Map, nil
	}
	return Invalid, fmt.Errorf("unknown value type %q", s)
}
