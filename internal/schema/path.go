package schema

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// Lookup walks path through raw. Path segments are separated by dots; map keys
// match exactly first and case-insensitively second, sequence indices may be
// negative to count from the end. An empty path returns raw itself.
// Unresolvable paths and null values report false.
func Lookup(raw any, path string) (any, bool) {
	cur := raw
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			next, ok := step(cur, seg)
			if !ok {
				return nil, false
			}
			cur = next
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		if v, ok := c[seg]; ok {
			return v, true
		}
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.EqualFold(k, seg) {
				return c[k], true
			}
		}
		return nil, false
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, false
		}
		if idx < 0 {
			idx += len(c)
		}
		if idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	}
	return nil, false
}

// Get returns the value at path or nil.
func Get(raw any, path string) any {
	v, _ := Lookup(raw, path)
	return v
}

// GetString returns the value at path rendered as a string, or "".
func GetString(raw any, path string) string {
	v, ok := Lookup(raw, path)
	if !ok {
		return ""
	}
	s, err := Coerce(v, types.String)
	if err != nil {
		return ""
	}
	return s.(string)
}

// HasKey reports whether raw is a map containing key.
func HasKey(raw any, key string) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// Field returns an extractor reading path relative to the node's raw data.
func Field(path string) ExtractorFunc {
	return func(raw any) (any, bool) { return Lookup(raw, path) }
}

// Missing returns an exclude predicate matching raw data without path.
func Missing(path string) ExcludeFunc {
	return func(raw any) bool {
		_, ok := Lookup(raw, path)
		return !ok
	}
}

// NotMap returns an exclude predicate matching raw data whose value at path is
// not a mapping.
func NotMap(path string) ExcludeFunc {
	return func(raw any) bool {
		_, ok := Get(raw, path).(map[string]any)
		return !ok
	}
}

// TagPaths returns a tag extractor mapping tag keys to paths in the raw data.
// Pairs are given as key, path, key, path, ...; empty values are skipped.
func TagPaths(pairs ...string) TagFunc {
	return func(raw any) []types.Tag {
		var tags []types.Tag
		for i := 0; i+1 < len(pairs); i += 2 {
			if v := GetString(raw, pairs[i+1]); v != "" {
				tags = append(tags, types.Tag{Key: pairs[i], Value: v})
			}
		}
		return tags
	}
}

// LocalTime returns a timestamp extractor joining the values at paths with a
// single space and parsing the result with layout in the service timezone.
func LocalTime(layout string, paths ...string) TimestampFunc {
	return func(raw any, loc *time.Location) (time.Time, bool) {
		parts := make([]string, 0, len(paths))
		for _, p := range paths {
			s := GetString(raw, p)
			if s == "" {
				return time.Time{}, false
			}
			parts = append(parts, s)
		}
		if loc == nil {
			loc = time.UTC
		}
		ts, err := time.ParseInLocation(layout, strings.Join(parts, " "), loc)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
}
