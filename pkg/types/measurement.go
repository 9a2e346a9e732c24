package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// BoxTagKey is the tag key carrying the device identity on every measurement.
const BoxTagKey = "box"

// Tag is a single key/value label attached to a Measurement.
type Tag struct {
	Key   string
	Value string
}

// Measurement is one emitted metric data point.
//
// Value holds an int64, float64, bool or string. Timestamp always carries a
// location. Callers must not modify a Measurement (or its Tags slice) after it
// has been handed to the pipeline.
type Measurement struct {
	Name      string
	Value     any
	Timestamp time.Time
	Box       string
	Tags      []Tag
}

// NewMeasurement builds a Measurement and takes a private copy of tags.
func NewMeasurement(name string, value any, ts time.Time, box string, tags []Tag) Measurement {
	var own []Tag
	if len(tags) > 0 {
		own = make([]Tag, len(tags))
		copy(own, tags)
	}
	return Measurement{
		Name:      name,
		Value:     value,
		Timestamp: ts,
		Box:       box,
		Tags:      own,
	}
}

// AllTags returns the box tag followed by the additional tags. An additional
// tag using the box key replaces the box tag.
func (m Measurement) AllTags() []Tag {
	out := make([]Tag, 0, len(m.Tags)+1)
	if m.Box != "" {
		out = append(out, Tag{Key: BoxTagKey, Value: m.Box})
	}
	for _, t := range m.Tags {
		if t.Key == BoxTagKey && len(out) > 0 && out[0].Key == BoxTagKey {
			out[0].Value = t.Value
			continue
		}
		out = append(out, t)
	}
	return out
}

// Tag returns the value of the tag with the given key.
func (m Measurement) Tag(key string) (string, bool) {
	for _, t := range m.AllTags() {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Identity returns a 64-bit hash over the full content of the measurement.
// Two measurements with equal name, value, timestamp and tags hash equally.
func (m Measurement) Identity() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(m.Name)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(formatValue(m.Value))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(m.Timestamp.UnixNano(), 10))
	for _, t := range m.AllTags() {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(t.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(t.Value)
	}
	return d.Sum64()
}

func (m Measurement) String() string {
	var b strings.Builder
	b.WriteString(m.Timestamp.Format(time.RFC3339))
	b.WriteString(": ")
	b.WriteString(m.Name)
	b.WriteString("=")
	b.WriteString(formatValue(m.Value))
	for _, t := range m.AllTags() {
		fmt.Fprintf(&b, " %s=%s", t.Key, t.Value)
	}
	return b.String()
}

// formatValue renders v with a type prefix so that int 1 and string "1"
// do not collide in Identity.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) {
			return "f:NaN"
		}
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case string:
		return "s:" + x
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
