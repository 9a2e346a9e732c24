package extract

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// Engine converts raw data into Measurements for one device.
type Engine struct {
	box    string
	loc    *time.Location
	logger *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewEngine returns an Engine tagging every measurement with box. Timestamps
// are expressed in loc (UTC when nil).
func NewEngine(box string, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{box: box, loc: loc, logger: logger, now: time.Now}
}

// Box returns the device identity used as primary tag.
func (e *Engine) Box() string { return e.box }

// Extract applies n to raw and returns the resulting measurements named
// metric. tr may be nil when tracking is disabled.
func (e *Engine) Extract(metric string, n *schema.Node, raw any, tr *Tracker) []types.Measurement {
	if n == nil {
		return nil
	}
	if n.Exclude != nil && n.Exclude.Exclude(raw) {
		return nil
	}

	var (
		candidate any
		ok        bool
	)
	switch {
	case n.Value != nil:
		candidate, ok = n.Value.Extract(raw)
	case n.Path != "":
		candidate, ok = schema.Lookup(raw, n.Path)
	case n.Type.Container():
		candidate, ok = raw, raw != nil
	}
	if !ok || candidate == nil {
		e.logger.Debug("extract: value not present", "metric", metric, "path", n.Path)
		return nil
	}

	if n.Type.Container() {
		return e.expand(metric, n, candidate, tr)
	}

	value, err := schema.Coerce(candidate, n.Type)
	if err != nil {
		e.logger.Error("extract: type conversion failed, sending raw value",
			"metric", metric, "type", n.Type.String(), "value", candidate, "err", err)
		value = schema.Normalize(candidate)
	}

	m := types.NewMeasurement(metric, value, e.timestamp(n, raw), e.box, e.tags(n, raw))
	if tr != nil && !tr.Observe(m) {
		return nil
	}
	return []types.Measurement{m}
}

func (e *Engine) expand(metric string, n *schema.Node, candidate any, tr *Tracker) []types.Measurement {
	var out []types.Measurement
	switch c := candidate.(type) {
	case []any:
		for _, elem := range c {
			out = append(out, e.Extract(metric, n.Next, elem, tr)...)
		}
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, e.Extract(metric, n.Next, c[k], tr)...)
		}
	default:
		e.logger.Error("extract: data is not a collection",
			"metric", metric, "type", n.Type.String(), "got", fmt.Sprintf("%T", candidate))
	}
	return out
}

func (e *Engine) tags(n *schema.Node, raw any) []types.Tag {
	tags := make([]types.Tag, 0, len(n.StaticTags)+2)
	tags = append(tags, n.StaticTags...)
	if n.Tags != nil {
		tags = append(tags, n.Tags.Tags(raw)...)
	}
	return tags
}

func (e *Engine) timestamp(n *schema.Node, raw any) time.Time {
	if n.Timestamp != nil {
		if ts, ok := n.Timestamp.Timestamp(raw, e.loc); ok {
			return ts.In(e.loc)
		}
	}
	return e.now().In(e.loc)
}
