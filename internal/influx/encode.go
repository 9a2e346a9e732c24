package influx

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// encodeLine renders m as one point of measurement.
func encodeLine(measurement string, m types.Measurement) ([]byte, error) {
	v, ok := lineprotocol.NewValue(m.Value)
	if !ok {
		return nil, fmt.Errorf("metric %s: unsupported field value %v (%T)", m.Name, m.Value, m.Value)
	}

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Millisecond)
	enc.StartLine(measurement)
	for _, t := range pointTags(m) {
		enc.AddTag(t.Key, t.Value)
	}
	enc.AddField(m.Name, v)
	enc.EndLine(m.Timestamp)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	return enc.Bytes(), nil
}

// pointTags returns the tags of m sorted by key as line protocol requires.
// Empty values cannot be encoded and are left out; of duplicate keys the
// first one wins.
func pointTags(m types.Measurement) []types.Tag {
	all := m.AllTags()
	tags := make([]types.Tag, 0, len(all))
	for _, t := range all {
		if t.Key == "" || t.Value == "" {
			continue
		}
		tags = append(tags, t)
	}
	slices.SortStableFunc(tags, func(a, b types.Tag) int { return cmp.Compare(a.Key, b.Key) })
	return slices.CompactFunc(tags, func(a, b types.Tag) bool { return a.Key == b.Key })
}

// encodeBatch renders a batch as line protocol. Measurements that cannot be
// encoded are returned separately so the caller can account for them.
func encodeBatch(measurement string, batch []types.Measurement) ([]byte, []error) {
	var (
		body []byte
		errs []error
	)
	for _, m := range batch {
		line, err := encodeLine(measurement, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		body = append(body, line...)
	}
	return body, errs
}
