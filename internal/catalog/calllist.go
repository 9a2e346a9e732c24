package catalog

import (
	"fmt"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source/lua"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

const callTimeLayout = "02.01.06 15:04"

// prepareCallList turns the rows of the call list export into entries with
// stable keys. The uid of an entry is the hash of its CSV line, so repeated
// exports of the same call are suppressed by tracking.
func prepareCallList(raw any) (any, error) {
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("call list: unexpected %T", raw)
	}
	entries := make([]any, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, map[string]any{
			"uid":             schema.GetString(r, source.CSVLineHashKey),
			"date":            schema.GetString(r, "Datum"),
			"type":            callType(schema.GetString(r, "Typ")),
			"caller_name":     schema.GetString(r, "Name"),
			"caller_number":   schema.GetString(r, "Rufnummer"),
			"caller_location": schema.GetString(r, "Landes-/Ortsnetzbereich"),
			"extension":       schema.GetString(r, "Nebenstelle"),
			"number_called":   schema.GetString(r, "Eigene Rufnummer"),
			"duration":        callDuration(schema.GetString(r, "Dauer")),
		})
	}
	return entries, nil
}

func callList() Definition {
	entry := func(name, key string, t types.ValueType) Metric {
		return metric(name, schema.ListOf("", schema.Leaf(key, t).
			WithTags(schema.TagPaths("uid", "uid")).
			WithTimestamp(schema.LocalTime(callTimeLayout, "date"))))
	}
	return Definition{
		Name: "Phone call list",
		Kind: KindLua,
		Request: source.Request{
			Path:   lua.CallListPath,
			Params: map[string]string{"csv": ""},
			Format: source.FormatCSV,
		},
		Interval:    time.Minute,
		Track:       true,
		MinFirmware: "7.29",
		Prepare:     prepareCallList,
		Metrics: []Metric{
			entry("call_list_type", "type", types.String),
			entry("call_list_caller_name", "caller_name", types.String),
			entry("call_list_caller_number", "caller_number", types.String),
			entry("call_list_caller_location", "caller_location", types.String),
			entry("call_list_extension", "extension", types.String),
			entry("call_list_number_called", "number_called", types.String),
			entry("call_list_duration", "duration", types.Int),
		},
	}
}
