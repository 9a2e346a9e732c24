package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// orDefault reads path and substitutes fallback when it is absent.
func orDefault(path string, fallback any) schema.ExtractorFunc {
	return func(raw any) (any, bool) {
		if v, ok := schema.Lookup(raw, path); ok && v != "" {
			return v, true
		}
		return fallback, true
	}
}

func number(raw any, path string) (float64, bool) {
	v, ok := schema.Lookup(raw, path)
	if !ok {
		return 0, false
	}
	f, err := schema.Coerce(v, types.Float)
	if err != nil {
		return 0, false
	}
	return f.(float64), true
}

// scaled divides the number at path by div.
func scaled(path string, div float64) schema.ExtractorFunc {
	return func(raw any) (any, bool) {
		f, ok := number(raw, path)
		if !ok {
			return nil, false
		}
		return f / div, true
	}
}

// avmTemperature maps the encoded temperature of a heating regulator back to
// °C. 253 (off) and 254 (on) are passed through unchanged.
func avmTemperature(v, inMin, inMax, outMin, outMax float64) float64 {
	switch {
	case v == 253 || v == 254:
		return v
	case v < inMin:
		return outMin
	case v > inMax:
		return outMax
	}
	return (v-inMin)/(inMax-inMin)*(outMax-outMin) + outMin
}

func temperature(path string, fallback, inMin, inMax, outMin, outMax float64) schema.ExtractorFunc {
	return func(raw any) (any, bool) {
		v, ok := number(raw, path)
		if !ok {
			v = fallback
		}
		return avmTemperature(float64(int64(v)), inMin, inMax, outMin, outMax), true
	}
}

// deviceClasses names the bits of a home automation function bitmask.
var deviceClasses = []string{
	"HAN-FUN",
	"UNDEFINED 1",
	"Light",
	"UNDEFINED 3",
	"Alarm Sensor",
	"AVM Button",
	"Heating Regulator",
	"Energy Measurement",
	"Temperature Sensor",
	"Switchable Power Sockets",
	"AVM DECT Repeater",
	"Microphone",
	"UNDEFINED 12",
	"HAN-FUN-Unit",
	"UNDEFINED 14",
	"Switchable Device",
	"Dimmable Device",
	"Light with Adjustable Color",
	"Blinds",
}

const (
	classHANFUN     = 0
	classHANFUNUnit = 13
)

// decodeFunctionBitmask lists the device classes set in mask. Invalid masks
// yield no classes.
func decodeFunctionBitmask(mask string) []string {
	n, err := strconv.ParseInt(strings.TrimSpace(mask), 10, 64)
	if err != nil {
		return nil
	}
	var out []string
	for bit, name := range deviceClasses {
		if n&(1<<bit) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// activeHostText matches the connection text of active hosts, e.g.
// "2,4 GHz, 50 / 836 Mbit/s" or "166 / 150 Mbit/s".
var activeHostText = regexp.MustCompile(`^((?P<frequency>[0-9,]+) GHz)*(, )*((?P<downstream>\d+) / (?P<upstream>\d+) .*bit.*)*`)

type hostDetails struct {
	text       string
	mesh       bool
	frequency  string
	downstream int64
	upstream   int64
}

func parseHostDetails(raw any) hostDetails {
	props, _ := schema.Get(raw, "properties").([]any)
	txts := make([]string, 0, len(props))
	for _, p := range props {
		txts = append(txts, schema.GetString(p, "txt"))
	}

	d := hostDetails{text: strings.Join(txts, ", ")}
	var link string
	for _, t := range txts {
		if t == "Mesh" {
			d.mesh = true
		}
		if link == "" && (strings.Contains(t, "GHz") || strings.Contains(t, "bit")) {
			link = t
		}
	}

	m := activeHostText.FindStringSubmatch(link)
	if m == nil {
		return d
	}
	for i, name := range activeHostText.SubexpNames() {
		switch name {
		case "frequency":
			d.frequency = m[i]
		case "downstream":
			d.downstream, _ = strconv.ParseInt(m[i], 10, 64)
		case "upstream":
			d.upstream, _ = strconv.ParseInt(m[i], 10, 64)
		}
	}
	return d
}

// sumLengths adds up the lengths of the lists stored as values of the map at
// path. A missing map counts as zero.
func sumLengths(path string) schema.ExtractorFunc {
	return func(raw any) (any, bool) {
		m, _ := schema.Get(raw, path).(map[string]any)
		var n int64
		for _, v := range m {
			if l, ok := v.([]any); ok {
				n += int64(len(l))
			}
		}
		return n, true
	}
}

// length returns the number of elements of the list at path.
func length(path string) schema.ExtractorFunc {
	return func(raw any) (any, bool) {
		l, _ := schema.Get(raw, path).([]any)
		return int64(len(l)), true
	}
}

// callTypes names the "Typ" column of the call list.
var callTypes = map[string]string{
	"1": "incoming",
	"2": "unanswered",
	"3": "blocked",
	"4": "outgoing",
}

func callType(code string) string {
	if t, ok := callTypes[strings.TrimSpace(code)]; ok {
		return t
	}
	return "undefined"
}

// callDuration converts "h:mm" to minutes, 0 when malformed.
func callDuration(s string) int64 {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0
	}
	hours, err := strconv.ParseInt(h, 10, 64)
	if err != nil {
		return 0
	}
	minutes, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return hours*60 + minutes
}
