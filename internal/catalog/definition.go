package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// Source kinds a Definition can be polled through. They equal the adapter
// names.
const (
	KindTR064 = "tr064"
	KindLua   = "lua"
)

// Action is one TR-064 action of a service together with its input arguments.
type Action struct {
	Name   string
	Params map[string]string
}

// Metric binds a measurement name to the schema extracting it.
type Metric struct {
	Name string
	Node *schema.Node
}

// PrepareFunc rewrites raw response data before extraction.
type PrepareFunc func(raw any) (any, error)

// Definition describes how one device service is polled and which metrics are
// extracted from its response. Definitions are static and shared; runtime
// state lives in Service.
type Definition struct {
	Name string
	Kind string

	// Request is the adapter request. For TR-064 only Request.Service is
	// used and one call is made per Action; the out arguments of all actions
	// are merged before extraction.
	Request source.Request
	Actions []Action

	// Interval is the desired poll interval. Zero means as often as the
	// adapter allows.
	Interval time.Duration

	Metrics []Metric

	// Track suppresses measurements that were already emitted.
	Track bool

	// Firmware lists the exact firmware versions ("7.29") the definition
	// applies to. MinFirmware is an inclusive lower bound. LinkType restricts
	// the definition to one WAN link type. Empty values do not constrain.
	Firmware    []string
	MinFirmware string
	LinkType    LinkType

	Prepare PrepareFunc
}

// Validate checks the definition and every metric schema in it.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	switch d.Kind {
	case KindTR064:
		if d.Request.Service == "" {
			errs = append(errs, errors.New("tr064 definition without service"))
		}
		if len(d.Actions) == 0 {
			errs = append(errs, errors.New("tr064 definition without actions"))
		}
	case KindLua:
		if len(d.Actions) > 0 {
			errs = append(errs, errors.New("lua definition cannot have actions"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", d.Kind))
	}
	if d.Interval < 0 {
		errs = append(errs, errors.New("negative interval"))
	}
	if len(d.Metrics) == 0 {
		errs = append(errs, errors.New("no metrics"))
	}
	seen := make(map[string]bool, len(d.Metrics))
	for _, m := range d.Metrics {
		if m.Name == "" {
			errs = append(errs, errors.New("metric without name"))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("duplicate metric %q", m.Name))
		}
		seen[m.Name] = true
		if err := schema.Validate(m.Name, m.Node); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range d.Firmware {
		if _, err := parseVersion(v); err != nil {
			errs = append(errs, err)
		}
	}
	if d.MinFirmware != "" {
		if _, err := parseVersion(d.MinFirmware); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("definition %q: %w", d.Name, err)
	}
	return nil
}

// ValidateAll validates every definition and returns all problems at once.
func ValidateAll(defs []Definition) error {
	var errs []error
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Definitions returns every known definition of both sources.
func Definitions() []Definition {
	return append(TR064Definitions(), LuaDefinitions()...)
}

// ByKind returns the definitions polled through the given source kind.
func ByKind(defs []Definition, kind string) []Definition {
	var out []Definition
	for _, d := range defs {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// field returns a leaf metric for a TR-064 out argument. spec has the form
// "metric:type"; a missing type means str.
func field(arg, spec string) Metric {
	name, typ, _ := strings.Cut(spec, ":")
	t := types.String
	if typ != "" {
		var err error
		if t, err = types.ParseValueType(typ); err != nil {
			t = types.Invalid
		}
	}
	return Metric{Name: name, Node: schema.Leaf(arg, t)}
}

// fields builds metrics from argument/spec pairs.
func fields(pairs ...string) []Metric {
	out := make([]Metric, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, field(pairs[i], pairs[i+1]))
	}
	return out
}

// actions builds parameterless actions.
func actions(names ...string) []Action {
	out := make([]Action, len(names))
	for i, n := range names {
		out[i] = Action{Name: n}
	}
	return out
}
