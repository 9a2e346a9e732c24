package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
)

// LinkType is the WAN access technology of the device.
type LinkType string

const (
	LinkFiber   LinkType = "Fiber"
	LinkCable   LinkType = "Cable"
	LinkDSL     LinkType = "DSL"
	LinkNoModem LinkType = "NoModem"
	LinkMobile  LinkType = "Mobile"
	LinkOther   LinkType = "Other"
)

// modelLinkTypes is consulted when the device does not report its link type.
// Keys are matched as substrings of the model name.
var modelLinkTypes = []struct {
	model string
	link  LinkType
}{
	{"3490", LinkDSL},
	{"4020", LinkNoModem},
	{"4040", LinkNoModem},
	{"4060", LinkNoModem},
	{"5490", LinkFiber},
	{"5491", LinkFiber},
	{"5530", LinkFiber},
	{"5590", LinkFiber},
	{"6430", LinkCable},
	{"6490", LinkCable},
	{"6590", LinkCable},
	{"6591", LinkCable},
	{"6660", LinkCable},
	{"6690", LinkCable},
	{"6820", LinkMobile},
	{"6850", LinkMobile},
	{"6890", LinkMobile},
	{"7362", LinkDSL},
	{"7412", LinkDSL},
	{"7430", LinkDSL},
	{"7490", LinkDSL},
	{"7510", LinkDSL},
	{"7520", LinkDSL},
	{"7530", LinkDSL},
	{"7560", LinkDSL},
	{"7580", LinkDSL},
	{"7582", LinkDSL},
	{"7583", LinkDSL},
	{"7590", LinkDSL},

	// older models
	{"3272", LinkDSL},
	{"3370", LinkDSL},
	{"3390", LinkDSL},
	{"6340", LinkCable},
	{"6360", LinkCable},
	{"6810", LinkMobile},
	{"6840", LinkMobile},
	{"6842", LinkMobile},
	{"7272", LinkDSL},
	{"7312", LinkDSL},
	{"7320", LinkDSL},
	{"7330", LinkDSL},
	{"7340", LinkDSL},
	{"7360", LinkDSL},
	{"7369", LinkDSL},
	{"7390", LinkDSL},
	{"7581", LinkDSL},
}

// ResolveLinkType prefers the link mode reported by the device and falls back
// to the model table.
func ResolveLinkType(model string, discovered string) LinkType {
	if discovered != "" && discovered != string(LinkOther) {
		return LinkType(discovered)
	}
	for _, e := range modelLinkTypes {
		if strings.Contains(model, e.model) {
			return e.link
		}
	}
	return LinkOther
}

// Device is what is known about the polled device before scheduling.
type Device struct {
	Model    string
	Firmware string // "7.29"; empty when unknown
	LinkType LinkType
}

// ParseFirmware reduces a reported software version such as "154.07.29" to
// "7.29". It returns "" when the value has no major.minor suffix.
func ParseFirmware(software string) string {
	parts := strings.Split(strings.TrimSpace(software), ".")
	if len(parts) < 2 {
		return ""
	}
	major, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return ""
	}
	minor := parts[len(parts)-1]
	if _, err := strconv.Atoi(minor); err != nil {
		return ""
	}
	return strconv.Itoa(major) + "." + minor
}

// ProbeDevice reads model, firmware and link type through a connected TR-064
// source. A failing link query only degrades to the model table; a failing
// device info query is returned as error.
func ProbeDevice(ctx context.Context, src source.Source, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := src.Call(ctx, source.Request{Service: "DeviceInfo", Action: "GetInfo"})
	if err != nil {
		return Device{}, fmt.Errorf("catalog: probe device info: %w", err)
	}
	dev := Device{
		Model:    schema.GetString(info, "NewModelName"),
		Firmware: ParseFirmware(schema.GetString(info, "NewSoftwareVersion")),
	}

	var discovered string
	link, err := src.Call(ctx, source.Request{Service: "WANCommonIFC", Action: "GetCommonLinkProperties"})
	if err != nil {
		logger.Warn("catalog: link type query failed, using model table", "err", err)
	} else {
		discovered = schema.GetString(link, "NewX_AVM_DE_WANAccessType")
		if discovered == "" {
			discovered = schema.GetString(link, "NewWANAccessType")
		}
	}
	dev.LinkType = ResolveLinkType(dev.Model, discovered)

	logger.Info("catalog: device probed",
		"model", dev.Model, "firmware", dev.Firmware, "link_type", string(dev.LinkType))
	return dev, nil
}

// Applies reports whether d can be polled on dev.
//
// Definitions bound to exact firmware versions are skipped when the firmware
// is unknown; minimum versions are assumed satisfied in that case.
func (d *Definition) Applies(dev Device) bool {
	if d.LinkType != "" && d.LinkType != dev.LinkType {
		return false
	}
	if len(d.Firmware) > 0 {
		if dev.Firmware == "" {
			return false
		}
		found := false
		for _, v := range d.Firmware {
			if v == dev.Firmware {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if d.MinFirmware != "" && dev.Firmware != "" {
		have, err := parseVersion(dev.Firmware)
		if err != nil {
			return false
		}
		want, err := parseVersion(d.MinFirmware)
		if err != nil {
			return false
		}
		if have.less(want) {
			return false
		}
	}
	return true
}

// Select returns the definitions that apply to dev.
func Select(defs []Definition, dev Device) []Definition {
	var out []Definition
	for i := range defs {
		if defs[i].Applies(dev) {
			out = append(out, defs[i])
		}
	}
	return out
}

type version struct{ major, minor int }

func parseVersion(s string) (version, error) {
	majStr, minStr, ok := strings.Cut(s, ".")
	if !ok {
		return version{}, fmt.Errorf("firmware version %q: want major.minor", s)
	}
	a, err := strconv.Atoi(majStr)
	if err != nil {
		return version{}, fmt.Errorf("firmware version %q: %w", s, err)
	}
	b, err := strconv.Atoi(minStr)
	if err != nil {
		return version{}, fmt.Errorf("firmware version %q: %w", s, err)
	}
	return version{a, b}, nil
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	return v.minor < o.minor
}
