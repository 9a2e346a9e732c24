package catalog

import (
	"errors"
	"slices"
	"strings"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source/lua"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

var hanfunUnitTypes = map[string]string{
	"273": "SIMPLE_BUTTON",
	"256": "SIMPLE_ON_OFF_SWITCHABLE",
	"257": "SIMPLE_ON_OFF_SWITCH",
	"262": "AC_OUTLET",
	"263": "AC_OUTLET_SIMPLE_POWER_METERING",
	"264": "SIMPLE_LIGHT",
	"265": "DIMMABLE_LIGHT",
	"266": "DIMMER_SWITCH",
	"277": "COLOR_BULB",
	"278": "DIMMABLE_COLOR_BULB",
	"281": "BLIND",
	"282": "LAMELLAR",
	"512": "SIMPLE_DETECTOR",
	"513": "DOOR_OPEN_CLOSE_DETECTOR",
	"514": "WINDOW_OPEN_CLOSE_DETECTOR",
	"515": "MOTION_DETECTOR",
	"518": "FLOOD_DETECTOR",
	"519": "GLAS_BREAK_DETECTOR",
	"520": "VIBRATION_DETECTOR",
	"640": "SIREN",
}

var hanfunInterfaces = map[string]string{
	"277":  "KEEP_ALIVE",
	"256":  "ALERT",
	"512":  "ON_OFF",
	"513":  "LEVEL_CTRL",
	"514":  "COLOR_CTRL",
	"516":  "OPEN_CLOSE",
	"517":  "OPEN_CLOSE_CONFIG",
	"772":  "SIMPLE_BUTTON",
	"1024": "SUOTA-Update",
}

// hanfunInterfaceNames maps a comma separated list of interface codes to
// their names. Unknown codes are kept as is.
func hanfunInterfaceNames(codes string) string {
	if codes == "" {
		return ""
	}
	parts := strings.Split(codes, ",")
	for i, c := range parts {
		c = strings.TrimSpace(c)
		if name, ok := hanfunInterfaces[c]; ok {
			parts[i] = name
		} else {
			parts[i] = c
		}
	}
	return strings.Join(parts, ", ")
}

// prepareHomeAutomation annotates every device with its decoded function
// classes under "@devicefunctions". HAN-FUN base devices are dropped; HAN-FUN
// units get readable unit and interface names and inherit the firmware
// version of their base device.
func prepareHomeAutomation(raw any) (any, error) {
	list, ok := schema.Get(raw, "devicelist").(map[string]any)
	if !ok {
		return nil, errors.New("response has no devicelist")
	}
	devices, _ := list["device"].([]any)
	if devices == nil {
		return raw, nil
	}

	byID := make(map[string]map[string]any, len(devices))
	for _, d := range devices {
		if dev, ok := d.(map[string]any); ok {
			byID[schema.GetString(dev, "@id")] = dev
		}
	}

	kept := make([]any, 0, len(devices))
	for _, d := range devices {
		dev, ok := d.(map[string]any)
		if !ok {
			continue
		}
		classes := decodeFunctionBitmask(schema.GetString(dev, "@functionbitmask"))
		functions := make([]any, len(classes))
		for i, c := range classes {
			functions[i] = c
		}
		dev["@devicefunctions"] = functions

		if slices.Contains(classes, deviceClasses[classHANFUN]) {
			continue
		}
		if slices.Contains(classes, deviceClasses[classHANFUNUnit]) {
			unit, _ := dev["etsiunitinfo"].(map[string]any)
			parent := schema.GetString(unit, "etsideviceid")
			if parent == "" {
				continue
			}
			unit["unittype"] = hanfunUnitTypes[schema.GetString(unit, "unittype")]
			unit["interfaces"] = hanfunInterfaceNames(schema.GetString(unit, "interfaces"))
			if fw := schema.GetString(byID[parent], "@fwversion"); fw != "" {
				dev["@fwversion"] = fw
			}
		}
		kept = append(kept, dev)
	}
	list["device"] = kept
	return raw, nil
}

func homeAutomation() Definition {
	byName := schema.TagPaths("name", "name")
	noDevices := func(raw any) bool {
		return !schema.HasKey(schema.Get(raw, "devicelist"), "device")
	}
	devices := func(name string, n *schema.Node) Metric {
		return metric(name, schema.ListOf("devicelist.device", n.WithTags(byName)).Excluding(noDevices))
	}
	// flag reads an integer attribute of section, 0 when empty.
	flag := func(name, path string) Metric {
		section, _, _ := strings.Cut(path, ".")
		return devices(name, schema.Computed(types.Int, orDefault(path, "0")).Excluding(schema.Missing(section)))
	}
	heating := func(name, path string, fallback float64) Metric {
		return devices(name, schema.Computed(types.Float, temperature(path, fallback, 16, 56, 8, 28)).
			Excluding(schema.Missing("hkr")))
	}

	return Definition{
		Name: "Home Automation",
		Kind: KindLua,
		Request: source.Request{
			Path:      lua.HomeAutoPath,
			Params:    map[string]string{"switchcmd": "getdevicelistinfos"},
			Format:    source.FormatXML,
			ForceList: []string{"device"},
		},
		MinFirmware: "7.29",
		Prepare:     prepareHomeAutomation,
		Metrics: []Metric{
			devices("ha_fw_version", schema.Leaf("@fwversion", types.String)),
			devices("ha_product_name", schema.Leaf("@productname", types.String)),
			devices("ha_manufacturer", schema.Leaf("@manufacturer", types.String)),
			devices("ha_devicefunctions", schema.Computed(types.String, func(raw any) (any, bool) {
				fns, _ := schema.Get(raw, "@devicefunctions").([]any)
				names := make([]string, 0, len(fns))
				for _, f := range fns {
					names = append(names, f.(string))
				}
				return strings.Join(names, ", "), true
			})),
			devices("ha_device_present", schema.Leaf("present", types.Int)),

			devices("ha_battery_percent", schema.Leaf("battery", types.Int).Excluding(schema.Missing("battery"))),
			devices("ha_battery_low", schema.Leaf("batterylow", types.Int).Excluding(schema.Missing("batterylow"))),

			devices("ha_temperature", schema.Computed(types.Float, func(raw any) (any, bool) {
				c, ok := number(raw, "temperature.celsius")
				if !ok {
					return nil, false
				}
				o, ok := number(raw, "temperature.offset")
				if !ok {
					return nil, false
				}
				return (c + o) / 10, true
			}).Excluding(func(raw any) bool {
				return schema.Missing("temperature.celsius")(raw) || schema.Missing("temperature.offset")(raw)
			})),
			devices("ha_temperature_celsius", schema.Computed(types.Float, scaled("temperature.celsius", 10)).
				Excluding(schema.Missing("temperature.celsius"))),
			devices("ha_temperature_offset", schema.Computed(types.Float, scaled("temperature.offset", 10)).
				Excluding(schema.Missing("temperature.offset"))),

			devices("ha_powermeter_power", schema.Computed(types.Float, scaled("powermeter.power", 1000)).
				Excluding(schema.Missing("powermeter.power"))),
			devices("ha_powermeter_energy", schema.Leaf("powermeter.energy", types.Float).
				Excluding(schema.Missing("powermeter.energy"))),
			devices("ha_powermeter_voltage", schema.Computed(types.Float, scaled("powermeter.voltage", 1000)).
				Excluding(schema.Missing("powermeter.voltage"))),

			flag("ha_switch_state", "switch.state"),
			devices("ha_switch_mode", schema.Computed(types.String, orDefault("switch.mode", "")).
				Excluding(schema.Missing("switch"))),
			flag("ha_switch_lock", "switch.lock"),
			flag("ha_switch_devicelock", "switch.devicelock"),
			flag("ha_simpleonoff_state", "simpleonoff.state"),
			flag("ha_levelcontrol_level", "levelcontrol.levelpercentage"),

			devices("ha_hun_fun_interfaces", schema.Leaf("etsiunitinfo.interfaces", types.String).
				Excluding(schema.Missing("etsiunitinfo"))),
			devices("ha_hun_fun_unittype", schema.Leaf("etsiunitinfo.unittype", types.String).
				Excluding(schema.Missing("etsiunitinfo"))),

			flag("ha_colorcontrol_current_mode", "colorcontrol.current_mode"),
			flag("ha_colorcontrol_hue", "colorcontrol.hue"),
			flag("ha_colorcontrol_saturation", "colorcontrol.saturation"),
			flag("ha_colorcontrol_temperature", "colorcontrol.temperature"),

			flag("ha_alert", "alert.state"),

			devices("ha_heating_tist", schema.Computed(types.Float, temperature("hkr.tist", 0, 0, 120, 0, 60)).
				Excluding(schema.Missing("hkr"))),
			heating("ha_heating_tsoll", "hkr.tsoll", 253),
			heating("ha_heating_komfort", "hkr.komfort", 253),
			heating("ha_heating_absenk", "hkr.absenk", 253),
			flag("ha_heating_lock", "hkr.lock"),
			flag("ha_heating_devicelock", "hkr.devicelock"),
			flag("ha_heating_errorcode", "hkr.errorcode"),
			flag("ha_heating_windowopenactiv", "hkr.windowopenactiv"),
			flag("ha_heating_windowopenactiveendtime", "hkr.windowopenactiveendtime"),
			flag("ha_heating_boostactive", "hkr.boostactive"),
			flag("ha_heating_boostactiveendtime", "hkr.boostactiveendtime"),
			flag("ha_heating_batterylow", "hkr.batterylow"),
			flag("ha_heating_battery", "hkr.battery"),
			flag("ha_heating_nextchange_endperiod", "hkr.nextchange.endperiod"),
			heating("ha_heating_nextchange_tchange", "hkr.nextchange.tchange", 0),
			flag("ha_heating_summeractive", "hkr.summeractive"),
			flag("ha_heating_holidayactive", "hkr.holidayactive"),
		},
	}
}
