package catalog

import (
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

var (
	firmwareLegacy  = []string{"7.29", "7.30", "7.31"}
	firmwareCurrent = []string{"7.39", "7.50"}
	firmwareAll     = append(append([]string{}, firmwareLegacy...), firmwareCurrent...)
)

func page(name string, params map[string]string, interval time.Duration, metrics ...Metric) Definition {
	return Definition{
		Name:     name,
		Kind:     KindLua,
		Request:  source.Request{Params: params},
		Interval: interval,
		Metrics:  metrics,
	}
}

func metric(name string, n *schema.Node) Metric {
	return Metric{Name: name, Node: n}
}

// LuaDefinitions returns the pages polled through the web interface.
func LuaDefinitions() []Definition {
	defs := []Definition{
		systemStats(),
		energyStats(),
		dslInfo(),
		cableInfo(),
		activeHosts(),
		passiveHosts(),
		vpnUsers("data.vpnInfo", firmwareLegacy),
		vpnUsers("data.init", firmwareCurrent),
	}
	defs = append(defs, logDefinitions()...)
	defs = append(defs, homeAutomation(), callList())
	return defs
}

func systemStats() Definition {
	d := page("System Stats", map[string]string{"page": "ecoStat", "lang": "de"}, 150*time.Second,
		metric("cpu_temp", schema.Leaf("data.cputemp.series.0.-1", types.Int)),
		metric("cpu_utilization", schema.Leaf("data.cpuutil.series.0.-1", types.Int)),
		metric("ram_usage_fixed", schema.Leaf("data.ramusage.series.0.-1", types.Int)),
		metric("ram_usage_dynamic", schema.Leaf("data.ramusage.series.1.-1", types.Int)),
		metric("ram_usage_free", schema.Leaf("data.ramusage.series.2.-1", types.Int)),
	)
	d.MinFirmware = "7.29"
	return d
}

func energyStats() Definition {
	d := page("Energy Stats", map[string]string{"page": "energy", "lang": "de"}, 150*time.Second,
		metric("energy_consumption", schema.ListOf("data.drain",
			schema.Leaf("actPerc", types.Int).
				WithTags(schema.TagPaths("name", "name")).
				Excluding(func(raw any) bool { return schema.HasKey(raw, "lan") }))),
	)
	d.MinFirmware = "7.29"
	return d
}

func dslInfo() Definition {
	d := page("DSL Info", map[string]string{"page": "dslOv", "xhrId": "all", "xhr": "1", "useajax": "1"}, 10*time.Minute,
		metric("dsl_line_length", schema.Leaf("data.connectionData.lineLength", types.Int)),
		metric("dsl_dslam_vendor", schema.Leaf("data.connectionData.dslamId", types.String)),
		metric("dsl_dslam_sw_version", schema.Leaf("data.connectionData.version", types.String)),
		metric("dsl_line_mode", schema.Leaf("data.connectionData.line.0.mode", types.String)),
	)
	d.Firmware = firmwareLegacy
	d.LinkType = LinkDSL
	return d
}

func cableInfo() Definition {
	d := page("Cable Info", map[string]string{"page": "docOv", "xhrId": "all", "xhr": "1"}, 10*time.Minute,
		metric("cable_cmts_vendor", schema.Leaf("data.connectionData.externApValue", types.String)),
		metric("cable_modem_version", schema.Leaf("data.connectionData.version", types.String)),
		metric("cable_line_mode", schema.Leaf("data.connectionData.line.0.mode", types.String)),
		metric("cable_num_ds_channels", schema.Computed(types.Int, sumLengths("data.connectionData.dsFreqs.values"))),
		metric("cable_num_us_channels", schema.Computed(types.Int, sumLengths("data.connectionData.usFreqs.values"))),
	)
	d.Firmware = firmwareAll
	d.LinkType = LinkCable
	return d
}

func activeHosts() Definition {
	list := func(n *schema.Node) *schema.Node { return schema.ListOf("data.active", n) }
	byUID := schema.TagPaths("uid", "UID")
	byUIDName := schema.TagPaths("uid", "UID", "name", "name")
	detail := func(t types.ValueType, get func(hostDetails) any) *schema.Node {
		return schema.Computed(t, func(raw any) (any, bool) {
			return get(parseHostDetails(raw)), true
		}).WithTags(byUIDName)
	}

	d := page("Active network hosts",
		map[string]string{"page": "netDev", "useajax": "1", "xhrId": "all", "xhr": "1", "initial": "true"},
		2*time.Minute,
		metric("active_hosts_name", list(schema.Leaf("name", types.String).WithTags(byUID))),
		metric("active_hosts_mac", list(schema.Leaf("mac", types.String).WithTags(byUID))),
		metric("active_hosts_type", list(schema.Leaf("type", types.String).WithTags(byUID))),
		metric("active_hosts_parent", list(schema.Leaf("parent.name", types.String).WithTags(byUID))),
		metric("active_hosts_port", list(schema.Leaf("port", types.String).WithTags(byUID))),
		metric("active_hosts_ipv4", list(schema.Leaf("ipv4.ip", types.String).WithTags(byUID))),
		metric("active_hosts_ipv4_last_used", list(
			schema.Computed(types.Int, orDefault("ipv4.lastused", int64(0))).WithTags(byUIDName))),
		metric("active_hosts_additional_text", list(detail(types.String, func(h hostDetails) any { return h.text }))),
		metric("active_hosts_is_mesh", list(detail(types.Bool, func(h hostDetails) any { return h.mesh }))),
		metric("active_hosts_frequency", list(detail(types.String, func(h hostDetails) any { return h.frequency }))),
		metric("active_hosts_downstream", list(detail(types.Int, func(h hostDetails) any { return h.downstream }))),
		metric("active_hosts_upstream", list(detail(types.Int, func(h hostDetails) any { return h.upstream }))),
		metric("num_active_host", schema.Computed(types.Int, length("data.active"))),
	)
	d.Firmware = firmwareAll
	return d
}

func passiveHosts() Definition {
	list := func(n *schema.Node) *schema.Node { return schema.ListOf("data.passive", n) }
	byUID := schema.TagPaths("uid", "UID")

	d := page("Passive network hosts",
		map[string]string{"page": "netDev", "useajax": "1", "xhrId": "cleanup", "xhr": "1"},
		10*time.Minute,
		metric("passive_hosts_name", list(schema.Leaf("name", types.String).WithTags(byUID))),
		metric("passive_hosts_mac", list(schema.Leaf("mac", types.String).WithTags(byUID))),
		metric("passive_hosts_port", list(schema.Leaf("port", types.String).WithTags(byUID))),
		metric("passive_hosts_ipv4", list(schema.Leaf("ipv4.ip", types.String).WithTags(byUID))),
		metric("num_passive_host", schema.Computed(types.Int, length("data.passive"))),
	)
	d.Firmware = firmwareAll
	return d
}

// vpnUsers reads the VPN page whose payload lives under base. The location
// moved between firmware generations.
func vpnUsers(base string, firmware []string) Definition {
	conns := base + ".userConnections"
	user := func(field string) *schema.Node {
		return schema.MapOf(conns, schema.Leaf(field, types.String).WithTags(schema.TagPaths("name", "name"))).
			Excluding(schema.NotMap(conns))
	}

	d := page("VPN Users", map[string]string{"page": "shareVpn", "xhrId": "all", "xhr": "1"}, 0,
		metric("myfritz_host_name", schema.Leaf(base+".server", types.String)),
		metric("vpn_type", schema.Leaf(base+".type", types.String)),
		metric("vpn_user_connected", user("connected")),
		metric("vpn_user_active", user("active")),
		metric("vpn_user_virtual_address", user("virtualAddress")),
		metric("vpn_user_remote_address", user("address")),
		metric("vpn_user_num_active", schema.Computed(types.Int, func(raw any) (any, bool) {
			m, _ := schema.Get(raw, conns).(map[string]any)
			var n int64
			for _, u := range m {
				if c, ok := schema.Get(u, "connected").(bool); ok && c {
					n++
				}
			}
			return n, true
		}).Excluding(schema.NotMap(conns))),
	)
	d.Firmware = firmware
	return d
}

var logKinds = []struct {
	name          string
	legacyFilter  string
	currentFilter string
	interval      time.Duration
}{
	{"System", "1", "sys", 60 * time.Second},
	{"Internet connection", "2", "net", 61 * time.Second},
	{"Telephony", "3", "fon", 62 * time.Second},
	{"WLAN", "4", "wlan", 63 * time.Second},
	{"USB Devices", "5", "usb", 64 * time.Second},
}

const logTimeLayout = "02.01.06 15:04:05"

// logDefinitions returns one tracked definition per log kind and firmware
// generation. Older firmware returns rows as [date, time, message], newer
// firmware as objects.
func logDefinitions() []Definition {
	var defs []Definition
	for _, k := range logKinds {
		legacy := page(k.name+" logs",
			map[string]string{"filter": k.legacyFilter, "page": "log", "lang": "de"}, k.interval,
			metric("log_entry", schema.ListOf("data.log",
				schema.Leaf("2", types.String).
					WithStaticTag("log_type", k.name).
					WithTimestamp(schema.LocalTime(logTimeLayout, "0", "1")))),
		)
		legacy.Firmware = firmwareLegacy
		legacy.Track = true

		current := page(k.name+" logs",
			map[string]string{"filter": k.currentFilter, "page": "log", "lang": "de"}, k.interval,
			metric("log_entry", schema.ListOf("data.log",
				schema.Leaf("msg", types.String).
					WithStaticTag("log_type", k.name).
					WithTimestamp(schema.LocalTime(logTimeLayout, "date", "time")))),
		)
		current.Firmware = firmwareCurrent
		current.Track = true

		defs = append(defs, legacy, current)
	}
	return defs
}
