package catalog

import "github.com/bb-Ricardo/fritzinfluxdb/internal/source"

func tr064(service string, acts []Action, metrics []Metric) Definition {
	return Definition{
		Name:    service,
		Kind:    KindTR064,
		Request: source.Request{Service: service},
		Actions: acts,
		Metrics: metrics,
	}
}

func wlan(n string) Definition {
	p := "wlan" + n + "_"
	return tr064("WLANConfiguration:"+n, actions("GetInfo", "GetTotalAssociations"), fields(
		"NewStatus", p+"status",
		"NewChannel", p+"channel:int",
		"NewSSID", p+"ssid",
		"NewStandard", p+"802.11_standard",
		"NewTotalAssociations", p+"associations:int",
	))
}

// TR064Definitions returns the services polled through TR-064.
func TR064Definitions() []Definition {
	onlineMonitor := tr064("WANCommonInterfaceConfig",
		[]Action{{Name: "X_AVM-DE_GetOnlineMonitor", Params: map[string]string{"NewSyncGroupIndex": "0"}}},
		fields(
			"NewLayer1DownstreamMaxBitRate", "downstreamphysicalmax:int",
			"NewLayer1UpstreamMaxBitRate", "upstreamphysicalmax:int",
		))
	onlineMonitor.Name = "WANCommonInterfaceConfig online monitor"

	dsl := tr064("WANDSLInterfaceConfig",
		actions("GetInfo", "GetStatisticsTotal", "X_AVM-DE_GetDSLInfo"),
		fields(
			"NewDownstreamMaxRate", "maxBitRate_downstream:int",
			"NewUpstreamMaxRate", "maxBitRate_upstream:int",
			"NewDownstreamCurrRate", "downstream_dsl_sync_max:int",
			"NewUpstreamCurrRate", "upstream_dsl_sync_max:int",
			"NewDownstreamNoiseMargin", "snr_downstream:int",
			"NewUpstreamNoiseMargin", "snr_upstream:int",
			"NewDownstreamAttenuation", "attenuation_downstream:int",
			"NewUpstreamAttenuation", "attenuation_upstream:int",
			"NewSeverelyErroredSecs", "severely_errored_seconds:int",
			"NewErroredSecs", "errored_seconds:int",
			"NewCRCErrors", "crc_errors:int",
			"NewDownstreamPower", "power_downstream:int",
			"NewUpstreamPower", "power_upstream:int",
		))
	dsl.LinkType = LinkDSL

	ppp := tr064("WANPPPConnection:1", actions("GetInfo"), fields(
		"NewExternalIPAddress", "external_ip",
		"NewLastAuthErrorInfo", "last_auth_error",
		"NewPPPoEACName", "remote_pop",
		"NewUptime", "phyiscal_linkuptime:int",
		"NewConnectionStatus", "physical_connection_status",
		"NewLastConnectionError", "last_connection_error",
	))
	ppp.LinkType = LinkDSL

	ipConn := tr064("WANIPConnection:1", actions("GetInfo"), fields(
		"NewExternalIPAddress", "external_ip",
		"NewUptime", "phyiscal_linkuptime:int",
		"NewConnectionStatus", "physical_connection_status",
		"NewLastConnectionError", "last_connection_error",
	))
	ipConn.LinkType = LinkCable

	return []Definition{
		tr064("WANCommonIFC", actions("GetAddonInfos", "GetCommonLinkProperties"), fields(
			"NewByteSendRate", "sendrate:int",
			"NewByteReceiveRate", "receiverate:int",
			"NewX_AVM_DE_TotalBytesSent64", "totalbytessent:int",
			"NewX_AVM_DE_TotalBytesReceived64", "totalbytesreceived:int",
			"NewLayer1DownstreamMaxBitRate", "downstreammax:int",
			"NewLayer1UpstreamMaxBitRate", "upstreammax:int",
			"NewPhysicalLinkStatus", "physicallinkstatus",
			"NewX_AVM_DE_WANAccessType", "physicallinktype",
		)),
		tr064("WANIPConn", actions("GetStatusInfo", "X_AVM_DE_GetExternalIPv6Address", "X_AVM_DE_GetIPv6Prefix"), fields(
			"NewUptime", "linkuptime:int",
			"NewConnectionStatus", "connection_status",
			"NewLastConnectionError", "last_connection_error",
			"NewExternalIPv6Address", "external_ipv6",
			"NewIPv6Prefix", "ipv6_prefix",
			"NewPrefixLength", "ipv6_prefix_length:int",
		)),
		tr064("WANCommonInterfaceConfig:1", actions("GetCommonLinkProperties"), fields(
			"NewLayer1DownstreamMaxBitRate", "downstreamphysicalmax:int",
			"NewLayer1UpstreamMaxBitRate", "upstreamphysicalmax:int",
		)),
		onlineMonitor,
		tr064("DeviceInfo", actions("GetInfo"), fields(
			"NewUpTime", "systemuptime:int",
			"NewDescription", "description",
			"NewSerialNumber", "serialnumber",
			"NewModelName", "model",
			"NewSoftwareVersion", "softwareversion",
		)),
		tr064("LANEthernetInterfaceConfig:1", actions("GetStatistics"), fields(
			"NewBytesReceived", "lan_totalbytesreceived:int",
			"NewBytesSent", "lan_totalbytessent:int",
		)),
		dsl,
		tr064("UserInterface:1", actions("GetInfo"), fields(
			"NewUpgradeAvailable", "upgrade_available:bool",
			"NewX_AVM-DE_UpdateState", "update_state",
		)),
		ppp,
		ipConn,
		tr064("LANHostConfigManagement", actions("GetInfo"), fields(
			"NewDNSServers", "internal_dns_servers",
		)),
		wlan("1"),
		wlan("2"),
		wlan("3"),
		tr064("X_AVM-DE_RemoteAccess", actions("GetDDNSInfo"), fields(
			"NewEnabled", "ddns_enabled:bool",
			"NewProviderName", "ddns_provider_name",
			"NewDomain", "ddns_domain",
			"NewStatusIPv4", "ddns_status_ipv4",
			"NewStatusIPv6", "ddns_status_ipv6",
			"NewMode", "ddns_mode",
		)),
	}
}
