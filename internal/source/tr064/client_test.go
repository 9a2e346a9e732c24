package tr064

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
)

const (
	testUser = "monitor"
	testPass = "s3cret"
)

const tr64Desc = `<?xml version="1.0"?>
<root xmlns="urn:dslforum-org:device-1-0">
<specVersion><major>1</major><minor>0</minor></specVersion>
<device>
<deviceType>urn:dslforum-org:device:InternetGatewayDevice:1</deviceType>
<friendlyName>FRITZ!Box 7590</friendlyName>
<serviceList>
<service>
<serviceType>urn:dslforum-org:service:DeviceInfo:1</serviceType>
<serviceId>urn:DeviceInfo-com:serviceId:DeviceInfo1</serviceId>
<controlURL>/upnp/control/deviceinfo</controlURL>
<eventSubURL>/upnp/control/deviceinfo</eventSubURL>
<SCPDURL>/deviceinfoSCPD.xml</SCPDURL>
</service>
<service>
<serviceType>urn:dslforum-org:service:WANCommonInterfaceConfig:1</serviceType>
<serviceId>urn:WANCIfConfig-com:serviceId:WANCommonInterfaceConfig1</serviceId>
<controlURL>/upnp/control/wancommonifconfig1</controlURL>
<eventSubURL>/upnp/control/wancommonifconfig1</eventSubURL>
<SCPDURL>/wancommonifconfigSCPD.xml</SCPDURL>
</service>
</serviceList>
</device>
</root>`

const igdDesc = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion><major>1</major><minor>0</minor></specVersion>
<device>
<deviceType>urn:schemas-upnp-org:device:InternetGatewayDevice:1</deviceType>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1</serviceType>
<serviceId>urn:upnp-org:serviceId:WANCommonIFC1</serviceId>
<controlURL>/igdupnp/control/WANCommonIFC1</controlURL>
<eventSubURL>/igdupnp/control/WANCommonIFC1</eventSubURL>
<SCPDURL>/igdicfgSCPD.xml</SCPDURL>
</service>
</serviceList>
</device>
</root>`

func scpdDoc(actions ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><scpd xmlns="urn:dslforum-org:service-1-0"><specVersion><major>1</major><minor>0</minor></specVersion><actionList>`)
	for _, a := range actions {
		fmt.Fprintf(&b, `<action><name>%s</name><argumentList></argumentList></action>`, a)
	}
	b.WriteString(`</actionList><serviceStateTable></serviceStateTable></scpd>`)
	return b.String()
}

func soapResponse(action, ns string, args map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&b, `<u:%sResponse xmlns:u="%s">`, action, ns)
	for k, v := range args {
		fmt.Fprintf(&b, "<%s>%s</%s>", k, v, k)
	}
	fmt.Fprintf(&b, `</u:%sResponse></s:Body></s:Envelope>`, action)
	return b.String()
}

func soapFault(code int, desc string) string {
	return fmt.Sprintf(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail><UPnPError xmlns="urn:dslforum-org:control-1-0"><errorCode>%d</errorCode><errorDescription>%s</errorDescription></UPnPError></detail></s:Fault></s:Body></s:Envelope>`, code, desc)
}

// requireDigest wraps next with a digest auth check against testUser/testPass.
func requireDigest(next http.Handler) http.Handler {
	const realm, nonce = "F!Box SOAP-Auth", "0123456789ABCDEF"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if rest, ok := strings.CutPrefix(h, "Digest "); ok {
			p := parseDigestParams(rest)
			ha1 := md5hex(testUser + ":" + realm + ":" + testPass)
			ha2 := md5hex(r.Method + ":" + p["uri"])
			want := md5hex(ha1 + ":" + nonce + ":" + p["nc"] + ":" + p["cnonce"] + ":" + p["qop"] + ":" + ha2)
			if p["username"] == testUser && p["response"] == want {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5, qop="auth"`, realm, nonce))
		w.WriteHeader(http.StatusUnauthorized)
	})
}

type fakeBox struct {
	srv      *httptest.Server
	lastBody string
	fault    int
}

func newFakeBox(t *testing.T) *fakeBox {
	t.Helper()
	fb := &fakeBox{}
	mux := http.NewServeMux()
	mux.HandleFunc("/tr64desc.xml", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, tr64Desc) })
	mux.HandleFunc("/igddesc.xml", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, igdDesc) })
	mux.HandleFunc("/deviceinfoSCPD.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, scpdDoc("GetInfo", "GetSecurityPort"))
	})
	mux.HandleFunc("/wancommonifconfigSCPD.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, scpdDoc("GetCommonLinkProperties", "X_AVM-DE_GetOnlineMonitor"))
	})
	mux.HandleFunc("/igdicfgSCPD.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, scpdDoc("GetAddonInfos"))
	})
	mux.Handle("/upnp/control/deviceinfo", requireDigest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fb.fault != 0 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, soapFault(fb.fault, "Invalid Action"))
			return
		}
		io.WriteString(w, soapResponse("GetInfo", "urn:dslforum-org:service:DeviceInfo:1", map[string]string{
			"NewUpTime":    "3600",
			"NewModelName": "FRITZ!Box 7590",
		}))
	})))
	mux.Handle("/upnp/control/wancommonifconfig1", requireDigest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fb.lastBody = string(b)
		io.WriteString(w, soapResponse("X_AVM-DE_GetOnlineMonitor", "urn:dslforum-org:service:WANCommonInterfaceConfig:1",
			map[string]string{"Newmax_ds": "100000"}))
	})))
	mux.HandleFunc("/igdupnp/control/WANCommonIFC1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, soapResponse("GetAddonInfos", "urn:schemas-upnp-org:service:WANCommonInterfaceConfig:1",
			map[string]string{"NewByteSendRate": "1234", "NewByteReceiveRate": "5678"}))
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBox) config(t *testing.T, password string) config.FritzBoxConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(fb.srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return config.FritzBoxConfig{
		Hostname:        host,
		Port:            p,
		Username:        testUser,
		PlainPassword:   password,
		ConnectTimeout:  2 * time.Second,
		RequestInterval: 10 * time.Second,
	}
}

func connect(t *testing.T, fb *fakeBox, password string) (*Client, error) {
	t.Helper()
	c, err := New(fb.config(t, password), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, c.Connect(context.Background())
}

func TestClient_CallReturnsOutArgs(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := c.Call(context.Background(), source.Request{Service: "DeviceInfo", Action: "GetInfo"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	m := res.(map[string]any)
	if m["NewUpTime"] != "3600" {
		t.Errorf("NewUpTime: got %v, want 3600", m["NewUpTime"])
	}
	if m["NewModelName"] != "FRITZ!Box 7590" {
		t.Errorf("NewModelName: got %v", m["NewModelName"])
	}
}

func TestClient_ServiceNamesFromBothDescriptions(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	res, err := c.Call(context.Background(), source.Request{Service: "WANCommonIFC", Action: "GetAddonInfos"})
	if err != nil {
		t.Fatalf("Call WANCommonIFC: %v", err)
	}
	if got := res.(map[string]any)["NewByteSendRate"]; got != "1234" {
		t.Errorf("NewByteSendRate: got %v", got)
	}

	// The type name resolves to the TR-064 service, not the IGD one.
	_, err = c.Call(context.Background(), source.Request{Service: "WANCommonInterfaceConfig:1", Action: "GetAddonInfos"})
	if !errors.Is(err, source.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
}

func TestClient_SendsParams(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err = c.Call(context.Background(), source.Request{
		Service: "WANCommonInterfaceConfig",
		Action:  "X_AVM-DE_GetOnlineMonitor",
		Params:  map[string]string{"NewSyncGroupIndex": "0"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(fb.lastBody, "<NewSyncGroupIndex>0</NewSyncGroupIndex>") {
		t.Errorf("request body missing argument: %s", fb.lastBody)
	}
}

func TestClient_UnknownService(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err = c.Call(context.Background(), source.Request{Service: "WANDSLInterfaceConfig", Action: "GetInfo"})
	if !errors.Is(err, source.ErrUnknownService) {
		t.Errorf("got %v, want ErrUnknownService", err)
	}
}

func TestClient_UnknownActionFromSCPD(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err = c.Call(context.Background(), source.Request{Service: "DeviceInfo", Action: "GetDeviceLog"})
	if !errors.Is(err, source.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
}

func TestClient_FaultInvalidActionIsCapabilityError(t *testing.T) {
	fb := newFakeBox(t)
	c, err := connect(t, fb, testPass)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fb.fault = upnpInvalidAction
	_, err = c.Call(context.Background(), source.Request{Service: "DeviceInfo", Action: "GetInfo"})
	if !errors.Is(err, source.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}

	fb.fault = 820
	_, err = c.Call(context.Background(), source.Request{Service: "DeviceInfo", Action: "GetInfo"})
	if err == nil || source.IsCapability(err) || errors.Is(err, source.ErrAuth) {
		t.Errorf("internal error should be transient, got %v", err)
	}
}

func TestClient_WrongPasswordIsAuthError(t *testing.T) {
	fb := newFakeBox(t)
	_, err := connect(t, fb, "wrong")
	if !errors.Is(err, source.ErrAuth) {
		t.Errorf("Connect: got %v, want ErrAuth", err)
	}
}

func TestClient_CallBeforeConnect(t *testing.T) {
	fb := newFakeBox(t)
	c, err := New(fb.config(t, testPass), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Call(context.Background(), source.Request{Service: "DeviceInfo", Action: "GetInfo"})
	if !errors.Is(err, source.ErrUnknownService) {
		t.Errorf("got %v, want ErrUnknownService", err)
	}
}

func TestNormalizeServiceName(t *testing.T) {
	cases := map[string]string{
		"DeviceInfo":                 "DeviceInfo1",
		"DeviceInfo1":                "DeviceInfo1",
		"WANCommonInterfaceConfig:1": "WANCommonInterfaceConfig1",
		"WLANConfiguration:3":        "WLANConfiguration3",
		"X_AVM-DE_RemoteAccess":      "X_AVM-DE_RemoteAccess1",
	}
	for in, want := range cases {
		if got := normalizeServiceName(in); got != want {
			t.Errorf("normalizeServiceName(%q): got %q, want %q", in, got, want)
		}
	}
}
