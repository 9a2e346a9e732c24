// Package tr064 polls the device through its TR-064 SOAP interface.
//
// Service descriptions are read from /tr64desc.xml and, when present,
// /igddesc.xml into goupnp device trees. Actions are sent with the goupnp
// SOAP client over an HTTP client that answers digest challenges.
package tr064

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/scpd"
	"github.com/huin/goupnp/soap"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
)

// Name is the adapter name used in logs and metrics.
const Name = "tr064"

// Description documents fetched on Connect. The first is required.
var descriptionPaths = []string{"/tr64desc.xml", "/igddesc.xml"}

// UPnP error codes carried in SOAP faults.
const (
	upnpInvalidAction       = 401
	upnpInvalidArgs         = 402
	upnpActionNotAuthorized = 606
)

type service struct {
	desc goupnp.Service
	soap *soap.SOAPClient
	scpd *scpd.SCPD
}

// Client is a source.Source speaking TR-064.
type Client struct {
	base     *url.URL
	http     *http.Client
	digest   *digestTransport
	interval time.Duration
	logger   *slog.Logger

	services map[string]*service
}

var _ source.Source = (*Client)(nil)

// New returns a Client for the device described by cfg. No network I/O
// happens until Connect.
func New(cfg config.FritzBoxConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.TR064URL())
	if err != nil {
		return nil, fmt.Errorf("tr064: parse url: %w", err)
	}
	tr, err := source.NewTransport(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("tr064: build http client: %w", err)
	}
	dt := &digestTransport{base: tr, username: cfg.Username, password: cfg.Password()}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:     base,
		http:     &http.Client{Transport: dt, Timeout: timeout},
		digest:   dt,
		interval: cfg.RequestInterval,
		logger:   logger,
		services: make(map[string]*service),
	}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) MinInterval() time.Duration { return c.interval }

// Connect loads the service descriptions and checks the credentials with
// DeviceInfo/GetInfo.
func (c *Client) Connect(ctx context.Context) error {
	clear(c.services)
	for i, p := range descriptionPaths {
		root, err := c.fetchDescription(ctx, p)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("tr064: %w", err)
			}
			c.logger.Debug("tr064: optional description not loaded", "path", p, "err", err)
			continue
		}
		c.index(root)
	}
	c.logger.Debug("tr064: descriptions loaded", "services", len(c.services))

	_, err := c.Call(ctx, source.Request{Service: "DeviceInfo1", Action: "GetInfo"})
	if errors.Is(err, source.ErrAuth) {
		return err
	}
	if err != nil {
		c.logger.Warn("tr064: connection check failed", "err", err)
	}
	return nil
}

// Call performs req.Action on req.Service and returns the output arguments as
// a map of strings.
func (c *Client) Call(ctx context.Context, req source.Request) (any, error) {
	svc, ok := c.lookup(req.Service)
	if !ok {
		return nil, fmt.Errorf("tr064: %s: %w", req.Service, source.ErrUnknownService)
	}
	if svc.scpd == nil {
		doc, err := c.fetchSCPD(ctx, svc)
		if err != nil {
			return nil, fmt.Errorf("tr064: %s: %w", req.Service, err)
		}
		svc.scpd = doc
	}
	if svc.scpd.GetAction(req.Action) == nil {
		return nil, fmt.Errorf("tr064: %s/%s: %w", req.Service, req.Action, source.ErrUnknownAction)
	}

	out := make(outArgs)
	err := svc.soap.PerformActionCtx(ctx, svc.desc.ServiceType, req.Action, inArgs(req.Params), &out)
	if err != nil {
		return nil, c.classify(req, err)
	}
	res := make(map[string]any, len(out))
	for k, v := range out {
		res[k] = v
	}
	return res, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) classify(req source.Request, err error) error {
	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		switch fault.Detail.UPnPError.Errorcode {
		case upnpInvalidAction, upnpInvalidArgs:
			return fmt.Errorf("tr064: %s/%s: %s: %w", req.Service, req.Action,
				fault.Detail.UPnPError.ErrorDescription, source.ErrUnknownAction)
		case upnpActionNotAuthorized:
			return fmt.Errorf("tr064: %s/%s: %w", req.Service, req.Action, source.ErrAuth)
		}
		return fmt.Errorf("tr064: %s/%s: upnp error %d %s", req.Service, req.Action,
			fault.Detail.UPnPError.Errorcode, fault.Detail.UPnPError.ErrorDescription)
	}
	if c.digest.rejected.Load() {
		return fmt.Errorf("tr064: %s/%s: %w", req.Service, req.Action, source.ErrAuth)
	}
	return fmt.Errorf("tr064: %s/%s: %w", req.Service, req.Action, err)
}

func (c *Client) fetchDescription(ctx context.Context, path string) (*goupnp.RootDevice, error) {
	root := new(goupnp.RootDevice)
	if err := c.getXML(ctx, c.base.JoinPath(path).String(), root); err != nil {
		return nil, fmt.Errorf("description %s: %w", path, err)
	}
	root.SetURLBase(c.base)
	return root, nil
}

func (c *Client) fetchSCPD(ctx context.Context, svc *service) (*scpd.SCPD, error) {
	if !svc.desc.SCPDURL.Ok {
		return nil, errors.New("service has no SCPD url")
	}
	doc := new(scpd.SCPD)
	if err := c.getXML(ctx, svc.desc.SCPDURL.URL.String(), doc); err != nil {
		return nil, fmt.Errorf("scpd: %w", err)
	}
	doc.Clean()
	return doc, nil
}

func (c *Client) getXML(ctx context.Context, u string, doc any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", source.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return source.ErrAuth
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := xml.NewDecoder(resp.Body).Decode(doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// index registers every service of root under its serviceId suffix
// ("DeviceInfo1") and its type name plus version ("WANCommonInterfaceConfig1").
// Services already known by a name keep it.
func (c *Client) index(root *goupnp.RootDevice) {
	root.Device.VisitServices(func(s *goupnp.Service) {
		svc := &service{desc: *s}
		svc.soap = soap.NewSOAPClient(s.ControlURL.URL)
		svc.soap.HTTPClient = *c.http
		for _, key := range serviceKeys(s) {
			if _, exists := c.services[key]; !exists {
				c.services[key] = svc
			}
		}
	})
}

func serviceKeys(s *goupnp.Service) []string {
	var keys []string
	if i := strings.LastIndexByte(s.ServiceId, ':'); i >= 0 && i < len(s.ServiceId)-1 {
		keys = append(keys, s.ServiceId[i+1:])
	}
	if parts := strings.Split(s.ServiceType, ":"); len(parts) >= 2 {
		keys = append(keys, parts[len(parts)-2]+parts[len(parts)-1])
	}
	return keys
}

func (c *Client) lookup(name string) (*service, bool) {
	svc, ok := c.services[normalizeServiceName(name)]
	return svc, ok
}

// normalizeServiceName maps "WANCommonInterfaceConfig:1" and "DeviceInfo" to
// the index keys "WANCommonInterfaceConfig1" and "DeviceInfo1".
func normalizeServiceName(name string) string {
	name = strings.ReplaceAll(name, ":", "")
	if name == "" {
		return name
	}
	if r := rune(name[len(name)-1]); !unicode.IsDigit(r) {
		name += "1"
	}
	return name
}

// inArgs builds the struct goupnp encodes as SOAP input arguments. Arguments
// are emitted in name order.
func inArgs(params map[string]string) any {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]reflect.StructField, len(names))
	for i, n := range names {
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("Arg%d", i),
			Type: reflect.TypeOf(""),
			Tag:  reflect.StructTag(fmt.Sprintf(`soap:%q`, n)),
		}
	}
	v := reflect.New(reflect.StructOf(fields)).Elem()
	for i, n := range names {
		v.Field(i).SetString(params[n])
	}
	return v.Addr().Interface()
}

// outArgs collects every child element of a SOAP action response.
type outArgs map[string]string

func (o *outArgs) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var s string
			if err := d.DecodeElement(&s, &t); err != nil {
				return err
			}
			(*o)[t.Name.Local] = strings.TrimSpace(s)
		case xml.EndElement:
			return nil
		}
	}
}
