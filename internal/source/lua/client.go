// Package lua polls the device through its web interface.
//
// A session id is obtained from login_sid.lua with the PBKDF2 (or legacy MD5)
// challenge-response scheme and passed as "sid" on every request. Pages are
// read from data.lua as JSON; home automation and the call list come from
// dedicated endpoints as XML and CSV. A 403 or an HTML login page drops the
// session; the next call logs in again.
package lua

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
)

// Name is the adapter name used in logs and metrics.
const Name = "lua"

// Well known web interface paths.
const (
	LoginPath        = "/login_sid.lua"
	DataPath         = "/data.lua"
	HomeAutoPath     = "/webservices/homeautoswitch.lua"
	CallListPath     = "/fon_num/foncalls_list.lua"
	maxResponseBytes = 32 << 20
)

// Client is a source.Source for the web interface.
type Client struct {
	base     *url.URL
	http     *http.Client
	username string
	password string
	interval time.Duration
	logger   *slog.Logger

	sid string
}

var _ source.Source = (*Client)(nil)

// New returns a Client for the device described by cfg.
func New(cfg config.FritzBoxConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.WebURL())
	if err != nil {
		return nil, fmt.Errorf("lua: parse url: %w", err)
	}
	client, err := source.NewHTTPClient(cfg.TLS, cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("lua: build http client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:     base,
		http:     client,
		username: cfg.Username,
		password: cfg.Password(),
		interval: cfg.RequestInterval,
		logger:   logger,
	}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) MinInterval() time.Duration { return c.interval }

// Connect logs in and stores the session id.
func (c *Client) Connect(ctx context.Context) error {
	return c.login(ctx)
}

// Call fetches one page and decodes it according to req.Format.
func (c *Client) Call(ctx context.Context, req source.Request) (any, error) {
	if c.sid == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	var v any
	switch req.Format {
	case source.FormatXML:
		v, err = source.DecodeXML(bytes.NewReader(body), req.ForceList...)
	case source.FormatCSV:
		v, err = source.DecodeCSV(bytes.NewReader(body))
	default:
		v, err = source.DecodeJSON(bytes.NewReader(body))
	}
	if err != nil {
		if looksLikeHTML(body) {
			c.sid = ""
			return nil, fmt.Errorf("lua: %s: session expired: %w", describe(req), source.ErrAuth)
		}
		return nil, fmt.Errorf("lua: %s: %w", describe(req), err)
	}
	return v, nil
}

// Close ends the session on the device.
func (c *Client) Close() error {
	defer c.http.CloseIdleConnections()
	if c.sid == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q := url.Values{"version": {"2"}, "logout": {"1"}, "sid": {c.sid}}
	u := c.base.JoinPath(LoginPath)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("lua: logout: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lua: logout: %w", err)
	}
	resp.Body.Close()
	c.sid = ""
	return nil
}

func (c *Client) login(ctx context.Context) error {
	info, err := c.sessionInfo(ctx, nil)
	if err != nil {
		return fmt.Errorf("lua: login: %w", err)
	}
	if info.BlockTime > 0 {
		return fmt.Errorf("lua: login blocked by device for %ds", info.BlockTime)
	}
	response, err := solveChallenge(info.Challenge, c.password)
	if err != nil {
		return fmt.Errorf("lua: login: %w", err)
	}
	info, err = c.sessionInfo(ctx, url.Values{"username": {c.username}, "response": {response}})
	if err != nil {
		return fmt.Errorf("lua: login: %w", err)
	}
	if !info.valid() {
		return fmt.Errorf("lua: login rejected for user %q: %w", c.username, source.ErrAuth)
	}
	c.sid = info.SID
	c.logger.Debug("lua: session established", "user", c.username)
	return nil
}

// sessionInfo reads login_sid.lua, posting form when it is non-nil.
func (c *Client) sessionInfo(ctx context.Context, form url.Values) (sessionInfo, error) {
	u := c.base.JoinPath(LoginPath)
	u.RawQuery = "version=2"

	var (
		req *http.Request
		err error
	)
	if form == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return sessionInfo{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return sessionInfo{}, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sessionInfo{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var info sessionInfo
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&info); err != nil {
		return sessionInfo{}, fmt.Errorf("decode session info: %w", err)
	}
	return info, nil
}

func (c *Client) fetch(ctx context.Context, req source.Request) ([]byte, error) {
	path := req.Path
	if path == "" {
		path = DataPath
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if path == DataPath {
			method = http.MethodPost
		}
	}

	params := url.Values{}
	for k, v := range req.Params {
		params.Set(k, v)
	}
	params.Set("sid", c.sid)

	u := c.base.JoinPath(path)
	var (
		hreq *http.Request
		err  error
	)
	if method == http.MethodPost {
		hreq, err = http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(params.Encode()))
		if hreq != nil {
			hreq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		u.RawQuery = params.Encode()
		hreq, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lua: %s: build request: %w", describe(req), err)
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("lua: %s: %w", describe(req), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		c.sid = ""
		return nil, fmt.Errorf("lua: %s: %w", describe(req), source.ErrAuth)
	case http.StatusNotFound:
		return nil, fmt.Errorf("lua: %s: %w", describe(req), source.ErrUnknownService)
	default:
		return nil, fmt.Errorf("lua: %s: unexpected status %d", describe(req), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("lua: %s: read body: %w", describe(req), err)
	}
	return body, nil
}

func describe(req source.Request) string {
	path := req.Path
	if path == "" {
		path = DataPath
	}
	if page := req.Params["page"]; page != "" {
		return path + "?page=" + page
	}
	return path
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) || bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html"))
}
