package influx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/delivery"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/selfmetrics"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

// BucketRetentionDays is the expiry of buckets created by the client.
const BucketRetentionDays = 365

const maxErrorBody = 4 << 10

// APIError is a non-2xx answer of the database.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Client writes batches to one InfluxDB database or bucket.
type Client struct {
	cfg     config.InfluxDBConfig
	base    string
	http    *http.Client
	metrics *selfmetrics.Metrics
	logger  *slog.Logger
	ready   atomic.Bool
}

// New builds a client for cfg. metrics may be nil.
func New(cfg config.InfluxDBConfig, metrics *selfmetrics.Metrics, logger *slog.Logger) (*Client, error) {
	if cfg.Version != 1 && cfg.Version != 2 {
		return nil, fmt.Errorf("influx: unsupported version %d", cfg.Version)
	}
	hc, err := source.NewHTTPClient(cfg.TLS, cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("influx: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		base:    strings.TrimSuffix(cfg.URL(), "/"),
		http:    hc,
		metrics: metrics,
		logger:  logger.With("influxdb", cfg.Hostname),
	}, nil
}

// Setup makes sure the configured database (v1) or bucket (v2) exists and
// creates it when it does not. Write calls Setup until it succeeds once.
func (c *Client) Setup(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}
	var err error
	if c.cfg.Version == 1 {
		err = c.setupDatabase(ctx)
	} else {
		err = c.setupBucket(ctx)
	}
	if err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// Write sends batch as one request. Measurements that cannot be encoded are
// dropped and logged; they never fail the batch.
func (c *Client) Write(ctx context.Context, batch []types.Measurement) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}

	body, errs := encodeBatch(c.cfg.MeasurementName, batch)
	for _, err := range errs {
		c.logger.Error("influx: dropping measurement that cannot be encoded", "err", err)
	}
	c.metrics.Dropped(selfmetrics.DropInvalid, len(errs))
	if len(body) == 0 {
		return nil
	}

	q := url.Values{"precision": {"ms"}}
	path := "/write"
	if c.cfg.Version == 1 {
		q.Set("db", c.cfg.Database)
	} else {
		path = "/api/v2/write"
		q.Set("org", c.cfg.Organisation)
		q.Set("bucket", c.cfg.Bucket)
	}

	resp, err := c.do(ctx, http.MethodPost, path, q, bytes.NewReader(body), "text/plain; charset=utf-8")
	if err != nil {
		return fmt.Errorf("influx: write: %w", err)
	}
	resp.Body.Close()
	c.logger.Debug("influx: batch written", "points", len(batch)-len(errs))
	return nil
}

// do performs one authenticated request. Responses outside 2xx are returned
// as *APIError; a retention rejection additionally wraps
// delivery.ErrRetentionRejected.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	if isRetentionRejection(apiErr.Message) {
		return nil, fmt.Errorf("%w: %w", delivery.ErrRetentionRejected, apiErr)
	}
	return nil, apiErr
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Version == 2 {
		if tok := c.cfg.Token(); tok != "" {
			req.Header.Set("Authorization", "Token "+tok)
		}
		return
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password())
	}
}

// errorMessage extracts the message of a v1 ({"error": ...}) or v2
// ({"code": ..., "message": ...}) error body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "no response body"
}

// isRetentionRejection matches the partial write error both server
// generations report for points older than the retention policy.
func isRetentionRejection(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "beyond retention policy") ||
		strings.Contains(msg, "outside retention policy")
}

func (c *Client) decode(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, v any) error {
	resp, err := c.do(ctx, method, path, q, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type queryResponse struct {
	Results []struct {
		Error  string `json:"error"`
		Series []struct {
			Values [][]any `json:"values"`
		} `json:"series"`
	} `json:"results"`
}

func (c *Client) query(ctx context.Context, stmt string, write bool) (*queryResponse, error) {
	var (
		resp queryResponse
		err  error
	)
	if write {
		form := url.Values{"q": {stmt}}
		err = c.decode(ctx, http.MethodPost, "/query", nil, strings.NewReader(form.Encode()),
			"application/x-www-form-urlencoded", &resp)
	} else {
		err = c.decode(ctx, http.MethodGet, "/query", url.Values{"q": {stmt}}, nil, "", &resp)
	}
	if err != nil {
		return nil, err
	}
	for _, r := range resp.Results {
		if r.Error != "" {
			return nil, errors.New(r.Error)
		}
	}
	return &resp, nil
}

func (c *Client) setupDatabase(ctx context.Context) error {
	if c.cfg.Database == "" {
		return errors.New("influx: database undefined")
	}
	resp, err := c.query(ctx, "SHOW DATABASES", false)
	if err != nil {
		return fmt.Errorf("influx: list databases: %w", err)
	}
	for _, r := range resp.Results {
		for _, s := range r.Series {
			for _, row := range s.Values {
				if len(row) > 0 && row[0] == c.cfg.Database {
					c.logger.Info("influx: connection established, database present", "database", c.cfg.Database)
					return nil
				}
			}
		}
	}

	c.logger.Info("influx: database not found, creating it", "database", c.cfg.Database)
	stmt := fmt.Sprintf("CREATE DATABASE %q", c.cfg.Database)
	if _, err := c.query(ctx, stmt, true); err != nil {
		return fmt.Errorf("influx: create database %q: %w", c.cfg.Database, err)
	}
	return nil
}

type bucket struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type retentionRule struct {
	Type         string `json:"type"`
	EverySeconds int64  `json:"everySeconds"`
}

func (c *Client) setupBucket(ctx context.Context) error {
	if c.cfg.Bucket == "" || c.cfg.Organisation == "" {
		return errors.New("influx: bucket and organisation required")
	}

	var buckets struct {
		Buckets []bucket `json:"buckets"`
	}
	q := url.Values{"org": {c.cfg.Organisation}, "name": {c.cfg.Bucket}}
	err := c.decode(ctx, http.MethodGet, "/api/v2/buckets", q, nil, "", &buckets)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
	case err != nil:
		return fmt.Errorf("influx: list buckets: %w", err)
	}
	for _, b := range buckets.Buckets {
		if c.cfg.Bucket == b.Name || c.cfg.Bucket == b.ID {
			c.logger.Info("influx: connection established, bucket present", "bucket", c.cfg.Bucket)
			return nil
		}
	}

	c.logger.Info("influx: bucket not found, creating it", "bucket", c.cfg.Bucket)
	var orgs struct {
		Orgs []struct {
			ID string `json:"id"`
		} `json:"orgs"`
	}
	if err := c.decode(ctx, http.MethodGet, "/api/v2/orgs", url.Values{"org": {c.cfg.Organisation}}, nil, "", &orgs); err != nil {
		return fmt.Errorf("influx: find organisation %q: %w", c.cfg.Organisation, err)
	}
	if len(orgs.Orgs) == 0 {
		return fmt.Errorf("influx: organisation %q not found", c.cfg.Organisation)
	}

	payload, err := json.Marshal(map[string]any{
		"orgID":       orgs.Orgs[0].ID,
		"name":        c.cfg.Bucket,
		"description": "fritzinfluxdb bucket",
		"retentionRules": []retentionRule{{
			Type:         "expire",
			EverySeconds: BucketRetentionDays * 24 * 3600,
		}},
	})
	if err != nil {
		return fmt.Errorf("influx: encode bucket: %w", err)
	}
	if err := c.decode(ctx, http.MethodPost, "/api/v2/buckets", nil, bytes.NewReader(payload), "application/json", nil); err != nil {
		return fmt.Errorf("influx: create bucket %q: %w", c.cfg.Bucket, err)
	}
	return nil
}
