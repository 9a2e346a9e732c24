package source

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
)

// UserAgent is sent with every request to the device and the database.
const UserAgent = "fritzinfluxdb"

const defaultTimeout = 10 * time.Second

// uaRoundTripper sets the User-Agent header on every outgoing request.
type uaRoundTripper struct {
	base http.RoundTripper
}

func (t *uaRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient constructs an http.Client for the given TLS settings.
// A zero timeout selects 10s.
func NewHTTPClient(tlsOpts config.TLSConfig, timeout time.Duration) (*http.Client, error) {
	tr, err := NewTransport(tlsOpts)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: &uaRoundTripper{base: tr},
		Timeout:   timeout,
	}, nil
}

// NewTransport returns an *http.Transport honouring tlsOpts. Adapters that
// wrap the transport in their own RoundTripper start from this.
func NewTransport(tlsOpts config.TLSConfig) (*http.Transport, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if tlsOpts.CAFile != "" {
		caPEM, err := os.ReadFile(tlsOpts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", tlsOpts.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return tr, nil
}
