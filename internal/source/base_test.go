package source

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/config"
)

func TestNewHTTPClient_SetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client, err := NewHTTPClient(config.TLSConfig{}, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got != UserAgent {
		t.Errorf("User-Agent: got %q, want %q", got, UserAgent)
	}
}

func TestNewHTTPClient_InsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	strict, _ := NewHTTPClient(config.TLSConfig{}, time.Second)
	if _, err := strict.Get(srv.URL); err == nil {
		t.Error("expected certificate error without insecure_skip_verify")
	}

	lax, _ := NewHTTPClient(config.TLSConfig{InsecureSkipVerify: true}, time.Second)
	resp, err := lax.Get(srv.URL)
	if err != nil {
		t.Fatalf("get with insecure_skip_verify: %v", err)
	}
	resp.Body.Close()
}

func TestNewHTTPClient_BadCAFile(t *testing.T) {
	if _, err := NewHTTPClient(config.TLSConfig{CAFile: "/nonexistent/ca.pem"}, 0); err == nil {
		t.Error("expected error for missing ca file")
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHTTPClient(config.TLSConfig{CAFile: path}, 0); err == nil {
		t.Error("expected error for ca file without certificates")
	}
}

func TestIsCapability(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrUnknownService, true},
		{ErrUnknownAction, true},
		{errors.Join(errors.New("call"), ErrUnknownAction), true},
		{ErrAuth, false},
		{errors.New("timeout"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsCapability(c.err); got != c.want {
			t.Errorf("IsCapability(%v): got %v, want %v", c.err, got, c.want)
		}
	}
}
