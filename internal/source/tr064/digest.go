package tr064

import (
	"bytes"
	"crypto/md5" //nolint:gosec // HTTP digest auth mandates MD5
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

type digestChallenge struct {
	realm     string
	nonce     string
	opaque    string
	qop       string
	algorithm string
}

// digestTransport answers HTTP digest challenges (RFC 2617, MD5, qop=auth).
// The last challenge is cached so later requests authenticate up front.
type digestTransport struct {
	base     http.RoundTripper
	username string
	password string

	mu   sync.Mutex
	chal *digestChallenge
	nc   uint32

	// rejected is set when the server refused the credentials on the last
	// request.
	rejected atomic.Bool
}

func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("digest: read request body: %w", err)
		}
		body = b
	}

	resp, err := t.base.RoundTrip(t.prepare(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.rejected.Store(false)
		return resp, nil
	}

	chal, ok := parseChallenge(resp.Header.Get("WWW-Authenticate"))
	if !ok {
		t.rejected.Store(true)
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	t.mu.Lock()
	t.chal = chal
	t.nc = 0
	t.mu.Unlock()

	resp, err = t.base.RoundTrip(t.prepare(req, body))
	if err != nil {
		return nil, err
	}
	t.rejected.Store(resp.StatusCode == http.StatusUnauthorized)
	return resp, nil
}

// prepare clones req with a fresh body and, when a challenge is known, the
// Authorization header.
func (t *digestTransport) prepare(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}
	if h := t.authorization(req.Method, req.URL.RequestURI()); h != "" {
		out.Header.Set("Authorization", h)
	}
	return out
}

func (t *digestTransport) authorization(method, uri string) string {
	t.mu.Lock()
	c := t.chal
	if c == nil {
		t.mu.Unlock()
		return ""
	}
	t.nc++
	nc := fmt.Sprintf("%08x", t.nc)
	t.mu.Unlock()

	ha1 := md5hex(t.username + ":" + c.realm + ":" + t.password)
	ha2 := md5hex(method + ":" + uri)

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`, t.username, c.realm, c.nonce, uri)
	if qopHasAuth(c.qop) {
		cnonce := newCnonce()
		resp := md5hex(ha1 + ":" + c.nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s", response="%s"`, nc, cnonce, resp)
	} else {
		fmt.Fprintf(&b, `, response="%s"`, md5hex(ha1+":"+c.nonce+":"+ha2))
	}
	if c.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.opaque)
	}
	if c.algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, c.algorithm)
	}
	return b.String()
}

func parseChallenge(header string) (*digestChallenge, bool) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Digest") {
		return nil, false
	}
	p := parseDigestParams(rest)
	if p["nonce"] == "" {
		return nil, false
	}
	if alg := p["algorithm"]; alg != "" && !strings.EqualFold(alg, "MD5") {
		return nil, false
	}
	return &digestChallenge{
		realm:     p["realm"],
		nonce:     p["nonce"],
		opaque:    p["opaque"],
		qop:       p["qop"],
		algorithm: p["algorithm"],
	}, true
}

// parseDigestParams splits a comma separated list of key=value pairs where
// values may be quoted and contain commas.
func parseDigestParams(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]
		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
		} else if comma := strings.IndexByte(s, ','); comma >= 0 {
			val, s = strings.TrimSpace(s[:comma]), s[comma+1:]
		} else {
			val, s = strings.TrimSpace(s), ""
		}
		out[key] = val
	}
	return out
}

func qopHasAuth(qop string) bool {
	for _, q := range strings.Split(qop, ",") {
		if strings.TrimSpace(q) == "auth" {
			return true
		}
	}
	return false
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func newCnonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
