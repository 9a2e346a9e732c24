package source

import (
	"context"
	"errors"
	"time"
)

// Capability and authentication errors returned by adapters. Callers classify
// with errors.Is.
var (
	ErrUnknownService = errors.New("unknown service")
	ErrUnknownAction  = errors.New("unknown action")
	ErrAuth           = errors.New("authentication failed")
)

// IsCapability reports whether err says the device lacks a service or action.
func IsCapability(err error) bool {
	return errors.Is(err, ErrUnknownService) || errors.Is(err, ErrUnknownAction)
}

// Format selects how a web interface response body is decoded.
type Format int

const (
	FormatJSON Format = iota
	FormatXML
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	case FormatCSV:
		return "csv"
	}
	return "unknown"
}

// Request describes one device call. TR-064 adapters use Service, Action and
// Params. Web interface adapters use Path, Method, Params and Format.
type Request struct {
	Service string
	Action  string
	Params  map[string]string

	// Path is relative to the web interface root. Empty means /data.lua.
	Path   string
	Method string
	Format Format

	// ForceList names XML elements that always decode to a list, even when
	// they occur once.
	ForceList []string
}

// Source is a protocol adapter bound to one device.
type Source interface {
	// Name identifies the adapter in logs and metrics.
	Name() string

	// Connect establishes the session. A non-nil error wrapping ErrAuth
	// means the credentials were rejected.
	Connect(ctx context.Context) error

	// Call performs one request and returns the decoded response.
	Call(ctx context.Context, req Request) (any, error)

	// MinInterval is the lower bound for the poll interval of every
	// definition served by this adapter.
	MinInterval() time.Duration

	Close() error
}
