// Package source defines the contract between the poll scheduler and the
// protocol adapters that talk to the device.
//
// An adapter turns a Request into raw nested data (maps, slices and scalar
// leaves) or a typed error. ErrUnknownService and ErrUnknownAction are
// capability errors: the scheduler disables the definition or action for the
// lifetime of the process when it sees them during discovery. ErrAuth means the
// credentials were rejected. Every other error is transient.
//
// Adapters: tr064 (SOAP with digest auth, subpackage tr064) and lua (session
// based web interface, subpackage lua). Both build their *http.Client through
// NewHTTPClient in base.go and decode payloads with the helpers in decode.go.
package source
