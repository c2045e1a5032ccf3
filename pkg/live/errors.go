package live

import (
	"fmt"
	"net/url"

	"github.com/screenvox/screenvox/pkg/core"
)

// Error is the canonical error type surfaced by this package.
type Error = core.Error

// TransportError represents failures of the underlying duplex channel
// (DNS, handshake, TLS, abnormal close) as opposed to protocol-level
// errors inside a successfully delivered frame.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLQuery(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// redactURLQuery strips query parameters so credentials passed in the URL
// never reach logs or error strings.
func redactURLQuery(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}
