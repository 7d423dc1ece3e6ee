package live

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrClosed is returned by sends when no connection can accept them.
	ErrClosed = errors.New("live session is closed")
	// ErrInvalidState is returned by Connect while a connection is active.
	ErrInvalidState = errors.New("live session: operation not valid in current state")
	// ErrSendBufferFull is returned when the pre-setup buffer or the writer queue is full.
	ErrSendBufferFull = errors.New("live session: send buffer full")
)

// TransportError reports a dial or handshake failure.
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
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURL(e.URL), e.Err)
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

// redactURL strips credentials and the api key query parameter.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	q := parsed.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
