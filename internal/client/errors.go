package client

import "fmt"

// TransportError is returned when a request could not be sent or the service
// answered with a non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: batch service returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when a successful response does not have the
// expected shape.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
