package handshake

import "fmt"

// ConnectError wraps a failure to establish a connection, mirroring the
// teacher's *client2/connection.go* ConnectError/ProtocolError idiom: a
// thin struct carrying the underlying cause, rather than a bare sentinel.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("handshake: connect error: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

func newConnectError(format string, a ...interface{}) error {
	return &ConnectError{Err: fmt.Errorf(format, a...)}
}

// ProtocolError wraps a failure caused by a peer violating the handshake
// protocol; TryPromote returns it for a REJECT_CONNECTION.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("handshake: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

func newProtocolError(format string, a ...interface{}) error {
	return &ProtocolError{Err: fmt.Errorf(format, a...)}
}
