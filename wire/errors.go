package wire

import "errors"

// ErrConnectionLost is returned when the peer closes the connection, either
// cleanly between messages or mid-frame. Both cases collapse to the same
// error: the framing layer has no way to tell a graceful close from a torn
// one once bytes stop arriving.
var ErrConnectionLost = errors.New("wire: connection lost")

// ErrProtocolViolation is returned when a chunked stream is interrupted or
// out of order, e.g. CHUNK_DATA expected but something else arrived, or a
// chunk number falls outside the declared chunk count.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// DecodeError wraps a failure to deserialize a frame body (bad JSON, a
// corrupt compressed stream, a truncated reconstructed chunk sequence).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "wire: decode error: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(err error) error {
	return &DecodeError{Err: err}
}
