package tftp

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrTimeout   = errors.New("tftp: peer stopped responding")
	ErrCancelled = errors.New("tftp: transfer cancelled")
)

// DecodeErrorKind classifies why a datagram could not be decoded.
type DecodeErrorKind uint8

const (
	Malformed DecodeErrorKind = iota + 1
	UnknownOpcode
	Truncated
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownOpcode:
		return "unknown opcode"
	case Truncated:
		return "truncated"
	}
	return "invalid"
}

type DecodeError struct {
	Kind   DecodeErrorKind
	Opcode Opcode
	Msg    string
}

func (e *DecodeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("tftp: %s packet (opcode %d)", e.Kind, e.Opcode)
	}
	return fmt.Sprintf("tftp: %s packet (opcode %d): %s", e.Kind, e.Opcode, e.Msg)
}

// ProtocolError is a violation detected locally. The peer has been sent an
// ERROR packet carrying Code.
type ProtocolError struct {
	Code ErrorCode
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tftp: protocol error: %s (%s)", e.Msg, e.Code)
}

// PeerError is an ERROR packet received from the peer.
type PeerError struct {
	Code ErrorCode
	Msg  string
}

func (e *PeerError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("tftp: peer error %d: %s", e.Code, e.Code)
	}
	return fmt.Sprintf("tftp: peer error %d: %s", e.Code, e.Msg)
}

// MediumError wraps a failure of the local byte source or sink.
type MediumError struct {
	Err error
}

func (e *MediumError) Error() string {
	return "tftp: local medium: " + e.Err.Error()
}

func (e *MediumError) Unwrap() error {
	return e.Err
}

// errorCodeFor maps a store error to the ERROR packet sent to the peer. The
// message never carries local paths.
func errorCodeFor(err error) (ErrorCode, string) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeFileNotFound, "File not found"
	case errors.Is(err, fs.ErrExist):
		return ErrCodeFileExists, "File already exists"
	case errors.Is(err, fs.ErrPermission):
		return ErrCodeAccessViolation, "Access violation"
	}
	return ErrCodeNotDefined, "Failed to open file"
}
