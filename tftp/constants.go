package tftp

import (
	"time"
)

const (
	DefaultPort       = 69
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 5

	// BlockSize is the RFC 1350 data block size. A shorter block ends a transfer.
	BlockSize = 512

	headerSize    = 4
	maxPacketSize = headerSize + BlockSize
)

// Opcode is the 2-byte packet type tag.
type Opcode uint16

// TFTP op codes. Delete requests and their acknowledgements are an extension
// and take codes past the option ack (6) to stay clear of RFC 2347.
const (
	OpRead      Opcode = 1
	OpWrite     Opcode = 2
	OpData      Opcode = 3
	OpAck       Opcode = 4
	OpError     Opcode = 5
	OpDelete    Opcode = 8
	OpDeleteAck Opcode = 9
)

func (op Opcode) String() string {
	switch op {
	case OpRead:
		return "RRQ"
	case OpWrite:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	case OpDelete:
		return "DRQ"
	case OpDeleteAck:
		return "DACK"
	}
	return "UNKNOWN"
}

func (op Opcode) isRequest() bool {
	return op == OpRead || op == OpWrite || op == OpDelete
}

// ErrorCode is the code carried by an ERROR packet.
type ErrorCode uint16

// TFTP error codes
const (
	ErrCodeNotDefined        ErrorCode = 0
	ErrCodeFileNotFound      ErrorCode = 1
	ErrCodeAccessViolation   ErrorCode = 2
	ErrCodeDiskFull          ErrorCode = 3
	ErrCodeIllegalOperation  ErrorCode = 4
	ErrCodeUnknownTransferID ErrorCode = 5
	ErrCodeFileExists        ErrorCode = 6
	ErrCodeNoSuchUser        ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNotDefined:
		return "not defined"
	case ErrCodeFileNotFound:
		return "file not found"
	case ErrCodeAccessViolation:
		return "access violation"
	case ErrCodeDiskFull:
		return "disk full or allocation exceeded"
	case ErrCodeIllegalOperation:
		return "illegal TFTP operation"
	case ErrCodeUnknownTransferID:
		return "unknown transfer ID"
	case ErrCodeFileExists:
		return "file already exists"
	case ErrCodeNoSuchUser:
		return "no such user"
	}
	return "unknown error code"
}

// DeleteStatus is carried by a DACK packet.
type DeleteStatus uint16

const (
	DeleteStatusDeleted    DeleteStatus = 0
	DeleteStatusNotDeleted DeleteStatus = 1
)

// Transfer modes. Mail mode is obsolete and refused in strict mode.
const (
	ModeNetascii = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
)

// Operation is the client-side operation a session runs.
type Operation uint8

const (
	OperationSend Operation = iota + 1
	OperationReceive
	OperationDelete
)

func (o Operation) String() string {
	switch o {
	case OperationSend:
		return "send"
	case OperationReceive:
		return "receive"
	case OperationDelete:
		return "delete"
	}
	return "unknown"
}
