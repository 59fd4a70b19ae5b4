package tftp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// Packet is one decoded TFTP datagram.
type Packet interface {
	Opcode() Opcode
	MarshalBinary() ([]byte, error)
}

type ReadRequest struct {
	Filename string
	Mode     string
}

type WriteRequest struct {
	Filename string
	Mode     string
}

type DeleteRequest struct {
	Filename string
}

type Data struct {
	Block   uint16
	Payload []byte
}

type Ack struct {
	Block uint16
}

type ErrorPacket struct {
	Code    ErrorCode
	Message string
}

type DeleteAck struct {
	Status DeleteStatus
}

func (*ReadRequest) Opcode() Opcode   { return OpRead }
func (*WriteRequest) Opcode() Opcode  { return OpWrite }
func (*DeleteRequest) Opcode() Opcode { return OpDelete }
func (*Data) Opcode() Opcode          { return OpData }
func (*Ack) Opcode() Opcode           { return OpAck }
func (*ErrorPacket) Opcode() Opcode   { return OpError }
func (*DeleteAck) Opcode() Opcode     { return OpDeleteAck }

var (
	errPayloadTooLarge = errors.New("tftp: data payload exceeds block size")
	errEmptyFilename   = errors.New("tftp: empty filename")
	errEmbeddedNull    = errors.New("tftp: string contains NUL byte")
)

func (p *ReadRequest) MarshalBinary() ([]byte, error) {
	return marshalStrings(OpRead, p.Filename, p.Mode)
}

func (p *WriteRequest) MarshalBinary() ([]byte, error) {
	return marshalStrings(OpWrite, p.Filename, p.Mode)
}

func (p *DeleteRequest) MarshalBinary() ([]byte, error) {
	return marshalStrings(OpDelete, p.Filename)
}

func (p *Data) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > BlockSize {
		return nil, errPayloadTooLarge
	}
	b := make([]byte, headerSize+len(p.Payload))
	binary.BigEndian.PutUint16(b[0:2], uint16(OpData))
	binary.BigEndian.PutUint16(b[2:4], p.Block)
	copy(b[4:], p.Payload)
	return b, nil
}

func (p *Ack) MarshalBinary() ([]byte, error) {
	return marshalShort(OpAck, p.Block), nil
}

func (p *DeleteAck) MarshalBinary() ([]byte, error) {
	return marshalShort(OpDeleteAck, uint16(p.Status)), nil
}

func (p *ErrorPacket) MarshalBinary() ([]byte, error) {
	if strings.IndexByte(p.Message, 0) >= 0 {
		return nil, errEmbeddedNull
	}
	b := make([]byte, headerSize, headerSize+len(p.Message)+1)
	binary.BigEndian.PutUint16(b[0:2], uint16(OpError))
	binary.BigEndian.PutUint16(b[2:4], uint16(p.Code))
	b = append(b, p.Message...)
	return append(b, 0), nil
}

func marshalShort(op Opcode, v uint16) []byte {
	b := make([]byte, headerSize)
	binary.BigEndian.PutUint16(b[0:2], uint16(op))
	binary.BigEndian.PutUint16(b[2:4], v)
	return b
}

// marshalStrings writes the opcode followed by NUL terminated fields. The
// first field is a filename and must not be empty.
func marshalStrings(op Opcode, fields ...string) ([]byte, error) {
	size := 2
	for i, f := range fields {
		if i == 0 && f == "" {
			return nil, errEmptyFilename
		}
		if strings.IndexByte(f, 0) >= 0 {
			return nil, errEmbeddedNull
		}
		size += len(f) + 1
	}

	b := make([]byte, 2, size)
	binary.BigEndian.PutUint16(b[0:2], uint16(op))
	for _, f := range fields {
		b = append(b, f...)
		b = append(b, 0)
	}
	return b, nil
}

// Decode parses one datagram. It never reads past the end of b, and Data
// payloads alias b.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, &DecodeError{Kind: Truncated, Msg: "missing opcode"}
	}

	op := Opcode(binary.BigEndian.Uint16(b[0:2]))
	body := b[2:]

	switch op {
	case OpRead, OpWrite:
		fields, err := splitStrings(op, body, 2)
		if err != nil {
			return nil, err
		}
		mode := strings.ToLower(fields[1])
		if op == OpRead {
			return &ReadRequest{Filename: fields[0], Mode: mode}, nil
		}
		return &WriteRequest{Filename: fields[0], Mode: mode}, nil
	case OpDelete:
		fields, err := splitStrings(op, body, 1)
		if err != nil {
			return nil, err
		}
		return &DeleteRequest{Filename: fields[0]}, nil
	case OpData:
		if len(b) < headerSize {
			return nil, &DecodeError{Kind: Truncated, Opcode: op, Msg: "missing block number"}
		}
		if len(b)-headerSize > BlockSize {
			return nil, &DecodeError{Kind: Malformed, Opcode: op, Msg: "payload exceeds block size"}
		}
		return &Data{
			Block:   binary.BigEndian.Uint16(b[2:4]),
			Payload: b[headerSize:],
		}, nil
	case OpAck, OpDeleteAck:
		v, err := decodeShort(op, b)
		if err != nil {
			return nil, err
		}
		if op == OpAck {
			return &Ack{Block: v}, nil
		}
		return &DeleteAck{Status: DeleteStatus(v)}, nil
	case OpError:
		if len(b) < headerSize {
			return nil, &DecodeError{Kind: Truncated, Opcode: op, Msg: "missing error code"}
		}
		msg, rest, ok := cutString(b[headerSize:])
		if !ok {
			return nil, &DecodeError{Kind: Malformed, Opcode: op, Msg: "unterminated message"}
		}
		if len(rest) > 0 {
			return nil, &DecodeError{Kind: Malformed, Opcode: op, Msg: "trailing bytes after message"}
		}
		return &ErrorPacket{
			Code:    ErrorCode(binary.BigEndian.Uint16(b[2:4])),
			Message: msg,
		}, nil
	}

	return nil, &DecodeError{Kind: UnknownOpcode, Opcode: op}
}

func decodeShort(op Opcode, b []byte) (uint16, error) {
	switch {
	case len(b) < headerSize:
		return 0, &DecodeError{Kind: Truncated, Opcode: op}
	case len(b) > headerSize:
		return 0, &DecodeError{Kind: Malformed, Opcode: op, Msg: "trailing bytes"}
	}
	return binary.BigEndian.Uint16(b[2:4]), nil
}

// splitStrings reads n NUL terminated strings from body. Anything after them
// is option negotiation, which is not supported and is dropped.
func splitStrings(op Opcode, body []byte, n int) ([]string, error) {
	fields := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, rest, ok := cutString(body)
		if !ok {
			kind := Malformed
			if len(body) == 0 {
				kind = Truncated
			}
			return nil, &DecodeError{Kind: kind, Opcode: op, Msg: "unterminated string field"}
		}
		fields = append(fields, s)
		body = rest
	}
	if fields[0] == "" {
		return nil, &DecodeError{Kind: Malformed, Opcode: op, Msg: "empty filename"}
	}
	return fields, nil
}

func cutString(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}
