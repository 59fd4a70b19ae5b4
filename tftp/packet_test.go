package tftp

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

var roundTripTests = []Packet{
	&ReadRequest{Filename: "boot/pxelinux.0", Mode: ModeOctet},
	&WriteRequest{Filename: "config.txt", Mode: ModeNetascii},
	&DeleteRequest{Filename: "old.bin"},
	&Data{Block: 1, Payload: bytes.Repeat([]byte{0xAB}, BlockSize)},
	&Data{Block: 0xFFFF, Payload: []byte("tail")},
	&Data{Block: 3, Payload: []byte{}},
	&Ack{Block: 0},
	&Ack{Block: 256},
	&ErrorPacket{Code: ErrCodeFileNotFound, Message: "File not found"},
	&ErrorPacket{Code: ErrCodeNotDefined, Message: ""},
	&DeleteAck{Status: DeleteStatusDeleted},
	&DeleteAck{Status: DeleteStatusNotDeleted},
}

func TestPacketRoundTrip(t *testing.T) {
	for _, p := range roundTripTests {
		b, err := p.MarshalBinary()
		if err != nil {
			t.Fatalf("%T: marshal: %v", p, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("%T: decode: %v", p, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Errorf("round trip: expected %#v, got %#v", p, got)
		}
	}
}

var wireTests = []struct {
	packet   Packet
	expected []byte
}{
	{
		packet:   &Ack{Block: 10},
		expected: []byte{0, 4, 0, 10},
	},
	{
		packet:   &Ack{Block: 256},
		expected: []byte{0, 4, 1, 0},
	},
	{
		packet:   &ReadRequest{Filename: "a", Mode: "octet"},
		expected: []byte{0, 1, 'a', 0, 'o', 'c', 't', 'e', 't', 0},
	},
	{
		packet:   &ErrorPacket{Code: ErrCodeAccessViolation, Message: "no"},
		expected: []byte{0, 5, 0, 2, 'n', 'o', 0},
	},
	{
		packet:   &DeleteRequest{Filename: "x"},
		expected: []byte{0, 8, 'x', 0},
	},
	{
		packet:   &DeleteAck{Status: DeleteStatusDeleted},
		expected: []byte{0, 9, 0, 0},
	},
	{
		packet:   &Data{Block: 2, Payload: []byte{7}},
		expected: []byte{0, 3, 0, 2, 7},
	},
}

func TestMarshalWireFormat(t *testing.T) {
	for _, test := range wireTests {
		got, err := test.packet.MarshalBinary()
		if err != nil {
			t.Fatalf("%T: %v", test.packet, err)
		}
		if !bytes.Equal(got, test.expected) {
			t.Errorf("%T: expected %v, got %v", test.packet, test.expected, got)
		}
	}
}

func TestMarshalRejectsInvalid(t *testing.T) {
	invalid := []Packet{
		&Data{Block: 1, Payload: make([]byte, BlockSize+1)},
		&ReadRequest{Filename: "", Mode: ModeOctet},
		&WriteRequest{Filename: "a\x00b", Mode: ModeOctet},
		&ErrorPacket{Message: "bad\x00msg"},
	}
	for _, p := range invalid {
		if _, err := p.MarshalBinary(); err == nil {
			t.Errorf("%#v: expected marshal error", p)
		}
	}
}

var decodeErrorTests = []struct {
	name string
	in   []byte
	kind DecodeErrorKind
}{
	{name: "empty", in: nil, kind: Truncated},
	{name: "half opcode", in: []byte{0}, kind: Truncated},
	{name: "unknown opcode", in: []byte{0, 42, 0, 0}, kind: UnknownOpcode},
	{name: "option ack", in: []byte{0, 6, 'a', 0}, kind: UnknownOpcode},
	{name: "rrq no fields", in: []byte{0, 1}, kind: Truncated},
	{name: "rrq unterminated filename", in: []byte{0, 1, 'f', 'o', 'o'}, kind: Malformed},
	{name: "rrq missing mode", in: []byte{0, 1, 'f', 0}, kind: Truncated},
	{name: "rrq unterminated mode", in: []byte{0, 1, 'f', 0, 'o', 'c'}, kind: Malformed},
	{name: "wrq empty filename", in: []byte{0, 2, 0, 'o', 0}, kind: Malformed},
	{name: "drq unterminated", in: []byte{0, 8, 'x'}, kind: Malformed},
	{name: "data short header", in: []byte{0, 3, 0}, kind: Truncated},
	{name: "data oversized", in: append([]byte{0, 3, 0, 1}, make([]byte, BlockSize+1)...), kind: Malformed},
	{name: "ack short", in: []byte{0, 4, 1}, kind: Truncated},
	{name: "ack long", in: []byte{0, 4, 0, 1, 0}, kind: Malformed},
	{name: "dack short", in: []byte{0, 9}, kind: Truncated},
	{name: "error short", in: []byte{0, 5, 0}, kind: Truncated},
	{name: "error unterminated", in: []byte{0, 5, 0, 1, 'x'}, kind: Malformed},
	{name: "error trailing", in: []byte{0, 5, 0, 1, 'x', 0, 'y'}, kind: Malformed},
}

func TestDecodeErrors(t *testing.T) {
	for _, test := range decodeErrorTests {
		t.Run(test.name, func(t *testing.T) {
			p, err := Decode(test.in)
			if p != nil {
				t.Errorf("expected no packet, got %#v", p)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decErr.Kind != test.kind {
				t.Errorf("expected kind %s, got %s", test.kind, decErr.Kind)
			}
		})
	}
}

// Every prefix of a valid packet must decode to an error or a packet without
// panicking.
func TestDecodeTruncatedPrefixes(t *testing.T) {
	for _, p := range roundTripTests {
		b, _ := p.MarshalBinary()
		for i := 0; i < len(b); i++ {
			prefix := make([]byte, i)
			copy(prefix, b)
			_, _ = Decode(prefix)
		}
	}
}

func TestDecodeRequestOptionsAndMode(t *testing.T) {
	in := []byte{0, 1}
	in = append(in, "file"...)
	in = append(in, 0)
	in = append(in, "OCTET"...)
	in = append(in, 0)
	in = append(in, "blksize"...)
	in = append(in, 0)
	in = append(in, "1428"...)
	in = append(in, 0)

	p, err := Decode(in)
	if err != nil {
		t.Fatal(err)
	}
	rrq, ok := p.(*ReadRequest)
	if !ok {
		t.Fatalf("expected *ReadRequest, got %T", p)
	}
	if rrq.Filename != "file" || rrq.Mode != ModeOctet {
		t.Errorf("unexpected request %#v", rrq)
	}
}

func TestOpcodeString(t *testing.T) {
	if OpData.String() != "DATA" || Opcode(99).String() != "UNKNOWN" {
		t.Errorf("unexpected opcode names")
	}
}
