package tftp

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

var netasciiTests = []struct {
	native string
	wire   string
}{
	{native: "a\nb", wire: "a\r\nb"},
	{native: "a\r\nb", wire: "a\r\x00\r\nb"},
	{native: "a\rb", wire: "a\r\x00b"},
	{native: "end\r", wire: "end\r\x00"},
	{native: "\r\r\n", wire: "\r\x00\r\x00\r\n"},
	{native: "", wire: ""},
}

func TestNetasciiEncode(t *testing.T) {
	for _, test := range netasciiTests {
		src := newNetasciiSource(strings.NewReader(test.native))
		got, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			t.Fatalf("%q: %v", test.native, err)
		}
		if string(got) != test.wire {
			t.Errorf("encode %q: expected %q, got %q", test.native, test.wire, got)
		}
	}
}

func TestNetasciiRoundTrip(t *testing.T) {
	for _, test := range netasciiTests {
		var native bytes.Buffer
		sink := newNetasciiSink(&native)
		if _, err := io.Copy(sink, newNetasciiSource(strings.NewReader(test.native))); err != nil {
			t.Fatalf("%q: %v", test.native, err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("%q: close: %v", test.native, err)
		}
		if native.String() != test.native {
			t.Errorf("round trip %q: got %q", test.native, native.String())
		}
	}
}
