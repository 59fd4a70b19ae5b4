package tftp

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.sessionStarted("send")
	m.sessionFinished("send", nil)
	m.packetSent()
	m.datagramDropped("malformed")
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}

func TestMetricsSession(t *testing.T) {
	m := NewMetrics("")
	conn := newTestPacketConn()
	s := newSession(sessionConfig{
		name:    "serve-write",
		role:    roleSink,
		conn:    newRequestConn(conn, testPeer, true),
		sink:    &bytes.Buffer{},
		metrics: m,
	})
	done := runSession(context.Background(), s)

	p, _ := conn.expect(t)
	expectAck(t, p, 0)
	conn.push(t, spoofPeer, &Data{Block: 1, Payload: []byte("x")})
	conn.push(t, testPeer, &Data{Block: 1, Payload: []byte("hello")})
	p, _ = conn.expect(t)
	expectAck(t, p, 1)
	if err := waitSession(t, done); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.sessionsFinished.WithLabelValues("serve-write", "completed")); got != 1 {
		t.Errorf("expected 1 completed session, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("expected no active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.payloadBytes.WithLabelValues("received")); got != 5 {
		t.Errorf("expected 5 bytes received, got %v", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("foreign-source")); got != 1 {
		t.Errorf("expected 1 dropped datagram, got %v", got)
	}
	if got := testutil.ToFloat64(m.packetsSent); got != 2 {
		t.Errorf("expected 2 packets sent, got %v", got)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "stftpu_session_started_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected one started series, got %d", n)
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "completed"},
		{err: ErrTimeout, want: "timeout"},
		{err: ErrCancelled, want: "cancelled"},
		{err: &PeerError{Code: ErrCodeDiskFull}, want: "peer_error"},
		{err: &ProtocolError{Code: ErrCodeIllegalOperation}, want: "protocol_error"},
		{err: &MediumError{Err: errors.New("x")}, want: "medium_error"},
		{err: errors.New("x"), want: "failed"},
	}
	for _, test := range tests {
		if got := resultLabel(test.err); got != test.want {
			t.Errorf("resultLabel(%v): expected %s, got %s", test.err, test.want, got)
		}
	}
}
