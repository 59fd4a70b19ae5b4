package tftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lfkeitel/stftpu/internal"
	"golang.org/x/sync/errgroup"
)

// Store is the server's file byte source and sink. Errors wrapping
// fs.ErrNotExist, fs.ErrExist and fs.ErrPermission are reported to the peer
// with the matching TFTP error code.
type Store interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Remove(name string) error
}

type ServerOption func(*Server)

type Server struct {
	store        Store
	table        *SessionTable
	allowDelete  bool
	disableWrite bool
	strict       bool
	maxSessions  int
	metrics      *Metrics

	listenPacket func(network, address string) (net.PacketConn, error)
	timeout      time.Duration
	maxRetries   int
}

func NewServer(store Store, options ...ServerOption) *Server {
	s := &Server{
		store:        store,
		table:        NewSessionTable(),
		listenPacket: net.ListenPacket,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithAllowDelete accepts DELETE requests. They are refused otherwise.
func WithAllowDelete(s *Server) {
	s.allowDelete = true
}

func WithDisableWrite(s *Server) {
	s.disableWrite = true
}

// WithStrictMode refuses requests for modes other than octet and netascii
// instead of serving them as octet.
func WithStrictMode(s *Server) {
	s.strict = true
}

// WithMaxSessions caps concurrent sessions. Zero means no limit.
func WithMaxSessions(n int) ServerOption {
	return func(s *Server) {
		s.maxSessions = n
	}
}

func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// Table exposes the live sessions.
func (s *Server) Table() *SessionTable {
	return s.table
}

// ListenAndServe binds address and serves until ctx is done. A bind failure
// is the only error that stops the server before then.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", address, err)
	}
	internal.Info("tftp server listening", internal.Fields{
		internal.FieldPort: conn.LocalAddr().String(),
	})
	return s.Serve(ctx, conn)
}

// Serve reads requests from conn until ctx is done or conn fails. On return
// conn is closed and every session has been cancelled and has finished.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sessions errgroup.Group
	if s.maxSessions > 0 {
		sessions.SetLimit(s.maxSessions)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	l := newListener(conn)
	buffer := make([]byte, maxPacketSize+1)

	var serveErr error
	for {
		n, src, dst, err := l.readRequest(buffer)
		if err != nil {
			if ctx.Err() == nil {
				serveErr = err
			}
			break
		}
		s.dispatch(ctx, &sessions, conn, buffer[:n], src, dst)
	}

	cancel()
	_ = conn.Close()
	_ = sessions.Wait()
	return serveErr
}

func (s *Server) dispatch(ctx context.Context, sessions *errgroup.Group, conn net.PacketConn, b []byte, src net.Addr, dst net.IP) {
	pkt, err := Decode(b)
	if err != nil {
		s.metrics.datagramDropped("malformed")
		internal.Debug("dropped malformed request", internal.Fields{
			internal.FieldPeer:  src.String(),
			internal.FieldError: err.Error(),
		})
		return
	}

	reply := newRequestConn(conn, src, true)
	if pkt.Opcode().isRequest() {
		s.handleRequest(ctx, sessions, reply, pkt, dst)
		return
	}

	// DATA, ACK or ERROR belong on a session port.
	if _, ok := s.table.Lookup(src); ok {
		s.metrics.datagramDropped("wrong-port")
		return
	}
	s.replyError(reply, ErrCodeUnknownTransferID, "Unknown transfer ID")
}

func (s *Server) handleRequest(ctx context.Context, sessions *errgroup.Group, reply *requestConn, pkt Packet, dst net.IP) {
	peer := reply.addr
	if _, ok := s.table.Lookup(peer); ok {
		// The peer retransmitted its request; the running session answers.
		internal.Debug("duplicate request ignored", internal.Fields{
			internal.FieldPeer: peer.String(),
		})
		return
	}

	var (
		cfg  sessionConfig
		file io.Closer
	)
	switch p := pkt.(type) {
	case *ReadRequest:
		mode, ok := s.checkMode(reply, p.Mode)
		if !ok {
			return
		}
		f, err := s.store.Open(p.Filename)
		if err != nil {
			s.rejectStoreError(reply, p.Filename, err)
			return
		}
		file = f
		cfg = sessionConfig{name: "serve-read", role: roleSource, filename: p.Filename, mode: mode, source: f}
	case *WriteRequest:
		if s.disableWrite {
			s.replyError(reply, ErrCodeAccessViolation, "writes disabled")
			return
		}
		mode, ok := s.checkMode(reply, p.Mode)
		if !ok {
			return
		}
		f, err := s.store.Create(p.Filename)
		if err != nil {
			s.rejectStoreError(reply, p.Filename, err)
			return
		}
		file = f
		cfg = sessionConfig{name: "serve-write", role: roleSink, filename: p.Filename, mode: mode, sink: f}
	case *DeleteRequest:
		if !s.allowDelete {
			s.replyError(reply, ErrCodeAccessViolation, "deletes disabled")
			return
		}
		cfg = sessionConfig{name: "serve-delete", role: roleDelete, filename: p.Filename, remove: s.store.Remove}
	}

	internal.Info("request received", internal.Fields{
		internal.FieldOp:   pkt.Opcode().String(),
		internal.FieldFile: cfg.filename,
		internal.FieldMode: cfg.mode,
		internal.FieldPeer: peer.String(),
	})

	closeFile := func() {
		if file != nil {
			if err := file.Close(); err != nil {
				internal.Warn("failed to close file", internal.Fields{
					internal.FieldFile:  cfg.filename,
					internal.FieldError: err.Error(),
				})
			}
		}
	}

	sessConn, err := s.listenPacket("udp", sessionAddr(dst))
	if err != nil {
		internal.Error("failed to open session socket", internal.Fields{
			internal.FieldError: err.Error(),
		})
		closeFile()
		s.replyError(reply, ErrCodeNotDefined, "server error")
		return
	}

	cfg.conn = newRequestConn(sessConn, peer, true)
	cfg.metrics = s.metrics
	cfg.timeout = s.timeout
	cfg.maxRetries = s.maxRetries
	sess := newSession(cfg)

	if !s.table.Insert(peer, sess) {
		sessConn.Close()
		closeFile()
		return
	}

	started := sessions.TryGo(func() error {
		defer s.table.Remove(peer, sess)
		err := sess.Run(ctx)
		closeFile()
		if err != nil && cfg.role == roleSink {
			s.discardUpload(cfg.filename)
		}
		return nil
	})
	if !started {
		s.table.Remove(peer, sess)
		sessConn.Close()
		closeFile()
		if cfg.role == roleSink {
			s.discardUpload(cfg.filename)
		}
		s.replyError(reply, ErrCodeNotDefined, "server busy")
	}
}

// checkMode returns the mode to serve a request with.
func (s *Server) checkMode(reply *requestConn, mode string) (string, bool) {
	switch mode {
	case ModeOctet, ModeNetascii:
		return mode, true
	}
	if s.strict {
		s.replyError(reply, ErrCodeIllegalOperation, "unsupported mode")
		return "", false
	}
	internal.Warn("client requested an unsupported mode, using octet", internal.Fields{
		internal.FieldMode: mode,
		internal.FieldPeer: reply.addr.String(),
	})
	return ModeOctet, true
}

func (s *Server) rejectStoreError(reply *requestConn, name string, err error) {
	code, msg := errorCodeFor(err)
	internal.Info("request refused", internal.Fields{
		internal.FieldFile:  name,
		internal.FieldPeer:  reply.addr.String(),
		internal.FieldError: err.Error(),
	})
	s.replyError(reply, code, msg)
}

func (s *Server) discardUpload(name string) {
	if err := s.store.Remove(name); err != nil {
		internal.Debug("failed to remove partial upload", internal.Fields{
			internal.FieldFile:  name,
			internal.FieldError: err.Error(),
		})
	}
}

func (s *Server) replyError(reply *requestConn, code ErrorCode, msg string) {
	if _, err := reply.send(&ErrorPacket{Code: code, Message: msg}); err != nil {
		internal.Debug("failed to send error", internal.Fields{
			internal.FieldPeer:  reply.addr.String(),
			internal.FieldError: err.Error(),
		})
		return
	}
	s.metrics.packetSent()
}
