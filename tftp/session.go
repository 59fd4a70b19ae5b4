package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lfkeitel/stftpu/internal"
)

// State is the protocol state of a Session.
type State int32

const (
	StateIdle State = iota
	StateRequestSent
	StateAwaitingFirstAck
	StateAwaitingFirstData
	StateTransferring
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestSent:
		return "request-sent"
	case StateAwaitingFirstAck:
		return "awaiting-first-ack"
	case StateAwaitingFirstData:
		return "awaiting-first-data"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type role uint8

const (
	roleSource role = iota + 1 // we send DATA
	roleSink                   // we send ACK
	roleDelete
)

// Result summarizes a finished session.
type Result struct {
	Bytes       int64
	Blocks      int
	Retransmits int
	Elapsed     time.Duration
}

type sessionConfig struct {
	name       string
	role       role
	client     bool
	filename   string
	mode       string
	conn       *requestConn
	source     io.Reader
	sink       io.Writer
	remove     func(name string) error
	metrics    *Metrics
	timeout    time.Duration
	maxRetries int
}

// Session drives one SEND, RECEIVE or DELETE against a single peer. All
// protocol state is confined to the goroutine calling Run; only the state
// value is safe to read concurrently.
type Session struct {
	id       uuid.UUID
	name     string
	role     role
	client   bool
	filename string
	mode     string
	conn     *requestConn
	source   io.Reader
	sink     io.Writer
	remove   func(name string) error
	closers  []io.Closer
	metrics  *Metrics

	state atomic.Int32

	block    uint16 // source: last DATA sent, sink: last block acknowledged
	final    bool   // source: the last DATA sent was short
	chunk    []byte
	last     []byte
	sentAt   time.Time
	deadline time.Time
	retries  int
	readErr  error // last transport failure since the last good datagram

	timeout    time.Duration
	maxRetries int

	result Result
	err    error
}

func newSession(cfg sessionConfig) *Session {
	s := &Session{
		id:         uuid.New(),
		name:       cfg.name,
		role:       cfg.role,
		client:     cfg.client,
		filename:   cfg.filename,
		mode:       cfg.mode,
		conn:       cfg.conn,
		source:     cfg.source,
		sink:       cfg.sink,
		remove:     cfg.remove,
		metrics:    cfg.metrics,
		timeout:    cfg.timeout,
		maxRetries: cfg.maxRetries,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.mode == "" {
		s.mode = ModeOctet
	}

	if s.mode == ModeNetascii {
		if s.source != nil {
			src := newNetasciiSource(s.source)
			s.source = src
			s.closers = append(s.closers, src)
		}
		if s.sink != nil {
			dst := newNetasciiSink(s.sink)
			s.sink = dst
			s.closers = append(s.closers, dst)
		}
	}
	if s.role == roleSource {
		s.chunk = make([]byte, BlockSize)
	}
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// Result is only meaningful once Run has returned.
func (s *Session) Result() Result { return s.result }

func (s *Session) setState(n State) { s.state.Store(int32(n)) }

func (s *Session) fields() internal.Fields {
	return internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldOp:      s.name,
		internal.FieldFile:    s.filename,
		internal.FieldPeer:    s.conn.addr.String(),
	}
}

// Run sends the opening packet and processes replies until the session is
// Completed or Failed. Cancelling ctx aborts the session at its next wake-up.
// The session's transport is closed on return.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	defer s.conn.Close()

	// Wake a blocked read so cancellation is noticed promptly.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.metrics.sessionStarted(s.name)
	internal.Info("transfer started", s.fields())

	if ctx.Err() == nil {
		s.begin()
	}
	for !s.State().Terminal() {
		if ctx.Err() != nil {
			s.abort()
			break
		}
		s.step(ctx)
	}

	s.finish()
	s.result.Elapsed = time.Since(start)
	s.metrics.sessionFinished(s.name, s.err)

	fields := s.fields()
	fields[internal.FieldBytes] = s.result.Bytes
	fields[internal.FieldElapsed] = s.result.Elapsed.String()
	if s.err != nil {
		fields[internal.FieldError] = s.err.Error()
		internal.Warn("transfer failed", fields)
	} else {
		internal.Info("transfer completed", fields)
	}
	return s.err
}

// begin emits the first packet of the session.
func (s *Session) begin() {
	switch {
	case s.client && s.role == roleSink:
		s.transmit(&ReadRequest{Filename: s.filename, Mode: s.mode})
		s.setState(StateRequestSent)
	case s.client && s.role == roleSource:
		s.transmit(&WriteRequest{Filename: s.filename, Mode: s.mode})
		s.setState(StateRequestSent)
	case s.client && s.role == roleDelete:
		s.transmit(&DeleteRequest{Filename: s.filename})
		s.setState(StateRequestSent)
	case s.role == roleSource:
		s.setState(StateAwaitingFirstAck)
		s.sendNextBlock()
	case s.role == roleSink:
		s.transmit(&Ack{Block: 0})
		s.setState(StateAwaitingFirstData)
	case s.role == roleDelete:
		s.serveDelete()
	}
}

func (s *Session) serveDelete() {
	if err := s.remove(s.filename); err != nil {
		code, msg := errorCodeFor(err)
		s.protocolError(code, msg)
		return
	}
	s.transmit(&DeleteAck{Status: DeleteStatusDeleted})
	s.setState(StateCompleted)
}

// step waits for one datagram or the retransmission deadline. A transport
// failure is treated like silence: the session retransmits once the deadline
// passes, not before.
func (s *Session) step(ctx context.Context) {
	b, from, err := s.conn.receive(ctx, s.deadline)
	if err != nil {
		if !errors.Is(err, errTimeout) {
			s.readErr = err
			internal.Debug("transport read failed", internal.Fields{
				internal.FieldSession: s.id.String(),
				internal.FieldError:   err.Error(),
			})
			if !s.sleepUntilDeadline(ctx) {
				return
			}
		} else if time.Now().Before(s.deadline) {
			// Woken early, most likely by cancellation.
			return
		}
		s.retransmit()
		return
	}
	s.readErr = nil

	if !s.conn.matches(from) {
		s.metrics.datagramDropped("foreign-source")
		internal.Debug("dropped datagram from unexpected source", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldPeer:    from.String(),
		})
		return
	}

	pkt, err := Decode(b)
	if err != nil {
		if !s.conn.locked {
			s.metrics.datagramDropped("malformed")
			return
		}
		var decErr *DecodeError
		if errors.As(err, &decErr) && decErr.Kind == UnknownOpcode {
			s.protocolError(ErrCodeIllegalOperation, "Illegal operation")
		} else {
			s.protocolError(ErrCodeNotDefined, "Malformed packet")
		}
		return
	}

	s.conn.lock(from)
	s.metrics.packetReceived()
	s.handle(pkt)
}

func (s *Session) handle(pkt Packet) {
	switch p := pkt.(type) {
	case *ErrorPacket:
		s.fail(&PeerError{Code: p.Code, Msg: p.Message})
	case *Data:
		if s.role != roleSink {
			s.protocolError(ErrCodeIllegalOperation, "Unexpected DATA")
			return
		}
		s.handleData(p)
	case *Ack:
		if s.role != roleSource {
			s.protocolError(ErrCodeIllegalOperation, "Unexpected ACK")
			return
		}
		s.handleAck(p)
	case *DeleteAck:
		if !s.client || s.role != roleDelete {
			s.protocolError(ErrCodeIllegalOperation, "Unexpected DACK")
			return
		}
		if p.Status != DeleteStatusDeleted {
			s.fail(&PeerError{Code: ErrCodeNotDefined, Msg: fmt.Sprintf("delete refused with status %d", p.Status)})
			return
		}
		s.setState(StateCompleted)
	default:
		s.protocolError(ErrCodeIllegalOperation, "Unexpected "+pkt.Opcode().String())
	}
}

func (s *Session) handleData(p *Data) {
	expected := s.block + 1
	switch {
	case p.Block == expected:
		if _, err := s.sink.Write(p.Payload); err != nil {
			s.mediumError(err, "Failed to write block")
			return
		}
		s.block = expected
		s.result.Bytes += int64(len(p.Payload))
		s.result.Blocks++
		s.metrics.bytesReceived(len(p.Payload))
		s.retries = 0

		final := len(p.Payload) < BlockSize
		if final {
			if err := s.closeAdapters(); err != nil {
				s.mediumError(err, "Failed to write block")
				return
			}
		}
		s.transmit(&Ack{Block: s.block})
		if final {
			s.setState(StateCompleted)
			return
		}
		s.setState(StateTransferring)
	case p.Block == s.block && s.State() == StateTransferring:
		internal.Debug("duplicate DATA, re-sending ACK", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldBlock:   p.Block,
		})
		s.resend()
	default:
		s.protocolError(ErrCodeIllegalOperation, fmt.Sprintf("Unexpected block %d, expected %d", p.Block, expected))
	}
}

func (s *Session) handleAck(p *Ack) {
	switch {
	case p.Block == s.block:
		if s.retries == 0 {
			s.metrics.observeRTT(time.Since(s.sentAt))
		}
		s.retries = 0
		if s.final {
			s.setState(StateCompleted)
			return
		}
		s.setState(StateTransferring)
		s.sendNextBlock()
	case p.Block == s.block-1 && s.State() != StateRequestSent:
		// Re-sending DATA here would double every later block.
		internal.Debug("duplicate ACK ignored", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldBlock:   p.Block,
		})
	default:
		s.protocolError(ErrCodeIllegalOperation, fmt.Sprintf("Unexpected ACK %d, expected %d", p.Block, s.block))
	}
}

// sendNextBlock reads the next chunk from the source and sends it. A short
// read, including an empty one, marks the final block.
func (s *Session) sendNextBlock() {
	n, err := io.ReadFull(s.source, s.chunk)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		s.mediumError(err, "Failed to read block")
		return
	}
	s.block++
	s.final = n < BlockSize
	s.result.Bytes += int64(n)
	s.result.Blocks++
	s.metrics.bytesSent(n)
	s.transmit(&Data{Block: s.block, Payload: s.chunk[:n]})
}

// transmit sends p and arms the retransmission deadline. A failed write is
// treated like a lost packet and left to the retry timer.
func (s *Session) transmit(p Packet) {
	b, err := s.conn.send(p)
	if b == nil {
		s.fail(fmt.Errorf("tftp: encode %s: %w", p.Opcode(), err))
		return
	}
	s.last = b
	s.sentAt = time.Now()
	s.deadline = s.sentAt.Add(s.timeout)
	s.metrics.packetSent()
	if err != nil {
		internal.Debug("transport write failed", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldError:   err.Error(),
		})
	}
}

func (s *Session) resend() {
	if err := s.conn.write(s.last); err != nil {
		internal.Debug("transport write failed", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldError:   err.Error(),
		})
	}
	s.metrics.packetSent()
}

// sleepUntilDeadline reports false if ctx ended first.
func (s *Session) sleepUntilDeadline(ctx context.Context) bool {
	wait := time.Until(s.deadline)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) retransmit() {
	if s.retries >= s.maxRetries {
		if s.readErr != nil {
			s.fail(fmt.Errorf("%w: %w", ErrTimeout, s.readErr))
			return
		}
		s.fail(ErrTimeout)
		return
	}
	s.retries++
	s.result.Retransmits++
	s.metrics.retransmitted()
	internal.Debug("retransmitting", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldBlock:   s.block,
	})
	s.resend()
	s.deadline = time.Now().Add(s.timeout)
}

func (s *Session) sendError(code ErrorCode, msg string) {
	if _, err := s.conn.send(&ErrorPacket{Code: code, Message: msg}); err == nil {
		s.metrics.packetSent()
	}
}

func (s *Session) protocolError(code ErrorCode, msg string) {
	s.sendError(code, msg)
	s.fail(&ProtocolError{Code: code, Msg: msg})
}

func (s *Session) mediumError(err error, msg string) {
	s.sendError(ErrCodeNotDefined, msg)
	s.fail(&MediumError{Err: err})
}

func (s *Session) abort() {
	if s.State() != StateIdle {
		s.sendError(ErrCodeNotDefined, "cancelled")
	}
	s.fail(ErrCancelled)
}

func (s *Session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.setState(StateFailed)
}

func (s *Session) closeAdapters() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Session) finish() {
	if err := s.closeAdapters(); err != nil && s.err == nil {
		s.fail(&MediumError{Err: err})
	}
}
