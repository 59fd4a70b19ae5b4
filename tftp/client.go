package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// OperationData describes one client operation: what to do, against which
// server, and with which files.
type OperationData struct {
	Op         Operation
	Peer       *net.UDPAddr
	LocalName  string
	RemoteName string
	Mode       string
}

// NewOperationData validates and completes an operation description. The
// remote name defaults to the local one, the mode to octet and the peer port
// to 69.
func NewOperationData(op Operation, peer *net.UDPAddr, local, remote, mode string) (*OperationData, error) {
	switch op {
	case OperationSend, OperationReceive, OperationDelete:
	default:
		return nil, fmt.Errorf("unknown operation %d", op)
	}
	if peer == nil {
		return nil, errors.New("no peer address")
	}
	if local == "" {
		return nil, errors.New("no file name")
	}

	if remote == "" {
		remote = local
	}
	mode = strings.ToLower(mode)
	if mode == "" {
		mode = ModeOctet
	}
	if mode != ModeOctet && mode != ModeNetascii {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}

	p := *peer
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	return &OperationData{
		Op:         op,
		Peer:       &p,
		LocalName:  local,
		RemoteName: remote,
		Mode:       mode,
	}, nil
}

type ClientOption func(*Client)

func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetransmit overrides the retransmission timeout and retry count.
func WithRetransmit(timeout time.Duration, retries int) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.maxRetries = retries
	}
}

// Client runs one operation at a time per call. Calls are independent and
// may run concurrently.
type Client struct {
	metrics      *Metrics
	listenPacket func(network, address string) (net.PacketConn, error)
	timeout      time.Duration
	maxRetries   int
}

func NewClient(options ...ClientOption) *Client {
	c := &Client{
		listenPacket: net.ListenPacket,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Send writes the contents of src to the server as data.RemoteName.
func (c *Client) Send(ctx context.Context, data *OperationData, src io.Reader) (Result, error) {
	if data.Op != OperationSend {
		return Result{}, fmt.Errorf("%s operation passed to Send", data.Op)
	}
	return c.run(ctx, data, sessionConfig{role: roleSource, source: src})
}

// Receive copies data.RemoteName from the server into dst. On failure dst may
// hold a partial file.
func (c *Client) Receive(ctx context.Context, data *OperationData, dst io.Writer) (Result, error) {
	if data.Op != OperationReceive {
		return Result{}, fmt.Errorf("%s operation passed to Receive", data.Op)
	}
	return c.run(ctx, data, sessionConfig{role: roleSink, sink: dst})
}

// Delete asks the server to remove data.RemoteName.
func (c *Client) Delete(ctx context.Context, data *OperationData) (Result, error) {
	if data.Op != OperationDelete {
		return Result{}, fmt.Errorf("%s operation passed to Delete", data.Op)
	}
	return c.run(ctx, data, sessionConfig{role: roleDelete})
}

func (c *Client) run(ctx context.Context, data *OperationData, cfg sessionConfig) (Result, error) {
	conn, err := c.listenPacket("udp", ":0")
	if err != nil {
		return Result{}, fmt.Errorf("open socket: %w", err)
	}

	cfg.name = data.Op.String()
	cfg.client = true
	cfg.filename = data.RemoteName
	cfg.mode = data.Mode
	cfg.conn = newRequestConn(conn, data.Peer, false)
	cfg.metrics = c.metrics
	cfg.timeout = c.timeout
	cfg.maxRetries = c.maxRetries

	s := newSession(cfg)
	err = s.Run(ctx)
	return s.Result(), err
}
