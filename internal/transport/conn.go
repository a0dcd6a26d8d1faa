package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/deckrelay/internal/launch"
	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/protocol"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnect wraps dial and registration failures.
	ErrConnect = errors.New("host connection failed")
	// ErrNotOpen is returned by Run when the connection is not open.
	ErrNotOpen = errors.New("host connection not open")
)

// Receiver consumes reassembled messages for one connection.
type Receiver interface {
	// HandleMessage processes one complete text block. It is never called
	// concurrently for the same connection.
	HandleMessage(ctx context.Context, block []byte)
	// ConnectionClosed is called once after the receive loop exits.
	ConnectionClosed()
}

// Options tune a Conn. Zero values select defaults.
type Options struct {
	// Host is the host name dialled; defaults to localhost.
	Host string
	// ReadChunk is the fragment size used by the receive loop.
	ReadChunk int
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration
}

// Conn is one connection to the host.
type Conn struct {
	params launch.Params
	opts   Options
	id     string
	logger *slog.Logger

	state   atomic.Int32
	running atomic.Bool

	mu  sync.Mutex // serializes writes and guards ws
	ws  *websocket.Conn
	src FragmentReader
}

// New creates a disconnected Conn for params.
func New(params launch.Params, opts Options) *Conn {
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = DefaultReadChunk
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	return &Conn{
		params: params,
		opts:   opts,
		id:     id,
		logger: log.WithComponent("transport").With("conn_id", id, "port", params.Port),
	}
}

// ID identifies this connection in logs.
func (c *Conn) ID() string { return c.id }

// State reports the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("connection state changed", "from", prev.String(), "to", s.String())
	}
}

// Connect dials the host and registers the plugin. On success the
// connection is Open.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return fmt.Errorf("connect: connection is %s", c.State())
	}

	url := c.params.URL(c.opts.Host)
	c.logger.Info("connecting to host", "url", url)

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.setState(Closed)
		return fmt.Errorf("%w: dial %s: %v", ErrConnect, url, err)
	}

	reg, err := protocol.EncodeRegistration(c.params.RegisterEvent, c.params.PluginUUID)
	if err == nil {
		err = ws.WriteMessage(websocket.TextMessage, reg)
	}
	if err != nil {
		_ = ws.Close()
		c.setState(Closed)
		return fmt.Errorf("%w: register: %v", ErrConnect, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.src = newFragmentReader(ws, c.opts.ReadChunk)
	c.mu.Unlock()

	c.setState(Open)
	c.logger.Info("connection successful, plugin registered", "register_event", c.params.RegisterEvent)
	return nil
}

// Run is the receive loop. It blocks until the socket stops being open or
// ctx is cancelled, then closes the connection and notifies r.
func (c *Conn) Run(ctx context.Context, r Receiver) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("receive loop already running")
	}
	defer c.running.Store(false)

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.mu.Lock()
	src := c.src
	c.mu.Unlock()

	err := c.receive(ctx, src, r)
	requested := c.State() == Closing
	c.finish()
	r.ConnectionClosed()
	c.logger.Info("host disconnected, connection closed")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if requested || err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return fmt.Errorf("receive: %w", err)
}

// receive reads until the connection leaves Open or the source fails.
func (c *Conn) receive(ctx context.Context, src FragmentReader, r Receiver) error {
	var asm assembler
	for c.State() == Open {
		frag, err := src.ReadFragment()
		if err != nil {
			if asm.pending() > 0 {
				c.logger.Warn("connection ended mid-message", "buffered_bytes", asm.pending())
			}
			return err
		}
		block, done := asm.add(frag)
		if !done {
			c.logger.Debug("received partial message, waiting for next fragment", "buffered_bytes", asm.pending())
			continue
		}
		r.HandleMessage(ctx, block)
	}
	return nil
}

// finish moves to Closed and clears the send handle.
func (c *Conn) finish() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.src = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.setState(Closed)
}

// Send writes ev to the host. Failures are logged, never returned.
func (c *Conn) Send(ctx context.Context, ev protocol.Event) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		c.logger.Error("failed to encode outbound event", "event", ev.Event, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil || c.State() != Open {
		c.logger.Warn("no open host connection, dropping outbound event", "event", ev.Event, "context", ev.Context)
		return
	}

	deadline, _ := ctx.Deadline()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("failed to send outbound event", "event", ev.Event, "context", ev.Context, "error", err)
		return
	}
	c.logger.Debug("dispatched outbound event", "event", ev.Event, "context", ev.Context)
}

// Close starts an orderly shutdown. The receive loop observes it and exits.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	if !c.state.CompareAndSwap(int32(Open), int32(Closing)) {
		return nil
	}
	c.logger.Debug("connection state changed", "from", Open.String(), "to", Closing.String())

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := ws.Close()

	if !c.running.Load() {
		c.finish()
	}
	return err
}
