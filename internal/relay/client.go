package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/metrics"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	DefaultRetryBackoff = 5 * time.Second
)

// Probe outcomes recorded per role.
const (
	probeAccepted   = "accepted"
	probeRejected   = "rejected"
	probeElected    = "self_elected"
	probeNoListener = "no_listener"
	probeUnexpected = "unexpected"
	probeTimeout    = "timeout"
	probeMatched    = "matched"
	probeNotFound   = "not_found"
	probeDropped    = "dropped"
)

// Options configures port probing for both roles.
type Options struct {
	Host         string
	BasePort     int
	ProbeTimeout time.Duration
	RetryBackoff time.Duration
	Metrics      *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.BasePort == 0 {
		o.BasePort = DefaultBasePort
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

func (o Options) addr(offset int) string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.BasePort+offset))
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrNoListener, addr, err)
	}
	return conn, nil
}

// exchange sends m and reads one reply within timeout.
func exchange(conn net.Conn, r *reader, m Message, timeout time.Duration) (Message, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Message{}, err
	}
	if _, err := conn.Write(m.Encode()); err != nil {
		return Message{}, fmt.Errorf("write %s: %w", m.Verb, err)
	}
	return r.next()
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Announcement is the result of a successful broadcast.
type Announcement struct {
	Port int
	// Broker is set when no broker existed and this process now hosts one.
	Broker *Broker
	Addr   net.Addr

	done chan error
	once sync.Once
	err  error
}

// SelfElected reports whether this process hosts the broker.
func (a *Announcement) SelfElected() bool {
	return a.Broker != nil
}

// Wait blocks until the hosted broker stops. It returns at once when the
// broadcast was delivered to another broker.
func (a *Announcement) Wait() error {
	if a.done == nil {
		return nil
	}
	a.once.Do(func() { a.err = <-a.done })
	return a.err
}

// Broadcaster announces one record.
type Broadcaster struct {
	record     Record
	opts       Options
	brokerOpts []BrokerOption
	logger     *slog.Logger
}

// NewBroadcaster creates a broadcaster for rec. brokerOpts apply to the
// broker hosted on self-election.
func NewBroadcaster(rec Record, opts Options, brokerOpts ...BrokerOption) *Broadcaster {
	return &Broadcaster{
		record:     rec,
		opts:       opts.withDefaults(),
		brokerOpts: brokerOpts,
		logger:     log.WithRelay(rec.ID).With("component", "relay-broadcaster"),
	}
}

// Announce delivers the record to the first broker found, probing upward
// from the base port. When a port has no listener the broadcaster binds it
// and hosts a broker seeded with its own record until ctx is cancelled.
func (b *Broadcaster) Announce(ctx context.Context) (*Announcement, error) {
	if err := b.record.Validate(); err != nil {
		return nil, err
	}

	for offset := 0; ; offset++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := b.opts.addr(offset)
		port := b.opts.BasePort + offset

		conn, err := dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Info("relay broker not found, hosting one", "addr", addr, "error", err)
			a, lerr := b.host(ctx, addr, port)
			if lerr != nil {
				b.logger.Warn("cannot host relay broker, checking next port", "addr", addr, "error", lerr)
				continue
			}
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeElected)
			return a, nil
		}

		b.logger.Debug("connected to candidate relay broker", "addr", addr)
		reply, err := exchange(conn, newReader(conn), b.record.broadcast(), b.opts.ProbeTimeout)
		_ = conn.Close()

		switch {
		case err != nil && isTimeout(err):
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeTimeout)
			b.logger.Info("candidate did not answer in time, checking next port", "addr", addr)
		case err != nil:
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeUnexpected)
			b.logger.Info("candidate failed during broadcast, checking next port", "addr", addr, "error", err)
		case reply.Verb == ReplyAccept:
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeAccepted)
			b.logger.Info("relay broadcast accepted", "addr", addr)
			return &Announcement{Port: port, Addr: conn.RemoteAddr()}, nil
		case reply.Verb == ReplyRejected:
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeRejected)
			return nil, fmt.Errorf("%w by broker at %s: check the launch arguments %q", ErrRejected, addr, b.record.Args)
		default:
			b.opts.Metrics.RecordRelayProbe("broadcaster", probeUnexpected)
			b.logger.Info("candidate is not a relay broker, checking next port", "addr", addr, "reply", reply.String())
		}
	}
}

func (b *Broadcaster) host(ctx context.Context, addr string, port int) (*Announcement, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	broker := NewBroker(b.brokerOpts...)
	if err := broker.Seed(b.record); err != nil {
		_ = ln.Close()
		return nil, err
	}

	a := &Announcement{Port: port, Broker: broker, Addr: ln.Addr(), done: make(chan error, 1)}
	go func() {
		a.done <- broker.Serve(ctx, ln)
	}()
	return a, nil
}

// Requester waits for a broadcaster with one identifier.
type Requester struct {
	id     string
	opts   Options
	logger *slog.Logger
}

func NewRequester(id string, opts Options) *Requester {
	return &Requester{
		id:     id,
		opts:   opts.withDefaults(),
		logger: log.WithRelay(id).With("component", "relay-requester"),
	}
}

type attempt int

const (
	attemptMatched attempt = iota
	attemptNextPort
	attemptRestart
)

// Request returns the args of the matching broadcast. Unreachable ports are
// retried after the backoff; ports that answer wrongly or not at all are
// skipped. After NFND it waits for the broker push with no timeout. If the
// broker drops a waiting requester, probing restarts at the base port.
func (r *Requester) Request(ctx context.Context) ([]string, error) {
	if err := validateID(r.id); err != nil {
		return nil, err
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := r.opts.addr(offset)

		conn, err := dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.opts.Metrics.RecordRelayProbe("requester", probeNoListener)
			r.logger.Info("relay broker not reachable, retrying", "addr", addr, "backoff", r.opts.RetryBackoff.String())
			if err := sleep(ctx, r.opts.RetryBackoff); err != nil {
				return nil, err
			}
			continue
		}

		args, next, err := r.attempt(ctx, conn, addr)
		_ = conn.Close()
		if err != nil {
			return nil, err
		}
		switch next {
		case attemptMatched:
			return args, nil
		case attemptNextPort:
			offset++
		case attemptRestart:
			offset = 0
		}
	}
}

func (r *Requester) attempt(ctx context.Context, conn net.Conn, addr string) ([]string, attempt, error) {
	br := newReader(conn)
	reply, err := exchange(conn, br, requestMessage(r.id), r.opts.ProbeTimeout)
	if err != nil {
		if isTimeout(err) {
			r.opts.Metrics.RecordRelayProbe("requester", probeTimeout)
			r.logger.Info("candidate did not answer in time, checking next port", "addr", addr)
		} else {
			r.opts.Metrics.RecordRelayProbe("requester", probeUnexpected)
			r.logger.Info("candidate failed during request, checking next port", "addr", addr, "error", err)
		}
		return nil, attemptNextPort, nil
	}

	switch reply.Verb {
	case VerbConnect:
		r.opts.Metrics.RecordRelayProbe("requester", probeMatched)
		r.logger.Info("relay match received", "addr", addr)
		return reply.Fields, attemptMatched, nil
	case VerbNotFound:
		r.opts.Metrics.RecordRelayProbe("requester", probeNotFound)
		r.logger.Info("broadcaster not online yet, waiting for the broker", "addr", addr)
		return r.await(ctx, conn, br, addr)
	default:
		r.opts.Metrics.RecordRelayProbe("requester", probeUnexpected)
		r.logger.Info("candidate is not a relay broker, checking next port", "addr", addr, "reply", reply.String())
		return nil, attemptNextPort, nil
	}
}

// await blocks on conn until the broker pushes CNCT, the broker drops the
// connection, or ctx ends.
func (r *Requester) await(ctx context.Context, conn net.Conn, br *reader, addr string) ([]string, attempt, error) {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, attemptRestart, nil
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		msg, err := br.next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			r.opts.Metrics.RecordRelayProbe("requester", probeDropped)
			r.logger.Warn("relay broker dropped the connection, probing from the base port", "addr", addr, "error", err)
			return nil, attemptRestart, nil
		}

		if msg.Verb == VerbConnect {
			r.opts.Metrics.RecordRelayProbe("requester", probeMatched)
			r.logger.Info("relay match pushed by broker", "addr", addr)
			return msg.Fields, attemptMatched, nil
		}
		r.logger.Debug("ignoring relay message while waiting", "verb", msg.Verb)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
