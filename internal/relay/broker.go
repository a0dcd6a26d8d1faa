package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/deckrelay/internal/events"
	"github.com/mattjoyce/deckrelay/internal/log"
	"github.com/mattjoyce/deckrelay/internal/metrics"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// Journal records broker decisions. *storage.RelayJournal implements it.
type Journal interface {
	Append(ctx context.Context, e storage.RelayEntry) error
}

// Publisher receives broker activity. *events.Hub implements it.
type Publisher interface {
	Publish(eventType, subject string, data any)
}

// Journal outcomes.
const (
	OutcomeStored   = "stored"
	OutcomePushed   = "pushed"
	OutcomeMatched  = "matched"
	OutcomeWaiting  = "waiting"
	OutcomeRejected = "rejected"
	OutcomeIgnored  = "ignored"
	OutcomeClosed   = "closed"
)

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

func WithJournal(j Journal) BrokerOption {
	return func(b *Broker) { b.journal = j }
}

func WithPublisher(p Publisher) BrokerOption {
	return func(b *Broker) { b.publisher = p }
}

func WithMetrics(m *metrics.Metrics) BrokerOption {
	return func(b *Broker) { b.metrics = m }
}

// WithValidator adds a check on broadcast args. A failing broadcast is
// answered with RELAY_REJECTED.
func WithValidator(fn func(args []string) error) BrokerOption {
	return func(b *Broker) { b.validate = fn }
}

// Pending is a snapshot of the broker tables.
type Pending struct {
	Records    []Record `json:"records"`
	Requesters []string `json:"requesters"`
}

// Broker matches broadcasters and requesters by identifier. All table access
// is serialized by mu so an identifier is matched at most once.
type Broker struct {
	logger    *slog.Logger
	journal   Journal
	publisher Publisher
	metrics   *metrics.Metrics
	validate  func(args []string) error

	mu       sync.Mutex
	records  map[string]Record
	waiting  map[string]*session
	sessions map[*session]struct{}

	wg sync.WaitGroup
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		logger:   log.WithComponent("relay-broker"),
		records:  make(map[string]Record),
		waiting:  make(map[string]*session),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Seed stores r as if it had been broadcast. A self-electing broadcaster
// seeds its own record before serving.
func (b *Broker) Seed(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.records[r.ID] = r
	b.recordPendingLocked()
	b.mu.Unlock()
	b.logger.Info("seeded relay record", "relay_id", r.ID, "args", len(r.Args))
	return nil
}

// Pending returns the stored records and waiting identifiers, sorted.
func (b *Broker) Pending() Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Pending{Records: make([]Record, 0, len(b.records)), Requesters: make([]string, 0, len(b.waiting))}
	for _, r := range b.records {
		p.Records = append(p.Records, r)
	}
	for id := range b.waiting {
		p.Requesters = append(p.Requesters, id)
	}
	sort.Slice(p.Records, func(i, j int) bool { return p.Records[i].ID < p.Records[j].ID })
	sort.Strings(p.Requesters)
	return p
}

// Serve accepts sessions on ln until ctx is cancelled, then closes the
// listener and every open session and waits for their handlers. It returns
// nil on cancellation and the accept error otherwise.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	b.logger.Info("relay broker listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				serveErr = fmt.Errorf("accept relay session: %w", err)
			}
			break
		}

		s := b.open(conn)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handle(ctx, s)
		}()
	}

	_ = ln.Close()
	b.closeSessions()
	b.wg.Wait()
	b.logger.Info("relay broker stopped", "addr", ln.Addr().String())
	return serveErr
}

func (b *Broker) open(conn net.Conn) *session {
	s := &session{
		id:   uuid.NewString(),
		conn: conn,
	}
	s.logger = b.logger.With("session", s.id, "remote", conn.RemoteAddr().String())

	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	b.metrics.RecordRelaySession(1)
	s.logger.Debug("relay session opened")
	return s
}

func (b *Broker) closeSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.sessions {
		_ = s.conn.Close()
	}
}

// handle runs one session's read loop. The loop ends only on peer
// disconnect or a read failure.
func (b *Broker) handle(ctx context.Context, s *session) {
	defer b.release(ctx, s)

	rd := newReader(s.conn)
	for {
		msg, err := rd.next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("relay session read failed", "error", err)
			}
			return
		}
		b.metrics.RecordRelayMessage(msg.Verb)

		switch msg.Verb {
		case VerbBroadcast:
			b.broadcast(ctx, s, msg)
		case VerbRequest:
			b.request(ctx, s, msg)
		default:
			s.logger.Warn("ignoring unknown relay verb", "verb", msg.Verb)
			b.journalEntry(ctx, s, msg.Verb, "", OutcomeIgnored, nil)
		}
	}
}

// release removes every trace of s from the broker tables.
func (b *Broker) release(ctx context.Context, s *session) {
	_ = s.conn.Close()

	b.mu.Lock()
	delete(b.sessions, s)
	var dropped []string
	for id, w := range b.waiting {
		if w == s {
			delete(b.waiting, id)
			dropped = append(dropped, id)
		}
	}
	b.recordPendingLocked()
	b.mu.Unlock()

	b.metrics.RecordRelaySession(-1)
	for _, id := range dropped {
		log.WithRelay(id).Info("waiting requester disconnected", "session", s.id)
	}
	b.journalEntry(ctx, s, "", "", OutcomeClosed, nil)
	b.publish(events.TypeRelaySessionEnd, "", map[string]any{"session": s.id, "abandoned": dropped})
	s.logger.Debug("relay session closed")
}

func (b *Broker) broadcast(ctx context.Context, s *session, msg Message) {
	var rec Record
	if len(msg.Fields) > 0 {
		rec = Record{ID: msg.Fields[0], Args: msg.Fields[1:]}
	}
	logger := log.WithRelay(rec.ID).With("session", s.id)

	err := rec.Validate()
	if err == nil && b.validate != nil {
		err = b.validate(rec.Args)
	}
	if err != nil {
		logger.Warn("rejecting relay broadcast", "error", err)
		b.journalEntry(ctx, s, VerbBroadcast, rec.ID, OutcomeRejected, rec.Args)
		b.publish(events.TypeRelayRejected, rec.ID, map[string]string{"error": err.Error()})
		s.reply(Message{Verb: ReplyRejected})
		return
	}

	// An unwritable waiter is dropped and the table checked again. The record
	// is stored only while nobody waits for it.
	outcome := OutcomeStored
	for {
		b.mu.Lock()
		waiter, ok := b.waiting[rec.ID]
		if !ok {
			if _, replaced := b.records[rec.ID]; replaced {
				logger.Info("replacing pending relay record")
			}
			b.records[rec.ID] = rec
			b.recordPendingLocked()
			b.mu.Unlock()
			break
		}
		delete(b.waiting, rec.ID)
		b.recordPendingLocked()
		b.mu.Unlock()

		if err := waiter.reply(rec.connect()); err != nil {
			logger.Warn("waiting requester unreachable", "requester", waiter.id, "error", err)
			_ = waiter.conn.Close()
			continue
		}
		outcome = OutcomePushed
		b.metrics.RecordRelayMatch()
		logger.Info("pushed broadcast to waiting requester", "requester", waiter.id)
		b.publish(events.TypeRelayMatched, rec.ID, map[string]any{"args": rec.Args, "requester": waiter.id})
		break
	}

	if outcome == OutcomeStored {
		logger.Info("stored relay broadcast", "args", len(rec.Args))
		b.publish(events.TypeRelayBroadcast, rec.ID, map[string]any{"args": rec.Args})
	}
	b.journalEntry(ctx, s, VerbBroadcast, rec.ID, outcome, rec.Args)
	s.reply(Message{Verb: ReplyAccept})
}

func (b *Broker) request(ctx context.Context, s *session, msg Message) {
	if len(msg.Fields) == 0 || validateID(msg.Fields[0]) != nil {
		s.logger.Warn("ignoring relay request without a valid identifier", "fields", msg.Fields)
		b.journalEntry(ctx, s, VerbRequest, "", OutcomeIgnored, nil)
		return
	}
	id := msg.Fields[0]
	logger := log.WithRelay(id).With("session", s.id)

	// NFND precedes any push: the write lock is held from registration
	// until the reply is written.
	s.wmu.Lock()
	b.mu.Lock()
	rec, found := b.records[id]
	if found {
		delete(b.records, id)
	} else {
		if prev, ok := b.waiting[id]; ok && prev != s {
			logger.Info("replacing waiting requester", "previous", prev.id)
		}
		b.waiting[id] = s
	}
	b.recordPendingLocked()
	b.mu.Unlock()
	if !found {
		_ = s.write(Message{Verb: VerbNotFound})
	}
	s.wmu.Unlock()

	if found {
		b.metrics.RecordRelayMatch()
		logger.Info("matched relay request")
		b.journalEntry(ctx, s, VerbRequest, id, OutcomeMatched, rec.Args)
		b.publish(events.TypeRelayMatched, id, map[string]any{"args": rec.Args, "requester": s.id})
		s.reply(rec.connect())
		return
	}

	logger.Info("relay identifier not found, requester waiting")
	b.journalEntry(ctx, s, VerbRequest, id, OutcomeWaiting, nil)
	b.publish(events.TypeRelayNotFound, id, nil)
	b.publish(events.TypeRelayRequest, id, map[string]string{"requester": s.id})
}

func (b *Broker) recordPendingLocked() {
	b.metrics.RecordRelayPending(len(b.records), len(b.waiting))
}

func (b *Broker) journalEntry(ctx context.Context, s *session, verb, id, outcome string, args []string) {
	if b.journal == nil {
		return
	}
	if verb == "" {
		verb = "-"
	}
	err := b.journal.Append(context.WithoutCancel(ctx), storage.RelayEntry{
		SessionID: s.id,
		Verb:      verb,
		RelayID:   id,
		Outcome:   outcome,
		Args:      args,
	})
	if err != nil {
		s.logger.Warn("failed to journal relay decision", "error", err)
	}
}

func (b *Broker) publish(eventType, subject string, data any) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(eventType, subject, data)
}

// session is one accepted broker connection. Replies and pushes from other
// sessions share the write mutex.
type session struct {
	id     string
	conn   net.Conn
	logger *slog.Logger

	wmu sync.Mutex
}

func (s *session) reply(m Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.write(m)
}

// write sends m as one write. The caller holds wmu.
func (s *session) write(m Message) error {
	if _, err := s.conn.Write(m.Encode()); err != nil {
		s.logger.Debug("relay write failed", "verb", m.Verb, "error", err)
		return err
	}
	return nil
}
