package relay

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Protocol verbs and replies.
const (
	VerbBroadcast = "BCST"
	VerbRequest   = "RQST"
	VerbConnect   = "CNCT"
	VerbNotFound  = "NFND"
	ReplyAccept   = "RELAY_ACCEPT"
	ReplyRejected = "RELAY_REJECTED"
)

const (
	// DefaultBasePort is the first port probed by both roles.
	DefaultBasePort = 17423

	delimiter = ";"

	// maxRead bounds one socket read, and so one message.
	maxRead = 64 * 1024
)

var (
	// ErrInvalidRecord is returned for identifiers or args that cannot be
	// carried on the wire.
	ErrInvalidRecord = errors.New("invalid relay record")

	// ErrRejected means a broker refused the broadcast. It is a configuration
	// error on the broadcasting side.
	ErrRejected = errors.New("relay broadcast rejected")

	// ErrNoListener means nothing accepted a connection on the probed port.
	ErrNoListener = errors.New("no relay listener")
)

// fieldless are the replies that never carry fields. One of them followed
// directly by more bytes is two messages sharing a read.
var fieldless = []string{VerbNotFound, ReplyAccept, ReplyRejected}

// Message is one decoded protocol message.
type Message struct {
	Verb   string
	Fields []string
}

// ParseLine splits one message (with or without a line terminator) into a Message.
func ParseLine(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, delimiter)
	return Message{Verb: parts[0], Fields: parts[1:]}
}

// Encode renders m for a single write. Messages carry no terminator: each
// write is one message.
func (m Message) Encode() []byte {
	return []byte(m.String())
}

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Verb)
	for _, f := range m.Fields {
		b.WriteString(delimiter)
		b.WriteString(f)
	}
	return b.String()
}

// SplitMessages decodes the bytes of one read. A read without '\n' is one
// message. A read with '\n' holds one message per non-empty line, so
// newline-framed peers work too.
func SplitMessages(chunk []byte) []Message {
	var out []Message
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimRight(line, "\r")
		for line != "" {
			var head string
			head, line = splitFieldless(line)
			out = append(out, ParseLine(head))
		}
	}
	return out
}

// splitFieldless peels a fieldless reply off the front of s when something
// else follows it. A push can share a read with the NFND before it.
func splitFieldless(s string) (string, string) {
	for _, v := range fieldless {
		if len(s) > len(v) && strings.HasPrefix(s, v) && !strings.HasPrefix(s[len(v):], delimiter) {
			return v, s[len(v):]
		}
	}
	return s, ""
}

// reader yields the messages of successive reads from one connection.
type reader struct {
	conn    net.Conn
	buf     []byte
	pending []Message
}

func newReader(conn net.Conn) *reader {
	return &reader{conn: conn, buf: make([]byte, maxRead)}
}

// next returns the next message, reading from the connection when none is
// queued. Messages already read are returned before a read error.
func (r *reader) next() (Message, error) {
	for len(r.pending) == 0 {
		n, err := r.conn.Read(r.buf)
		if n > 0 {
			r.pending = SplitMessages(r.buf[:n])
		}
		if err != nil && len(r.pending) == 0 {
			return Message{}, err
		}
	}
	m := r.pending[0]
	r.pending = r.pending[1:]
	return m, nil
}

// Record is a pending broadcaster: its identifier and the launch args it
// hands to whoever requests it.
type Record struct {
	ID   string   `json:"id"`
	Args []string `json:"args"`
}

// Validate checks that r survives the wire encoding.
func (r Record) Validate() error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	for i, a := range r.Args {
		if strings.ContainsAny(a, delimiter+"\r\n") {
			return fmt.Errorf("%w: arg %d %q contains a delimiter", ErrInvalidRecord, i, a)
		}
	}
	return nil
}

func (r Record) broadcast() Message {
	return Message{Verb: VerbBroadcast, Fields: append([]string{r.ID}, r.Args...)}
}

func (r Record) connect() Message {
	return Message{Verb: VerbConnect, Fields: r.Args}
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidRecord)
	}
	if strings.ContainsAny(id, delimiter+"\r\n") {
		return fmt.Errorf("%w: identifier %q contains a delimiter", ErrInvalidRecord, id)
	}
	return nil
}

func requestMessage(id string) Message {
	return Message{Verb: VerbRequest, Fields: []string{id}}
}
