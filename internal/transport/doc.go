// Package transport owns the duplex WebSocket connection to the host.
//
// A Conn moves through Disconnected → Connecting → Open → Closing → Closed.
// Connect dials the host and sends the registration message. Run is the single
// receive loop: it reads the socket in fragments, reassembles them until the
// end-of-message fragment, and hands the complete text block to the Receiver
// synchronously, so at most one message is being dispatched at a time. When the
// loop ends the connection is Closed, the Receiver is told to drop its routing
// state, and the send handle is cleared.
//
// Send is fire-and-forget and safe for concurrent use; with no open connection
// it logs and returns.
package transport
