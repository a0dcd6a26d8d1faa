// Package dispatch routes decoded host envelopes to action instances.
//
// The Engine keeps one Router per (context, action) pair seen on the current
// connection. A router owns the action instance created for that pair and
// memoizes one Binding per event, resolved lazily on first delivery.
//
// Failure handling:
//   - Undecodable messages are logged and dropped
//   - Unknown actions are logged; no router is created
//   - Undeclared events are ignored
//   - Payload decode failures are logged without an alert
//   - Handler errors and panics show one alert on the key and are logged
//
// None of these stop the receive loop. Routers are discarded when the
// connection closes.
package dispatch
