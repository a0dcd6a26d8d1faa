// Package action holds the action/event registry used by the dispatch engine.
//
// Actions are registered explicitly at program start with Define, which captures
// the action's settings type. Inbound event names map to a closed set of Kinds;
// when the dispatch engine first sees an event for a context it asks the
// action's descriptor to bind that Kind, which resolves the payload type
// parametrized by the settings type and the capability interface the action
// instance implements. Base provides a no-op for every capability plus the
// outbound helpers (setTitle, showAlert, ...) bound to the connection handle
// the engine attaches.
package action
