// Package client implements the device side of the protocol: the
// per-server registration state machine, the inbound CoAP dispatcher
// that routes requests to object callbacks, and the observation table
// that turns state changes into CoAP notifications.
package client
