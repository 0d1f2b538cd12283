// Package connection provides exponential-backoff retry timing shared by
// the client registration FSM (package client) when a Register attempt
// fails. A failed Update is not retried with this backoff.
//
// # Retry Strategy
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful registration
//
// # Jitter
//
// To prevent many endpoints retrying in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// The registration FSM additionally bounds retries by the server-declared
// lifetime: once that lifetime elapses without a successful Register, the
// FSM abandons the attempt and returns to Unregistered rather than
// continuing to back off forever.
package connection
