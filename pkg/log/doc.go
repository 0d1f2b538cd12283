// Package log provides structured protocol logging for the LWM2M core.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (CoAP transport, TLV codec,
// dispatcher, registration FSM, directory, observation table). It is
// separate from operational logging (slog) - protocol capture provides a
// complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by passing a Logger implementation to
// the client or server constructors:
//
//	// For development: log to console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a JSON-lines file via zerolog
//	fileLogger, err := log.NewFileLogger("/var/log/lwm2m/device.log")
//
//	// Both: use MultiLogger
//	logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Management issuer: replies and pushed notifications (MessageEvent)
//   - Registration/Directory: state transitions (StateChangeEvent)
//   - Observation: subscribe/notify lifecycle (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files are newline-delimited JSON written by zerolog, one Event per
// line, readable back with Reader/NewFilteredReader.
package log
