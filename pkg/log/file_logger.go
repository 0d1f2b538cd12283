package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// FileLogger writes protocol events to a file as newline-delimited JSON
// using zerolog. It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file   *os.File
	logger zerolog.Logger
	mu     sync.Mutex
	closed bool
}

// NewFileLogger creates a new FileLogger that writes to the specified path.
// If the file exists, new events are appended. The file is created with
// permissions 0644 if it doesn't exist.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:   f,
		logger: zerolog.New(f).With().Timestamp().Logger(),
	}, nil
}

// Log writes an event to the log file as one JSON object per line.
// This method is safe for concurrent use.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Errors writing the log must not disrupt the application.
	l.logger.Log().
		Time("event_ts", event.Timestamp).
		Str("endpoint", event.EndpointName).
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String()).
		Str("role", event.LocalRole.String()).
		Str("remote_addr", event.RemoteAddr).
		Str("server_uri", event.ServerURI).
		Interface("message", event.Message).
		Interface("state_change", event.StateChange).
		Interface("error", event.Error).
		Send()
}

// Close closes the log file.
// It is safe to call Close multiple times.
// After Close is called, subsequent Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
