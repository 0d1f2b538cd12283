package log

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"time"
)

// Filter specifies criteria for filtering log events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// EndpointName filters by exact client endpoint name match.
	EndpointName string

	// Direction filters by message direction.
	Direction *Direction

	// Layer filters by protocol layer.
	Layer *Layer

	// Category filters by event category.
	Category *Category

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time

	// ServerURI filters by known-server URI.
	ServerURI string
}

// matches returns true if the event matches all filter criteria.
func (f *Filter) matches(event Event) bool {
	if f.EndpointName != "" && event.EndpointName != f.EndpointName {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.ServerURI != "" && event.ServerURI != f.ServerURI {
		return false
	}
	return true
}

// reader record mirrors the field names FileLogger writes via zerolog.
type readerRecord struct {
	EventTS     time.Time         `json:"event_ts"`
	Endpoint    string            `json:"endpoint"`
	Direction   string            `json:"direction"`
	Layer       string            `json:"layer"`
	Category    string            `json:"category"`
	Role        string            `json:"role"`
	RemoteAddr  string            `json:"remote_addr"`
	ServerURI   string            `json:"server_uri"`
	Message     *MessageEvent     `json:"message"`
	StateChange *StateChangeEvent `json:"state_change"`
	Error       *ErrorEventData   `json:"error"`
}

func (r readerRecord) toEvent() Event {
	return Event{
		Timestamp:    r.EventTS,
		EndpointName: r.Endpoint,
		Direction:    directionFromString(r.Direction),
		Layer:        layerFromString(r.Layer),
		Category:     categoryFromString(r.Category),
		LocalRole:    roleFromString(r.Role),
		RemoteAddr:   r.RemoteAddr,
		ServerURI:    r.ServerURI,
		Message:      r.Message,
		StateChange:  r.StateChange,
		Error:        r.Error,
	}
}

func directionFromString(s string) Direction {
	if s == DirectionOut.String() {
		return DirectionOut
	}
	return DirectionIn
}

func layerFromString(s string) Layer {
	for _, l := range []Layer{LayerTransport, LayerTLV, LayerDispatch, LayerRegistration, LayerDirectory, LayerObservation} {
		if l.String() == s {
			return l
		}
	}
	return LayerTransport
}

func categoryFromString(s string) Category {
	for _, c := range []Category{CategoryMessage, CategoryState, CategoryError} {
		if c.String() == s {
			return c
		}
	}
	return CategoryMessage
}

func roleFromString(s string) Role {
	if s == RoleServer.String() {
		return RoleServer
	}
	return RoleClient
}

// Reader reads protocol log events from a newline-delimited JSON file
// written by FileLogger. It provides an iterator interface for streaming
// large files.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	filter  Filter
}

// NewReader creates a Reader that reads all events from the specified log file.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that reads events matching the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{
		file:    f,
		scanner: scanner,
		filter:  filter,
	}, nil
}

// Next returns the next event that matches the filter.
// Returns io.EOF when no more events are available.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec readerRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return Event{}, err
		}
		event := rec.toEvent()
		if r.filter.matches(event) {
			return event, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
