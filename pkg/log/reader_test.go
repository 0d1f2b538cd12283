package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestReaderIteratesEvents(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-1", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-2", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-3", Direction: DirectionOut, Layer: LayerDirectory, Category: CategoryState},
	}

	path := createTestLogFile(t, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}

	if read[0].EndpointName != "ep-1" {
		t.Errorf("first event EndpointName = %q, want %q", read[0].EndpointName, "ep-1")
	}
	if read[2].EndpointName != "ep-3" {
		t.Errorf("last event EndpointName = %q, want %q", read[2].EndpointName, "ep-3")
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.log")

	logger, _ := NewFileLogger(path)
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got err=%v, event=%+v", err, event)
	}
}

func TestReaderHandlesExhaustedFile(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-1", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
	}

	path := createTestLogFile(t, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	_, err = reader.Next()
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}

	_, err = reader.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF after all events, got %v", err)
	}
}

func TestReaderFilterByEndpointName(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-A", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-B", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-A", Direction: DirectionOut, Layer: LayerDirectory, Category: CategoryState},
		{Timestamp: time.Now(), EndpointName: "ep-C", Direction: DirectionIn, Layer: LayerRegistration, Category: CategoryMessage},
	}

	path := createTestLogFile(t, events)

	filter := Filter{EndpointName: "ep-A"}
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 2 {
		t.Fatalf("got %d events, want 2", len(read))
	}

	for _, e := range read {
		if e.EndpointName != "ep-A" {
			t.Errorf("event has EndpointName=%q, want %q", e.EndpointName, "ep-A")
		}
	}
}

func TestReaderFilterByLayer(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-1", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-2", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-3", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-4", Direction: DirectionIn, Layer: LayerDirectory, Category: CategoryState},
	}

	path := createTestLogFile(t, events)

	layer := LayerTransport
	filter := Filter{Layer: &layer}
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 2 {
		t.Fatalf("got %d events, want 2", len(read))
	}

	for _, e := range read {
		if e.Layer != LayerTransport {
			t.Errorf("event has Layer=%v, want %v", e.Layer, LayerTransport)
		}
	}
}

func TestReaderFilterByTimeRange(t *testing.T) {
	baseTime := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

	events := []Event{
		{Timestamp: baseTime.Add(-1 * time.Hour), EndpointName: "ep-1", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: baseTime, EndpointName: "ep-2", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: baseTime.Add(30 * time.Minute), EndpointName: "ep-3", Direction: DirectionOut, Layer: LayerDirectory, Category: CategoryState},
		{Timestamp: baseTime.Add(2 * time.Hour), EndpointName: "ep-4", Direction: DirectionIn, Layer: LayerRegistration, Category: CategoryMessage},
	}

	path := createTestLogFile(t, events)

	start := baseTime.Add(-5 * time.Minute)
	end := baseTime.Add(1 * time.Hour)
	filter := Filter{
		TimeStart: &start,
		TimeEnd:   &end,
	}
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 2 {
		t.Fatalf("got %d events, want 2 (events within time range)", len(read))
	}

	if read[0].EndpointName != "ep-2" {
		t.Errorf("first event EndpointName = %q, want %q", read[0].EndpointName, "ep-2")
	}
	if read[1].EndpointName != "ep-3" {
		t.Errorf("second event EndpointName = %q, want %q", read[1].EndpointName, "ep-3")
	}
}

func TestReaderFilterByDirection(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-1", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-2", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-3", Direction: DirectionOut, Layer: LayerDirectory, Category: CategoryState},
		{Timestamp: time.Now(), EndpointName: "ep-4", Direction: DirectionIn, Layer: LayerRegistration, Category: CategoryError},
	}

	path := createTestLogFile(t, events)

	dir := DirectionOut
	filter := Filter{Direction: &dir}
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 2 {
		t.Fatalf("got %d events, want 2", len(read))
	}

	for _, e := range read {
		if e.Direction != DirectionOut {
			t.Errorf("event has Direction=%v, want %v", e.Direction, DirectionOut)
		}
	}
}

func TestReaderCombinedFilters(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), EndpointName: "ep-A", Direction: DirectionOut, Layer: LayerRegistration, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-A", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-B", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: time.Now(), EndpointName: "ep-A", Direction: DirectionOut, Layer: LayerTransport, Category: CategoryMessage},
	}

	path := createTestLogFile(t, events)

	layer := LayerTransport
	dir := DirectionOut
	filter := Filter{
		EndpointName: "ep-A",
		Layer:        &layer,
		Direction:    &dir,
	}
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var read []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}

	if len(read) != 1 {
		t.Fatalf("got %d events, want 1", len(read))
	}

	if read[0].EndpointName != "ep-A" || read[0].Layer != LayerTransport || read[0].Direction != DirectionOut {
		t.Error("event doesn't match all filter criteria")
	}
}
