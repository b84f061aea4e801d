package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var decoded Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode line %d: %v", len(events)+1, err)
		}
		events = append(events, decoded)
	}
	return events
}

func newTestLogger(t *testing.T, level EventLevel) *EventLogger {
	t.Helper()
	logger, err := NewEventLogger(t.TempDir(), level)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestNewEventLogger(t *testing.T) {
	logger := newTestLogger(t, LevelDebug)

	if _, err := os.Stat(logger.Path()); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.Path())
	}

	filename := filepath.Base(logger.Path())
	if len(filename) < len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLogger_LevelFilter(t *testing.T) {
	logger := newTestLogger(t, LevelInfo)

	logger.LogChapter(1, "GEN", 1, 30, []int{3}) // debug, dropped
	logger.LogIngest(1, "GEN", 2, 56)
	logger.LogIncompatible("/in/GEN/1/notes.txt")
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Event != EventIngest || events[0].Extra["verses"] != "56" {
		t.Errorf("unexpected ingest event: %+v", events[0])
	}
	if events[1].Level != LevelWarning || events[1].Event != EventIncompatible {
		t.Errorf("unexpected incompatible event: %+v", events[1])
	}
	for i, e := range events {
		if e.Timestamp.IsZero() {
			t.Errorf("event %d: timestamp not set", i)
		}
	}
}

func TestEventLogger_JobEvents(t *testing.T) {
	logger := newTestLogger(t, LevelDebug)

	logger.LogSubmit("batch-1", 7, "ext-1", nil)
	logger.LogSubmit("batch-1", 8, "", errors.New("503"))
	logger.LogResolved("batch-1", 7, "ext-1", 1500*time.Millisecond, nil)
	logger.LogResolved("batch-1", 9, "ext-9", time.Second, errors.New("job failed"))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}

	if events[1].Level != LevelError || events[1].Error != "503" {
		t.Errorf("failed submit not recorded as error: %+v", events[1])
	}
	if events[2].Event != EventComplete || events[2].Duration != 1500 {
		t.Errorf("unexpected completion event: %+v", events[2])
	}
	if events[3].Event != EventFail || events[3].ExternalID != "ext-9" {
		t.Errorf("unexpected failure event: %+v", events[3])
	}
}

func TestEventLogger_LogExportHumanizesSize(t *testing.T) {
	logger := newTestLogger(t, LevelDebug)
	logger.LogExport(3, "/out/Proj.zip", 2_500_000)
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Extra["size"] != "2.5 MB" {
		t.Errorf("size = %q, want 2.5 MB", events[0].Extra["size"])
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	logger := newTestLogger(t, LevelDebug)

	const numGoroutines = 10
	const eventsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := logger.LogSubmit("batch", int64(id*100+j), "ext", nil); err != nil {
					t.Errorf("Concurrent log failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, logger.Path())); got != numGoroutines*eventsPerGoroutine {
		t.Errorf("Expected %d events, got %d", numGoroutines*eventsPerGoroutine, got)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.Log(&Event{Level: LevelInfo, Event: EventIngest}); err != nil {
		t.Errorf("NullLogger.Log should not return error, got: %v", err)
	}
	if err := logger.LogDuplicate("/a", "/b", "take"); err != nil {
		t.Errorf("NullLogger.LogDuplicate should not return error, got: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not return error, got: %v", err)
	}
	if path := logger.Path(); path != "" {
		t.Errorf("NullLogger.Path should return empty string, got: %s", path)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning") != LevelWarning {
		t.Error("ParseLevel(warning) mismatch")
	}
	if ParseLevel("loud") != LevelInfo {
		t.Error("unknown level should default to info")
	}
}
