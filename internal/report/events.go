package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// EventType represents the type of event
type EventType string

const (
	EventIngest       EventType = "ingest"
	EventSelect       EventType = "select"
	EventDuplicate    EventType = "duplicate"
	EventIncompatible EventType = "incompatible"
	EventChapter      EventType = "chapter"
	EventRollback     EventType = "rollback"
	EventSubmit       EventType = "submit"
	EventPoll         EventType = "poll"
	EventComplete     EventType = "complete"
	EventFail         EventType = "fail"
	EventPostProcess  EventType = "postprocess"
	EventEdit         EventType = "edit"
	EventExport       EventType = "export"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel converts a config string into an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	level := EventLevel(s)
	if _, ok := levelPriority[level]; ok {
		return level
	}
	return LevelInfo
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp  time.Time         `json:"ts"`
	Level      EventLevel        `json:"level"`
	Event      EventType         `json:"event"`
	ProjectID  int64             `json:"project_id,omitempty"`
	Book       string            `json:"book,omitempty"`
	Chapter    int               `json:"chapter,omitempty"`
	VerseID    int64             `json:"verse_id,omitempty"`
	BatchID    string            `json:"batch_id,omitempty"`
	ExternalID string            `json:"external_job_id,omitempty"`
	SrcPath    string            `json:"src_path,omitempty"`
	DestPath   string            `json:"dest_path,omitempty"`
	Action     string            `json:"action,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Duration   int64             `json:"duration_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is a valid
// no-op logger.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// LogIngest logs the outcome of ingesting one book
func (l *EventLogger) LogIngest(projectID int64, book string, chapters, verses int) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventIngest,
		ProjectID: projectID,
		Book:      book,
		Extra: map[string]string{
			"chapters": strconv.Itoa(chapters),
			"verses":   strconv.Itoa(verses),
		},
	})
}

// LogChapter logs a reconciled chapter
func (l *EventLogger) LogChapter(projectID int64, book string, chapter int, verses int, missing []int) error {
	return l.Log(&Event{
		Level:     LevelDebug,
		Event:     EventChapter,
		ProjectID: projectID,
		Book:      book,
		Chapter:   chapter,
		Extra: map[string]string{
			"verses":  strconv.Itoa(verses),
			"missing": strconv.Itoa(len(missing)),
		},
	})
}

// LogSkip logs a book or chapter left out of ingestion
func (l *EventLogger) LogSkip(projectID int64, book string, chapter int, reason string) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventSelect,
		ProjectID: projectID,
		Book:      book,
		Chapter:   chapter,
		Action:    "skip",
		Reason:    reason,
	})
}

// LogDuplicate logs a superseded verse file that was deleted
func (l *EventLogger) LogDuplicate(loserPath, winnerPath, loserPriority string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventDuplicate,
		SrcPath:  loserPath,
		DestPath: winnerPath,
		Action:   "delete",
		Reason:   loserPriority,
	})
}

// LogIncompatible logs a file whose name is not verse-shaped
func (l *EventLogger) LogIncompatible(path string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventIncompatible,
		SrcPath: path,
	})
}

// LogRollback logs removal of partially ingested state
func (l *EventLogger) LogRollback(projectID int64, book, path string, cause error) error {
	event := &Event{
		Level:     LevelWarning,
		Event:     EventRollback,
		ProjectID: projectID,
		Book:      book,
		SrcPath:   path,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	return l.Log(event)
}

// LogSubmit logs a job submitted to the AI service
func (l *EventLogger) LogSubmit(batchID string, verseID int64, externalID string, err error) error {
	event := &Event{
		Level:      LevelInfo,
		Event:      EventSubmit,
		BatchID:    batchID,
		VerseID:    verseID,
		ExternalID: externalID,
	}
	if err != nil {
		event.Level = LevelError
		event.Error = err.Error()
	}
	return l.Log(event)
}

// LogPoll logs one polling round over a batch's active jobs
func (l *EventLogger) LogPoll(batchID string, active, resolved int) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventPoll,
		BatchID: batchID,
		Extra: map[string]string{
			"active":   strconv.Itoa(active),
			"resolved": strconv.Itoa(resolved),
		},
	})
}

// LogResolved logs a job reaching a terminal state
func (l *EventLogger) LogResolved(batchID string, verseID int64, externalID string, elapsed time.Duration, err error) error {
	event := &Event{
		Level:      LevelInfo,
		Event:      EventComplete,
		BatchID:    batchID,
		VerseID:    verseID,
		ExternalID: externalID,
		Duration:   elapsed.Milliseconds(),
	}
	if err != nil {
		event.Level = LevelError
		event.Event = EventFail
		event.Error = err.Error()
	}
	return l.Log(event)
}

// LogPostProcess logs resampling of a synthesized file
func (l *EventLogger) LogPostProcess(path string, changed bool, err error) error {
	event := &Event{
		Level:   LevelDebug,
		Event:   EventPostProcess,
		SrcPath: path,
		Extra:   map[string]string{"resampled": strconv.FormatBool(changed)},
	}
	if err != nil {
		event.Level = LevelError
		event.Error = err.Error()
	}
	return l.Log(event)
}

// LogEdit logs a human verse edit and what it invalidated
func (l *EventLogger) LogEdit(verseID int64, removedAudio string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   EventEdit,
		VerseID: verseID,
		SrcPath: removedAudio,
	})
}

// LogExport logs a generated USFM file or project package
func (l *EventLogger) LogExport(projectID int64, path string, size int64) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventExport,
		ProjectID: projectID,
		DestPath:  path,
		Extra:     map[string]string{"size": humanize.Bytes(uint64(size))},
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
