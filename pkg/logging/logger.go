// Package logging writes structured JSONL events for widgets and their transports.
package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelInfo
}

// Category represents the subsystem generating the log
type Category string

const (
	CategoryWidget    Category = "widget"
	CategoryUpdate    Category = "update"
	CategoryTransport Category = "transport"
	CategoryStorage   Category = "storage"
	CategoryServer    Category = "server"
	CategoryBus       Category = "bus"
)

// Event is one structured log line
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Category   Category       `json:"category"`
	EventType  string         `json:"type"`
	InstanceID string         `json:"instance_id,omitempty"`
	WidgetID   string         `json:"widget_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Logger writes events to an instance log, plus errors.jsonl for errors and
// updates.jsonl for update traffic.
type Logger struct {
	instanceID string
	baseDir    string
	main       io.Writer
	errors     io.Writer
	updates    io.Writer
	closers    []io.Closer
	mu         sync.Mutex
	minLevel   Level
}

// NewLogger creates a file-backed logger under baseDir. An empty instanceID
// gets a random one.
func NewLogger(baseDir, instanceID string) (*Logger, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	instancesDir := filepath.Join(baseDir, "instances")
	if err := os.MkdirAll(instancesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{instanceID: instanceID, baseDir: baseDir, minLevel: LevelInfo}
	open := func(path string) (*os.File, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.closers = append(l.closers, f)
		return f, nil
	}

	main, err := open(filepath.Join(instancesDir, instanceID+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open instance log: %w", err)
	}
	errFile, err := open(filepath.Join(baseDir, "errors.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	updFile, err := open(filepath.Join(baseDir, "updates.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open update log: %w", err)
	}
	l.main, l.errors, l.updates = main, errFile, updFile
	return l, nil
}

// NewWriterLogger logs every event to w only.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{instanceID: uuid.NewString(), main: w, minLevel: LevelInfo}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriterLogger(io.Discard)
}

// InstanceID returns the id stamped on events.
func (l *Logger) InstanceID() string {
	return l.instanceID
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes an event to the appropriate destinations
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[event.Level] < levelRank[l.minLevel] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.InstanceID == "" {
		event.InstanceID = l.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.main != nil {
		if _, err := l.main.Write(data); err != nil {
			return fmt.Errorf("failed to write to log: %w", err)
		}
	}
	if event.Level == LevelError && l.errors != nil {
		if _, err := l.errors.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}
	if event.Category == CategoryUpdate && l.updates != nil {
		if _, err := l.updates.Write(data); err != nil {
			return fmt.Errorf("failed to write to update log: %w", err)
		}
	}
	return nil
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, Message: message, Details: details})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}

// Close closes any files the logger opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count events from a JSONL log.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	if len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
