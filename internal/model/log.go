package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogLevel is the severity of a LogRecord.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
)

// Valid reports whether l is a member of the enumeration.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// ParseLogLevel converts a stored value, rejecting anything outside the enumeration.
func ParseLogLevel(v string) (LogLevel, error) {
	l := LogLevel(v)
	if !l.Valid() {
		return "", fmt.Errorf("model: unknown log level %q", v)
	}
	return l, nil
}

// LogRecord is an append-only diagnostic event. Immutable once written.
type LogRecord struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Metadata  Document  `json:"metadata"`
}

// LogCursor positions a Tail read. The zero value starts at the oldest record.
type LogCursor struct {
	Timestamp time.Time
	ID        uuid.UUID
}

// IsZero reports whether c is the start-of-log cursor.
func (c LogCursor) IsZero() bool { return c.Timestamp.IsZero() && c.ID == uuid.Nil }

// CursorOf returns the cursor positioned just after r.
func CursorOf(r LogRecord) LogCursor { return LogCursor{Timestamp: r.Timestamp, ID: r.ID} }
