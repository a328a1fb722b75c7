package testutil

import (
	"fmt"
	"sync"

	"medup/internal/dedup"
)

// LogRecord is one call captured by RecordingLogger.
type LogRecord struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger keeps every record in memory. The zero value is ready
// to use.
type RecordingLogger struct {
	mu      sync.Mutex
	records []LogRecord
}

var _ dedup.Logger = (*RecordingLogger)(nil)

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, LogRecord{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// Messages returns the messages logged at level, in order.
func (l *RecordingLogger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.records {
		if r.Level == level {
			out = append(out, r.Msg)
		}
	}
	return out
}

// HasAttr reports whether any record at level carries key with a value
// that prints as want.
func (l *RecordingLogger) HasAttr(level, key, want string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.Level != level {
			continue
		}
		for i := 0; i+1 < len(r.Args); i += 2 {
			if r.Args[i] == key && fmt.Sprint(r.Args[i+1]) == want {
				return true
			}
		}
	}
	return false
}
