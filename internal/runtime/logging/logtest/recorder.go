// Package logtest provides a recording ServiceLogger for tests.
package logtest

import (
	"sync"

	"github.com/drblury/queueflow/internal/runtime/logging"
)

// Entry is one recorded log call. Fields include everything inherited via With.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields logging.LogFields
}

// Recorder is a concurrency-safe ServiceLogger that keeps every entry.
type Recorder struct {
	sink *sink
	base logging.LogFields
}

type sink struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Recorder {
	return &Recorder{sink: &sink{}}
}

func (r *Recorder) With(fields logging.LogFields) logging.ServiceLogger {
	return &Recorder{sink: r.sink, base: logging.Merge(r.base, fields)}
}

func (r *Recorder) Trace(msg string, fields logging.LogFields) { r.add("trace", msg, nil, fields) }
func (r *Recorder) Debug(msg string, fields logging.LogFields) { r.add("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields logging.LogFields)  { r.add("info", msg, nil, fields) }
func (r *Recorder) Warn(msg string, fields logging.LogFields)  { r.add("warn", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields logging.LogFields) {
	r.add("error", msg, err, fields)
}

func (r *Recorder) Fatal(msg string, err error, fields logging.LogFields) {
	r.add("fatal", msg, err, fields)
}

func (r *Recorder) add(level, msg string, err error, fields logging.LogFields) {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = append(r.sink.entries, Entry{
		Level:  level,
		Msg:    msg,
		Err:    err,
		Fields: logging.Merge(r.base, fields),
	})
}

// Entries returns a snapshot of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	return append([]Entry(nil), r.sink.entries...)
}

// Level returns the entries recorded at the given level.
func (r *Recorder) Level(level string) []Entry {
	var out []Entry
	for _, entry := range r.Entries() {
		if entry.Level == level {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns how many entries were recorded at level with message msg.
func (r *Recorder) Count(level, msg string) int {
	n := 0
	for _, entry := range r.Level(level) {
		if entry.Msg == msg {
			n++
		}
	}
	return n
}
