// Package event defines the immutable envelope carried in queue message bodies.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/ids"
	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
)

// Event is an immutable envelope {id, name, timestamp, data}. Names follow the
// "<source>:<verb>" convention.
type Event struct {
	id        string
	name      string
	timestamp time.Time
	data      map[string]any
}

// Option customises an Event built with New.
type Option func(*Event)

// WithID sets an explicit identifier instead of a generated ULID.
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) Option {
	return func(e *Event) {
		if !ts.IsZero() {
			e.timestamp = ts
		}
	}
}

// New builds an Event. Data is normalised to its JSON form (numbers become
// json.Number, structs become maps) so a parsed copy compares equal.
func New(name string, data map[string]any, opts ...Option) (Event, error) {
	if strings.TrimSpace(name) == "" {
		return Event{}, qferrors.ErrEventNameRequired
	}
	normalized, err := normalize(data)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", name, err)
	}

	evt := Event{
		name:      name,
		timestamp: time.Now().UTC(),
		data:      normalized,
	}
	for _, opt := range opts {
		opt(&evt)
	}
	if evt.id == "" {
		evt.id = ids.CreateULID()
	}
	evt.timestamp = evt.timestamp.UTC().Truncate(time.Millisecond)
	return evt, nil
}

func (e Event) ID() string           { return e.id }
func (e Event) Name() string         { return e.name }
func (e Event) Timestamp() time.Time { return e.timestamp }

// Source is the part of the name before the first ':'.
func (e Event) Source() string {
	source, _, _ := strings.Cut(e.name, ":")
	return source
}

// Verb is the part of the name after the first ':', or empty.
func (e Event) Verb() string {
	_, verb, _ := strings.Cut(e.name, ":")
	return verb
}

// Data returns a deep copy of the payload.
func (e Event) Data() map[string]any {
	return cloneMap(e.data)
}

// Get returns a single top-level payload value.
func (e Event) Get(key string) (any, bool) {
	v, ok := e.data[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// DeduplicationID is a stable hash over name, second-resolution timestamp and
// data. Publishers of the same logical event produce the same value.
func (e Event) DeduplicationID() string {
	return hashJSON([]any{e.name, e.timestamp.Unix(), e.data})
}

// ContentSHA256 hashes the payload only.
func (e Event) ContentSHA256() string {
	return hashJSON(e.data)
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.name, e.id)
}

func hashJSON(v any) string {
	// map keys are sorted by the codec, so the digest is stable
	raw, err := jsoncodec.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func normalize(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := jsoncodec.UnmarshalUseNumber(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}
