// Package metadata builds the attributes published alongside an event on the
// event stream.
package metadata

import (
	"fmt"

	"github.com/drblury/queueflow/internal/runtime/event"
)

// Attribute keys set on every published event.
const (
	KeySourceURN = "event_source_urn"
	KeyName      = "event_name"
	KeyNamespace = "event_namespace"
	KeyType      = "event_type"
	KeyID        = "event_id"
)

const sourceURNPrefix = "urn:eventstream:source/"

// Metadata is a set of string attributes.
type Metadata map[string]string

// Clone returns a shallow copy. The result is never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// WithAll returns a copy with entries applied on top.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.Clone()
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// SourceURN formats the stream URN of an event source.
func SourceURN(source string) string {
	return sourceURNPrefix + source
}

// ForEvent returns the stream attributes of evt. Subscribers filter on
// event_name, event_namespace (the source) and event_type (the verb).
func ForEvent(evt event.Event) Metadata {
	return Metadata{
		KeySourceURN: SourceURN(evt.Source()),
		KeyName:      evt.Name(),
		KeyNamespace: evt.Source(),
		KeyType:      evt.Verb(),
		KeyID:        evt.ID(),
	}
}

// Validate reports whether the mandatory stream attributes are present.
func (m Metadata) Validate() error {
	for _, key := range []string{KeySourceURN, KeyName, KeyNamespace, KeyType} {
		if m[key] == "" {
			return fmt.Errorf("metadata: %s is required", key)
		}
	}
	return nil
}
