package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
	"github.com/drblury/queueflow/internal/runtime/ids"
	"github.com/drblury/queueflow/internal/runtime/jsoncodec"
)

type wireEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type inboundEvent struct {
	ID        *string         `json:"id"`
	Name      *string         `json:"name"`
	Timestamp json.RawMessage `json:"timestamp"`
	Date      json.RawMessage `json:"date"`
	Data      json.RawMessage `json:"data"`
}

// Marshal encodes the event as {"id","name","timestamp","data"} with the
// timestamp in epoch milliseconds.
func Marshal(e Event) ([]byte, error) {
	data := e.data
	if data == nil {
		data = map[string]any{}
	}
	return jsoncodec.Marshal(wireEvent{
		ID:        e.id,
		Name:      e.name,
		Timestamp: e.timestamp.UnixMilli(),
		Data:      data,
	})
}

// Parse decodes a queue message body. The name and data keys are required;
// "date" is accepted in place of "timestamp"; a missing timestamp means now and
// a missing id gets a fresh ULID. Numbers in data decode as json.Number.
// Every failure wraps ErrEventMalformed.
func Parse(body []byte) (Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, malformed("body is not a JSON object")
	}

	var in inboundEvent
	if err := jsoncodec.Unmarshal(trimmed, &in); err != nil {
		return Event{}, malformed(err.Error())
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return Event{}, malformed("name is required")
	}
	if len(in.Data) == 0 {
		return Event{}, malformed("data is required")
	}

	data := map[string]any{}
	if !isNull(in.Data) {
		if err := jsoncodec.UnmarshalUseNumber(in.Data, &data); err != nil {
			return Event{}, malformed("data must be an object")
		}
	}

	rawTS := in.Timestamp
	if len(rawTS) == 0 || isNull(rawTS) {
		rawTS = in.Date
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return Event{}, malformed(err.Error())
	}

	evt := Event{
		name:      *in.Name,
		timestamp: ts,
		data:      data,
	}
	if in.ID != nil && *in.ID != "" {
		evt.id = *in.ID
	} else {
		evt.id = ids.CreateULID()
	}
	return evt, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || isNull(raw) {
		return time.Now().UTC().Truncate(time.Millisecond), nil
	}
	var num json.Number
	if err := jsoncodec.UnmarshalUseNumber(raw, &num); err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be epoch milliseconds: %w", err)
	}
	if ms, err := num.Int64(); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	f, err := num.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be epoch milliseconds: %w", err)
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", qferrors.ErrEventMalformed, reason)
}
