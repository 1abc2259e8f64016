package taskqueue

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petrijr/ticketflow/pkg/api"
)

// EncodeTask gob-encodes a Task.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask gob-decodes a Task.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

func encodeEvent(ev api.Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&ev); err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Name, err)
	}
	return buf.Bytes(), nil
}

func decodeEvent(data []byte) (api.Event, error) {
	var ev api.Event
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
		return api.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
