package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/ticketflow/pkg/api"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Values are encoded as interface{} so they can be decoded without knowing
// their type; concrete struct types must be registered with gob.Register.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	var iv = v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload written by EncodeValue into T.
// An empty payload decodes to the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	if iv == nil {
		return zero, nil
	}
	v, ok := iv.(T)
	if !ok {
		return zero, fmt.Errorf("decode: payload of type %T is not assignable to %T", iv, zero)
	}
	return v, nil
}

// runRecord is the storage form of api.Run shared by the durable stores.
type runRecord struct {
	ID         string
	WorkflowID string
	Status     string
	Attempts   int
	Event      []byte
	Output     []byte
	Error      string
	CreatedAt  int64
	UpdatedAt  int64
}

func toRecord(run *api.Run) (runRecord, error) {
	ev, err := EncodeValue(run.Event)
	if err != nil {
		return runRecord{}, err
	}
	out, err := EncodeValue(run.Output)
	if err != nil {
		return runRecord{}, err
	}
	rec := runRecord{
		ID:         run.ID,
		WorkflowID: run.WorkflowID,
		Status:     string(run.Status),
		Attempts:   run.Attempts,
		Event:      ev,
		Output:     out,
		CreatedAt:  run.CreatedAt.UnixNano(),
		UpdatedAt:  run.UpdatedAt.UnixNano(),
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	return rec, nil
}

func (rec runRecord) toRun() (*api.Run, error) {
	ev, err := DecodeValue[api.Event](rec.Event)
	if err != nil {
		return nil, fmt.Errorf("run %s: event: %w", rec.ID, err)
	}
	out, err := DecodeValue[any](rec.Output)
	if err != nil {
		return nil, fmt.Errorf("run %s: output: %w", rec.ID, err)
	}
	run := &api.Run{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		Event:      ev,
		Status:     api.Status(rec.Status),
		Attempts:   rec.Attempts,
		Output:     out,
		CreatedAt:  time.Unix(0, rec.CreatedAt),
		UpdatedAt:  time.Unix(0, rec.UpdatedAt),
	}
	if rec.Error != "" {
		run.Err = errors.New(rec.Error)
	}
	return run, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
