package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is written with every record.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned for records written by a newer version.
var ErrUnsupportedSchema = errors.New("store: unsupported schema version")

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

func wrap(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Data: data})
}

// unwrap returns the schema version and payload. Blobs without a
// schema_version field predate versioning and come back as version 0
// with the whole blob as payload.
func unwrap(raw []byte) (int, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, nil, fmt.Errorf("decode record: %w", err)
	}
	vRaw, ok := fields["schema_version"]
	if !ok {
		return 0, raw, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.SchemaVersion > SchemaVersion || env.SchemaVersion < 1 {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedSchema, string(vRaw))
	}
	return env.SchemaVersion, env.Data, nil
}
