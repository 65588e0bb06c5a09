package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Snapshot is the transport-safe value of the payload right after a step
type Snapshot struct {
	Step  string
	Value any
}

// Trace lists snapshots in execution order
type Trace []Snapshot

// Labels returns the step labels in execution order
func (t Trace) Labels() []string {
	labels := make([]string, len(t))
	for i, s := range t {
		labels[i] = s.Step
	}
	return labels
}

// Get returns the snapshot recorded for a step label
func (t Trace) Get(step string) (any, bool) {
	for _, s := range t {
		if s.Step == step {
			return s.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the trace as an object whose keys keep execution order
func (t Trace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Step)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot %q", s.Step)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping key order. Values are kept as
// json.RawMessage.
func (t *Trace) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("trace must be a JSON object")
	}

	out := Trace{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.Errorf("unexpected trace key %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return errors.Wrapf(err, "snapshot %q", key)
		}
		out = append(out, Snapshot{Step: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}
