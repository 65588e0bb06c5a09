package pipeline

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Options maps a step key to its option entry. An entry is either a bare
// truthy value or an object with an "enabled" field and step parameters.
// Flat parameter aliases (for example "resize_width") live next to the
// step entries.
type Options map[string]json.RawMessage

// OptionsFrom builds Options from plain Go values
func OptionsFrom(m map[string]any) (Options, error) {
	opts := make(Options, len(m))
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "option %q", k)
		}
		opts[k] = raw
	}
	return opts, nil
}

// Enabled reports whether the entry for key switches its step on
func (o Options) Enabled(key string) bool {
	raw, ok := o[key]
	if !ok {
		return false
	}
	return truthy(raw)
}

// object returns the entry for key decoded as an object, if it is one
func (o Options) object(key string) map[string]json.RawMessage {
	raw, ok := o[key]
	if !ok || !isObject(raw) {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// truthy applies the enable rules: JSON true, a non-zero number, one of
// the strings true/1/yes/on, or an object whose "enabled" field is truthy.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}

	switch raw[0] {
	case 't':
		return string(raw) == "true"
	case 'f', 'n':
		return false
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return false
		}
		enabled, ok := m["enabled"]
		if !ok {
			return false
		}
		// Nested objects as "enabled" are not meaningful
		if isObject(enabled) {
			return false
		}
		return truthy(enabled)
	case '[':
		return false
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}
