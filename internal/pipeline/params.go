package pipeline

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Param documents one step parameter. Key is looked up in the step's
// option object, Flat in the top-level options, then Default is used.
// The type of Default (float64, int, string or bool) is the parameter type.
type Param struct {
	Key     string `json:"key"`
	Flat    string `json:"flat,omitempty"`
	Default any    `json:"default"`
	Help    string `json:"help,omitempty"`
}

// Args holds the resolved parameters of one step
type Args struct {
	step   string
	params map[string]Param
	values map[string]json.RawMessage
}

// NewArgs resolves the parameters of a step from opts. Every value is
// checked against its parameter type.
func NewArgs(step string, params []Param, opts Options) (Args, error) {
	a := Args{
		step:   step,
		params: make(map[string]Param, len(params)),
		values: make(map[string]json.RawMessage, len(params)),
	}

	nested := opts.object(step)
	for _, p := range params {
		a.params[p.Key] = p

		var raw json.RawMessage
		if v, ok := nested[p.Key]; ok && !isUnset(v) {
			raw = v
		} else if v, ok := opts[p.Flat]; ok && p.Flat != "" && !isUnset(v) {
			raw = v
		}
		if raw == nil {
			continue
		}
		a.values[p.Key] = raw

		if err := a.check(p); err != nil {
			return Args{}, err
		}
	}
	return a, nil
}

func (a Args) check(p Param) error {
	var err error
	switch p.Default.(type) {
	case float64:
		_, err = a.Float(p.Key)
	case int:
		_, err = a.Int(p.Key)
	case bool:
		_, err = a.Bool(p.Key)
	default:
		_, err = a.String(p.Key)
	}
	return err
}

// isUnset reports whether raw means "use the default": null or empty string
func isUnset(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

func (a Args) lookup(key string) (Param, json.RawMessage, error) {
	p, ok := a.params[key]
	if !ok {
		return Param{}, nil, errors.Errorf("step %q has no parameter %q", a.step, key)
	}
	return p, a.values[key], nil
}

// number parses a JSON number or a numeric JSON string
func number(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Float returns a numeric parameter
func (a Args) Float(key string) (float64, error) {
	p, raw, err := a.lookup(key)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		switch d := p.Default.(type) {
		case float64:
			return d, nil
		case int:
			return float64(d), nil
		}
		return 0, errors.Errorf("step %q parameter %q has no numeric default", a.step, key)
	}
	f, ok := number(raw)
	if !ok {
		return 0, InvalidParameter("%s.%s: %s is not a number", a.step, key, raw)
	}
	return f, nil
}

// Int returns an integral parameter. Numbers with a fraction are rejected.
func (a Args) Int(key string) (int, error) {
	p, raw, err := a.lookup(key)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		if d, ok := p.Default.(int); ok {
			return d, nil
		}
		return 0, errors.Errorf("step %q parameter %q has no integer default", a.step, key)
	}
	f, ok := number(raw)
	if !ok {
		return 0, InvalidParameter("%s.%s: %s is not a number", a.step, key, raw)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, InvalidParameter("%s.%s: %s is not an integer", a.step, key, raw)
	}
	return int(f), nil
}

// String returns a text parameter. Numbers and booleans are returned in
// their JSON spelling.
func (a Args) String(key string) (string, error) {
	p, raw, err := a.lookup(key)
	if err != nil {
		return "", err
	}
	if raw == nil {
		if d, ok := p.Default.(string); ok {
			return d, nil
		}
		return "", errors.Errorf("step %q parameter %q has no text default", a.step, key)
	}
	raw = bytes.TrimSpace(raw)
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", InvalidParameter("%s.%s: %s", a.step, key, err)
		}
		return s, nil
	case '{', '[':
		return "", InvalidParameter("%s.%s: %s is not a string", a.step, key, raw)
	default:
		return string(raw), nil
	}
}

// Bool returns a flag parameter using the same truthy rules as Enabled
func (a Args) Bool(key string) (bool, error) {
	p, raw, err := a.lookup(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		if d, ok := p.Default.(bool); ok {
			return d, nil
		}
		return false, errors.Errorf("step %q parameter %q has no flag default", a.step, key)
	}
	if isObject(raw) || bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return false, InvalidParameter("%s.%s: %s is not a flag", a.step, key, raw)
	}
	return truthy(raw), nil
}
