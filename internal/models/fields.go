package models

import (
	"strconv"
	"strings"
)

// Fields is the raw status mapping produced by one poll: protocol field
// name -> string value. Values keep the device's own formatting, e.g.
// "15.0 Minutes" or "230.0 Volts".
type Fields map[string]string

// Get returns the trimmed value for key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Float parses the leading number of the value for key. Absence and
// unparseable values both report ok=false, so a missing field never
// collapses into 0.
func (f Fields) Float(key string) (float64, bool) {
	raw, ok := f.Get(key)
	if !ok || raw == "" {
		return 0, false
	}
	head := raw
	if i := strings.IndexByte(raw, ' '); i > 0 {
		head = raw[:i]
	}
	v, err := strconv.ParseFloat(head, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Clone returns a shallow copy, so derived fields can be added without
// mutating the caller's map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
