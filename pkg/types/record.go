package types

import (
	"bytes"
	"encoding/json"
)

// Field is one named value of a log record.
type Field struct {
	Name  string
	Value string
}

// Record is an ordered mapping of field name to value. Log schemas vary by
// log type and engine version, so rows are not fixed structs.
type Record []Field

// Get returns the value of the named field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Names returns the field names in record order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Project returns the values of fields in the given order, using fill for
// fields the record does not carry.
func (r Record) Project(fields []string, fill string) []string {
	out := make([]string, len(fields))
	for i, name := range fields {
		v, ok := r.Get(name)
		if !ok {
			v = fill
		}
		out[i] = v
	}
	return out
}

// MarshalJSON encodes the record as a JSON object, keeping field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
