// Package models provides data model definitions for worksync.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind tags the type held by a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindTime   Kind = "time"
)

// Value is a single field value in a Patch.
type Value struct {
	kind Kind
	s    string
	b    bool
	i    int64
	f    float64
	t    time.Time
}

func Null() Value { return Value{kind: KindNull} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC().Round(0)} }

// Kind returns the tag. The zero Value reports KindNull.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Time returns the time payload and whether the value is a time.
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

// Plain converts the value to what the remote API expects in a JSON body.
func (v Value) Plain() interface{} {
	switch v.Kind() {
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.IsNull() {
		return "null"
	}
	return fmt.Sprint(v.Plain())
}

type taggedValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON keeps the tag so a persisted queue decodes to identical values.
func (v Value) MarshalJSON() ([]byte, error) {
	tv := taggedValue{Type: v.Kind()}
	if !v.IsNull() {
		raw, err := json.Marshal(v.Plain())
		if err != nil {
			return nil, err
		}
		tv.Value = raw
	}
	return json.Marshal(tv)
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}

	switch tv.Type {
	case KindNull, "":
		*v = Null()
		return nil
	case KindString:
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return fmt.Errorf("decode string value: %w", err)
		}
		*v = String(s)
	case KindBool:
		var b bool
		if err := json.Unmarshal(tv.Value, &b); err != nil {
			return fmt.Errorf("decode bool value: %w", err)
		}
		*v = Bool(b)
	case KindInt:
		var i int64
		if err := json.Unmarshal(tv.Value, &i); err != nil {
			return fmt.Errorf("decode int value: %w", err)
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(tv.Value, &f); err != nil {
			return fmt.Errorf("decode float value: %w", err)
		}
		*v = Float(f)
	case KindTime:
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return fmt.Errorf("decode time value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("decode time value: %w", err)
		}
		*v = Time(t)
	default:
		return fmt.Errorf("unknown value type %q", tv.Type)
	}
	return nil
}

// Patch is a partial update keyed by field name.
type Patch map[string]Value

// Fields returns the field names in sorted order.
func (p Patch) Fields() []string {
	fields := make([]string, 0, len(p))
	for f := range p {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Plain converts the patch into a JSON-ready request body.
func (p Patch) Plain() map[string]interface{} {
	body := make(map[string]interface{}, len(p))
	for f, v := range p {
		body[f] = v.Plain()
	}
	return body
}

// Clone returns an independent copy.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	dup := make(Patch, len(p))
	for f, v := range p {
		dup[f] = v
	}
	return dup
}
