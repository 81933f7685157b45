package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is a loosely-typed JSON object from the storefront API. All
// accessors are total: absent or mistyped keys yield zero values.
type Record map[string]any

// DecodeList decodes body as a JSON array. ok is false when the body is not
// an array. Non-object elements are kept as-is in raw.
func DecodeList(body []byte) (records []Record, raw []any, ok bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, nil, false
	}
	if items == nil {
		return nil, nil, false
	}
	records = make([]Record, 0, len(items))
	for _, item := range items {
		if rec := AsRecord(item); rec != nil {
			records = append(records, rec)
		}
	}
	return records, items, true
}

// DecodeAny decodes body preserving numbers as json.Number.
func DecodeAny(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// AsRecord converts v to a Record when it is a JSON object.
func AsRecord(v any) Record {
	switch typed := v.(type) {
	case Record:
		return typed
	case map[string]any:
		return Record(typed)
	default:
		return nil
	}
}

// AsList converts v to a list when it is a JSON array.
func AsList(v any) []any {
	switch typed := v.(type) {
	case []any:
		return typed
	case []Record:
		out := make([]any, len(typed))
		for i, rec := range typed {
			out[i] = rec
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i, s := range typed {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

// Get returns the raw value stored under key.
func (r Record) Get(key string) any {
	if r == nil {
		return nil
	}
	return r[key]
}

// String renders the scalar under key as text. Objects and lists yield "".
func (r Record) String(key string) string {
	return ScalarString(r.Get(key))
}

// Object returns the nested object under key.
func (r Record) Object(key string) Record {
	return AsRecord(r.Get(key))
}

// List returns the nested list under key.
func (r Record) List(key string) []any {
	return AsList(r.Get(key))
}

// Records returns the object elements of the list under key.
func (r Record) Records(key string) []Record {
	list := r.List(key)
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if rec := AsRecord(item); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Int returns the numeric value under key when it is an integer.
func (r Record) Int(key string) (int64, bool) {
	return ScalarInt(r.Get(key))
}

// Bool returns the boolean under key. ok is false unless a real bool is stored.
func (r Record) Bool(key string) (value bool, ok bool) {
	value, ok = r.Get(key).(bool)
	return value, ok
}

// Has reports whether key holds content (see HasContent).
func (r Record) Has(key string) bool {
	return HasContent(r.Get(key))
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// HasContent reports whether v is a non-blank string, a non-empty list or
// object, or any other non-nil scalar.
func HasContent(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(typed) != ""
	case []any:
		return len(typed) > 0
	case []Record:
		return len(typed) > 0
	case []string:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	case Record:
		return len(typed) > 0
	default:
		return true
	}
}

// ScalarString renders strings, numbers and booleans as text.
func ScalarString(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return ""
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

// ScalarInt parses integer-valued numbers and digit strings.
func ScalarInt(v any) (int64, bool) {
	switch typed := v.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, true
		}
		if f, err := typed.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) || typed != math.Trunc(typed) {
			return 0, false
		}
		return int64(typed), true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case int32:
		return int64(typed), true
	case string:
		s := strings.TrimSpace(typed)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
