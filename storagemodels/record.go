/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/suparena/entitystate/errors"
)

// IDField is the attribute every record must carry.
const IDField = "id"

// maxExactFloat is the largest integral float64 formatted as an integer id.
const maxExactFloat = 1 << 53

// ID is the canonical textual form of a record id. Integral numbers and their
// decimal spelling share one ID, so 7, 7.0 and "7" address the same record.
type ID string

// ParseID converts a string or numeric id into its canonical form.
func ParseID(v any) (ID, error) {
	switch t := v.(type) {
	case nil:
		return "", errors.NewValidationError(IDField, "missing")
	case ID:
		return parseString(string(t))
	case string:
		return parseString(t)
	case int:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int8:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int16:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return ID(strconv.FormatInt(t, 10)), nil
	case uint:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint8:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint16:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint32:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint64:
		return ID(strconv.FormatUint(t, 10)), nil
	case float32:
		return parseFloat(float64(t))
	case float64:
		return parseFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return ID(strconv.FormatInt(i, 10)), nil
		}
		f, err := t.Float64()
		if err != nil {
			return "", errors.NewValidationError(IDField, fmt.Sprintf("invalid number %q", t.String()))
		}
		return parseFloat(f)
	default:
		return "", errors.NewValidationError(IDField, fmt.Sprintf("unsupported id type %T", v))
	}
}

// MustID is ParseID for literals known to be valid; it panics otherwise.
func MustID(v any) ID {
	id, err := ParseID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func parseString(s string) (ID, error) {
	if strings.TrimSpace(s) == "" {
		return "", errors.NewValidationError(IDField, "empty")
	}
	return ID(s), nil
}

func parseFloat(f float64) (ID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.NewValidationError(IDField, "not a finite number")
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactFloat {
		return ID(strconv.FormatInt(int64(f), 10)), nil
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// String returns the id text.
func (id ID) String() string {
	return string(id)
}

// Value returns the id as an int64 when it is integral and as a string otherwise.
// This is the form written back into records and event payloads.
func (id ID) Value() any {
	if i, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return i
	}
	return string(id)
}

// Record is an opaque attribute payload with a mandatory "id" attribute.
type Record map[string]any

// ID extracts and canonicalizes the record's id.
func (r Record) ID() (ID, error) {
	if r == nil {
		return "", errors.NewValidationError(IDField, "missing")
	}
	v, ok := r[IDField]
	if !ok {
		return "", errors.NewValidationError(IDField, "missing")
	}
	return ParseID(v)
}

// Clone returns a deep copy of the record. Nested maps and slices produced by
// JSON decoding are copied too, so the clone shares no mutable state with r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new record holding r's attributes overlaid by each of
// others in turn. Later records win on conflicting keys.
func (r Record) Merge(others ...Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []Record:
		out := make([]Record, len(t))
		for i, e := range t {
			out[i] = e.Clone()
		}
		return out
	default:
		return v
	}
}

// CloneAll deep-copies a slice of records.
func CloneAll(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Normalize rewrites numbers produced by decoders into int64 when they are
// integral and float64 otherwise, descending into maps and slices. It
// handles json.Number and float64 values and returns v updated in place.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return Normalize(f)
		}
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) <= maxExactFloat {
			return int64(t)
		}
		return t
	case Record:
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Normalize(e)
		}
		return t
	default:
		return v
	}
}
