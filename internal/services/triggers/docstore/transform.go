package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"time"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateField checks that name is a plain top-level field name.
func ValidateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}

// Transform is a field operation the store resolves inside its write
// transaction, against the value current at commit time.
type Transform interface {
	apply(current any, present bool, now time.Time) (any, error)
}

type increment struct {
	delta int64
}

// Increment adds delta to a numeric field; an absent field counts as zero.
func Increment(delta int64) Transform {
	return increment{delta: delta}
}

func (t increment) apply(current any, present bool, _ time.Time) (any, error) {
	if !present || current == nil {
		return float64(t.delta), nil
	}
	switch value := current.(type) {
	case float64:
		return value + float64(t.delta), nil
	case int64:
		return float64(value + t.delta), nil
	case int:
		return float64(int64(value) + t.delta), nil
	default:
		return nil, fmt.Errorf("increment non-numeric value %T", current)
	}
}

type arrayUnion struct {
	values []any
}

// ArrayUnion appends each value not already present in an array field.
func ArrayUnion(values ...any) Transform {
	return arrayUnion{values: values}
}

func (t arrayUnion) apply(current any, present bool, _ time.Time) (any, error) {
	items, err := arrayOf(current, present)
	if err != nil {
		return nil, err
	}
	for _, raw := range t.values {
		value, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		if indexOf(items, value) == -1 {
			items = append(items, value)
		}
	}
	return items, nil
}

type arrayRemove struct {
	values []any
}

// ArrayRemove drops every element equal to one of values from an array field.
func ArrayRemove(values ...any) Transform {
	return arrayRemove{values: values}
}

func (t arrayRemove) apply(current any, present bool, _ time.Time) (any, error) {
	items, err := arrayOf(current, present)
	if err != nil {
		return nil, err
	}
	for _, raw := range t.values {
		value, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		kept := items[:0]
		for _, item := range items {
			if !reflect.DeepEqual(item, value) {
				kept = append(kept, item)
			}
		}
		items = kept
	}
	return items, nil
}

type serverTimestamp struct{}

// ServerTimestamp stores the commit time as an RFC 3339 string.
func ServerTimestamp() Transform {
	return serverTimestamp{}
}

func (serverTimestamp) apply(_ any, _ bool, now time.Time) (any, error) {
	return now.UTC().Format(time.RFC3339Nano), nil
}

// ApplySet builds a fresh document body from data, resolving transforms
// against absent fields.
func ApplySet(data Data, now time.Time) (Data, error) {
	return ApplyUpdate(Data{}, data, now)
}

// ApplyUpdate merges top-level fields into a copy of current. Transform values
// are resolved against the current field value; plain values replace it.
func ApplyUpdate(current Data, fields map[string]any, now time.Time) (Data, error) {
	next, err := current.Clone()
	if err != nil {
		return nil, err
	}
	for field, raw := range fields {
		if err := ValidateField(field); err != nil {
			return nil, err
		}
		if transform, ok := raw.(Transform); ok {
			existing, present := next[field]
			value, err := transform.apply(existing, present, now)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			next[field] = value
			continue
		}
		value, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		next[field] = value
	}
	return next, nil
}

func arrayOf(current any, present bool) ([]any, error) {
	if !present || current == nil {
		return []any{}, nil
	}
	items, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("array transform on non-array value %T", current)
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

func indexOf(items []any, value any) int {
	for i, item := range items {
		if reflect.DeepEqual(item, value) {
			return i
		}
	}
	return -1
}

// normalize converts a Go value to its JSON-decoded shape so stored values
// compare consistently.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
