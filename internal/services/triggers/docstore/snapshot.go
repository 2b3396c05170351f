package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Data is a document body. Values follow JSON decoding: numbers are float64,
// nested objects are map[string]any.
type Data map[string]any

// String returns a string field, or "" when absent or not a string.
func (d Data) String(field string) string {
	value, _ := d[field].(string)
	return value
}

// Int64 returns a numeric field truncated to int64, or 0.
func (d Data) Int64(field string) int64 {
	switch value := d[field].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	default:
		return 0
	}
}

// Bool returns a boolean field, or false.
func (d Data) Bool(field string) bool {
	value, _ := d[field].(bool)
	return value
}

// Clone deep-copies d through its JSON form.
func (d Data) Clone() (Data, error) {
	if d == nil {
		return Data{}, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return DecodeData(raw)
}

// DecodeData parses a JSON document body.
func DecodeData(raw []byte) (Data, error) {
	data := Data{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

// DataOf converts a struct (or map) into Data using its json tags.
func DataOf(value any) (Data, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return DecodeData(raw)
}

// Snapshot is a point-in-time read of one document.
type Snapshot struct {
	Path       string
	ID         string
	Data       Data
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the snapshot body into target using json tags.
func (s Snapshot) DataTo(target any) error {
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	return nil
}
