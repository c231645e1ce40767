package service

import (
	"encoding/json"
	"strings"
)

const redactedPlaceholder = "***"

// Sanitizer redacts configured sensitive field names recursively through
// nested maps and arrays. It runs before entries are enqueued so unredacted
// secrets never outlive the request that produced them.
type Sanitizer struct {
	keys map[string]struct{}
}

// NewSanitizer builds a sanitizer from a key list. Matching is
// case-insensitive on the trimmed key name.
func NewSanitizer(sensitiveKeys []string) *Sanitizer {
	keys := make(map[string]struct{}, len(sensitiveKeys))
	for _, k := range sensitiveKeys {
		keys[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	return &Sanitizer{keys: keys}
}

func (s *Sanitizer) sensitive(key string) bool {
	_, ok := s.keys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Map redacts a metadata map in place and returns it.
func (s *Sanitizer) Map(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	for key, val := range m {
		if s.sensitive(key) {
			m[key] = redactedPlaceholder
			continue
		}
		m[key] = s.value(val)
	}
	return m
}

func (s *Sanitizer) value(v interface{}) interface{} {
	switch raw := v.(type) {
	case map[string]interface{}:
		return s.Map(raw)
	case []interface{}:
		for i, item := range raw {
			raw[i] = s.value(item)
		}
		return raw
	default:
		return v
	}
}

// JSON redacts a raw JSON document. The second return is false when the input
// is not JSON, in which case callers should fall back to a placeholder rather
// than keep the raw bytes.
func (s *Sanitizer) JSON(body []byte) ([]byte, bool) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	data = s.value(data)
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Body is the convenience form used by the audit middleware: redact when the
// payload parses as JSON, replace wholesale when it does not.
func (s *Sanitizer) Body(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if out, ok := s.JSON(body); ok {
		return string(out)
	}
	return "[redacted]"
}
