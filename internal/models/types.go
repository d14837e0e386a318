package models

// StringList is a []string stored as a JSON text column.
type StringList []string

// JSONMap is a free-form JSON object stored as a text column.
type JSONMap map[string]any

// String returns a string value from the map, or "" when absent.
func (m JSONMap) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Int64 returns an integer value from the map, tolerating JSON's float64
// decoding, or 0 when absent.
func (m JSONMap) Int64(key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns a bool value from the map, or false when absent.
func (m JSONMap) Bool(key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// Topic is one extracted topic with its position in the recording.
type Topic struct {
	// Title is the topic text.
	Title string `json:"title"`

	// StartSeconds is the offset of the topic within the recording.
	StartSeconds float64 `json:"start_seconds"`
}

// TopicList is a []Topic stored as a JSON text column.
type TopicList []Topic
