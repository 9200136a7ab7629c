package protocol

// Field accessors for the loosely typed event objects the upstreams send.
// Missing or mistyped fields read as zero values; handlers never panic on
// malformed payloads.

// GetString returns a string field from an event object.
func GetString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// GetBool returns a bool field from an event object.
func GetBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, _ := m[key].(bool)
	return v
}

// GetInt returns an int field from an event object. JSON numbers decode as
// float64, so both representations are accepted.
func GetInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// GetMap returns a nested object field from an event object.
func GetMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// GetSlice returns an array field from an event object.
func GetSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}

// GetStrings returns a string-array field from an event object, skipping
// entries of other types.
func GetStrings(m map[string]any, key string) []string {
	raw := GetSlice(m, key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
