package reqctx

import "strings"

// SetFormValue stores value under key in form, expanding bracket syntax:
// "a[b][c]" nests objects and "a[]" appends to an array. Repeated plain keys
// become arrays.
func SetFormValue(form map[string]any, key, value string) {
	parts, ok := splitKey(key)
	if !ok {
		addValue(form, key, value)
		return
	}

	cur := form
	for i := 0; i < len(parts)-1; i++ {
		p := parts[i]
		if parts[i+1] == "" && i+2 == len(parts) {
			arr, _ := cur[p].([]any)
			cur[p] = append(arr, value)
			return
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	addValue(cur, parts[len(parts)-1], value)
}

// splitKey splits "a[b][c]" into a, b, c. Keys without brackets or with
// malformed brackets are not split.
func splitKey(key string) ([]string, bool) {
	base, rest, nested := strings.Cut(key, "[")
	if !nested || base == "" {
		return nil, false
	}
	parts := []string{base}
	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, false
		}
		seg, after, ok := strings.Cut(rest[1:], "]")
		if !ok {
			return nil, false
		}
		parts = append(parts, seg)
		rest = after
	}
	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

func addValue(m map[string]any, key, value string) {
	switch prev := m[key].(type) {
	case nil:
		m[key] = value
	case []any:
		m[key] = append(prev, value)
	default:
		m[key] = []any{prev, value}
	}
}
