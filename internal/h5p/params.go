package h5p

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// tmpSuffix marks file references that still point into temporary storage.
const tmpSuffix = "#tmp"

// decodeParams decodes content parameters keeping numbers exact.
func decodeParams(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.WithKind(xerrors.Wrap(err, "decode content parameters"), xerrors.KindInvalid)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, xerrors.Invalidf("content parameters must be a JSON object")
	}
	return v, nil
}

// rewriteStrings walks v and replaces every string s for which fn returns
// (replacement, true). It returns the number of replacements.
func rewriteStrings(v any, fn func(string) (string, bool)) (any, int) {
	switch t := v.(type) {
	case map[string]any:
		n := 0
		for k, child := range t {
			nv, c := rewriteStrings(child, fn)
			t[k] = nv
			n += c
		}
		return t, n
	case []any:
		n := 0
		for i, child := range t {
			nv, c := rewriteStrings(child, fn)
			t[i] = nv
			n += c
		}
		return t, n
	case string:
		if r, ok := fn(t); ok {
			return r, 1
		}
		return t, 0
	default:
		return v, 0
	}
}

// collectStrings returns every string in v matching keep.
func collectStrings(v any, keep func(string) bool) []string {
	var out []string
	rewriteStrings(v, func(s string) (string, bool) {
		if keep(s) {
			out = append(out, s)
		}
		return s, false
	})
	return out
}

func isTempRef(s string) bool {
	return strings.HasSuffix(s, tmpSuffix) && len(s) > len(tmpSuffix)
}
