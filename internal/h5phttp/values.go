package h5phttp

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// jsonFields returns the top-level fields of a JSON object body.
func jsonFields(v *reqctx.Request) map[string]json.RawMessage {
	if len(v.JSON) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(v.JSON, &m); err != nil {
		return nil
	}
	return m
}

// bodyString reads key from a JSON body or a decoded form. JSON values that
// are not strings are returned in their encoded form.
func bodyString(v *reqctx.Request, key string) string {
	if raw, ok := jsonFields(v)[key]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return v.FormString(key)
}

// bodyStrings reads a list from a JSON array, a repeated form field or
// repeated query values (key and key[]).
func bodyStrings(r *http.Request, v *reqctx.Request, key string) []string {
	if raw, ok := jsonFields(v)[key]; ok {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
	}
	switch f := v.Form[key].(type) {
	case string:
		return []string{f}
	case []any:
		out := make([]string, 0, len(f))
		for _, e := range f {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	q := r.URL.Query()
	if list := q[key+"[]"]; len(list) > 0 {
		return list
	}
	return q[key]
}

func parseLibraryNames(list []string) ([]h5p.LibraryName, error) {
	out := make([]h5p.LibraryName, 0, len(list))
	for _, s := range list {
		n, err := h5p.ParseUbername(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// queryLibrary reads machineName, majorVersion and minorVersion.
func queryLibrary(r *http.Request) (h5p.LibraryName, error) {
	q := r.URL.Query()
	name := q.Get("machineName")
	if name == "" {
		return h5p.LibraryName{}, xerrors.Invalidf("machineName is required")
	}
	major, err1 := strconv.Atoi(q.Get("majorVersion"))
	minor, err2 := strconv.Atoi(q.Get("minorVersion"))
	if err1 != nil || err2 != nil {
		return h5p.LibraryName{}, xerrors.Invalidf("majorVersion and minorVersion must be integers")
	}
	return h5p.ParseUbername(name + "-" + strconv.Itoa(major) + "." + strconv.Itoa(minor))
}

// decodeBody decodes the JSON body into dst.
func decodeBody(v *reqctx.Request, dst any) error {
	if len(v.JSON) == 0 {
		return xerrors.Invalidf("a JSON body is required")
	}
	if err := json.Unmarshal(v.JSON, dst); err != nil {
		return xerrors.WithKind(xerrors.Wrap(err, "decode request body"), xerrors.KindInvalid)
	}
	return nil
}
