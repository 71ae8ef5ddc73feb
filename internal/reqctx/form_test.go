package reqctx

import (
	"reflect"
	"testing"
)

func TestSetFormValue(t *testing.T) {
	tests := []struct {
		name  string
		pairs [][2]string
		want  map[string]any
	}{
		{"plain", [][2]string{{"a", "1"}}, map[string]any{"a": "1"}},
		{"repeated", [][2]string{{"a", "1"}, {"a", "2"}}, map[string]any{"a": []any{"1", "2"}}},
		{"nested", [][2]string{{"a[b][c]", "v"}}, map[string]any{"a": map[string]any{"b": map[string]any{"c": "v"}}}},
		{"siblings", [][2]string{{"a[b]", "1"}, {"a[c]", "2"}}, map[string]any{"a": map[string]any{"b": "1", "c": "2"}}},
		{"array", [][2]string{{"ids[]", "1"}, {"ids[]", "2"}}, map[string]any{"ids": []any{"1", "2"}}},
		{"nested array", [][2]string{{"a[list][]", "x"}}, map[string]any{"a": map[string]any{"list": []any{"x"}}}},
		{"malformed", [][2]string{{"a[b", "v"}}, map[string]any{"a[b": "v"}},
		{"leading bracket", [][2]string{{"[a]", "v"}}, map[string]any{"[a]": "v"}},
		{"empty middle", [][2]string{{"a[][b]", "v"}}, map[string]any{"a[][b]": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[string]any{}
			for _, p := range tt.pairs {
				SetFormValue(got, p[0], p[1])
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
