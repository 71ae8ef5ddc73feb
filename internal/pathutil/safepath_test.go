package pathutil

import "testing"

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"H5P.MultiChoice-1.16/library.json", false},
		{"images/./cat.png", true},
		{"images/../content.json", true},
		{"..", true},
		{"...", false},
		{".hidden/file", false},
		{"semantics/.", true},
	}
	for _, tt := range tests {
		if got := HasDotSegments(tt.path); got != tt.want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCleanRel(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"images/cat.png", "images/cat.png", true},
		{"H5P.Foo-1.2/", "H5P.Foo-1.2", true},
		{"a//b", "a/b", true},
		{"", "", false},
		{"/etc/passwd", "", false},
		{"..\\content.json", "", false},
		{"images/../../h5p.json", "", false},
		{"./content.json", "", false},
		{"name\x00.png", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanRel(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("CleanRel(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
