// Package pathutil validates the slash separated relative paths that reach
// storage from URLs, form fields and package archives.
package pathutil

import (
	"path"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanRel returns p cleaned when it is a relative path that stays inside
// its root: not empty, not absolute, no backslashes, NUL bytes or dot
// segments. A trailing slash is dropped.
func CleanRel(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsAny(p, "\\\x00") || HasDotSegments(p) {
		return "", false
	}
	return path.Clean(p), true
}
