package h5p

import (
	"context"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// mapLibraries is a LibraryStorage over a map, enough for resolution tests.
type mapLibraries map[string]Library

func (m mapLibraries) add(name string, deps ...string) {
	n, err := ParseUbername(name)
	if err != nil {
		panic(err)
	}
	lib := Library{LibraryName: n, Title: name, Runnable: 1}
	for _, d := range deps {
		dn, err := ParseUbername(d)
		if err != nil {
			panic(err)
		}
		lib.PreloadedDependencies = append(lib.PreloadedDependencies, dn)
	}
	m[n.String()] = lib
}

func (m mapLibraries) List(context.Context) ([]LibraryName, error) {
	var out []LibraryName
	for _, l := range m {
		out = append(out, l.LibraryName)
	}
	return out, nil
}

func (m mapLibraries) Library(_ context.Context, n LibraryName) (Library, error) {
	l, ok := m[n.String()]
	if !ok {
		return Library{}, xerrors.NotFoundf("library %s", n)
	}
	return l, nil
}

func (m mapLibraries) File(context.Context, LibraryName, string) (io.ReadCloser, error) {
	return nil, xerrors.NotFoundf("no files")
}
func (m mapLibraries) ListFiles(context.Context, LibraryName) ([]string, error) { return nil, nil }
func (m mapLibraries) Install(context.Context, Library, fs.FS) error           { return nil }
func (m mapLibraries) Delete(context.Context, LibraryName) error               { return nil }
func (m mapLibraries) SetRestricted(context.Context, LibraryName, bool) error  { return nil }

func names(libs []Library) string {
	var s []string
	for _, l := range libs {
		s = append(s, l.String())
	}
	return strings.Join(s, ",")
}

func mustName(s string) LibraryName {
	n, err := ParseUbername(s)
	if err != nil {
		panic(err)
	}
	return n
}

func TestResolveDependencies_Order(t *testing.T) {
	m := mapLibraries{}
	m.add("H5P.Quiz-1.0", "H5P.Question-1.4", "FontAwesome-4.5")
	m.add("H5P.Question-1.4", "H5P.JoubelUI-1.3")
	m.add("H5P.JoubelUI-1.3", "FontAwesome-4.5")
	m.add("FontAwesome-4.5")

	got, err := ResolveDependencies(context.Background(), m, []LibraryName{mustName("H5P.Quiz-1.0")}, false)
	if err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	want := "FontAwesome-4.5,H5P.JoubelUI-1.3,H5P.Question-1.4,H5P.Quiz-1.0"
	if names(got) != want {
		t.Fatalf("order = %s, want %s", names(got), want)
	}
}

func TestResolveDependencies_CycleTerminates(t *testing.T) {
	m := mapLibraries{}
	m.add("A-1.0", "B-1.0")
	m.add("B-1.0", "A-1.0")

	got, err := ResolveDependencies(context.Background(), m, []LibraryName{mustName("A-1.0")}, false)
	if err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if names(got) != "B-1.0,A-1.0" {
		t.Fatalf("order = %s", names(got))
	}
}

func TestResolveDependencies_Missing(t *testing.T) {
	m := mapLibraries{}
	m.add("A-1.0", "Gone-2.0")

	_, err := ResolveDependencies(context.Background(), m, []LibraryName{mustName("A-1.0")}, false)
	if !xerrors.IsNotFound(err) || !strings.Contains(err.Error(), "Gone-2.0") {
		t.Fatalf("want not found naming Gone-2.0, got %v", err)
	}
}

func TestResolveDependencies_EditorDependencies(t *testing.T) {
	m := mapLibraries{}
	m.add("Widget-1.0")
	m.add("A-1.0")
	a := m["A-1.0"]
	a.EditorDependencies = []LibraryName{mustName("Widget-1.0")}
	m["A-1.0"] = a

	roots := []LibraryName{mustName("A-1.0")}
	plain, _ := ResolveDependencies(context.Background(), m, roots, false)
	withEditor, _ := ResolveDependencies(context.Background(), m, roots, true)
	if names(plain) != "A-1.0" || names(withEditor) != "Widget-1.0,A-1.0" {
		t.Fatalf("plain=%s withEditor=%s", names(plain), names(withEditor))
	}
}

func TestResolveDependencies_Canceled(t *testing.T) {
	m := mapLibraries{}
	m.add("A-1.0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ResolveDependencies(ctx, m, []LibraryName{mustName("A-1.0")}, false); err == nil {
		t.Fatal("expected context error")
	}
}
