package fsstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

func readAll(t *testing.T, rc io.ReadCloser, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

var quiz = h5p.ContentMetadata{Title: "Quiz", MainLibrary: "H5P.Quiz", Language: "en"}

func TestContentStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewContentStore(root)
	if err != nil {
		t.Fatal(err)
	}

	id, err := s.CreateOrUpdate(ctx, "", quiz, []byte(`{"a":1}`), h5p.User{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, string(id), "h5p.json")); err != nil {
		t.Fatalf("h5p.json missing: %v", err)
	}

	updated := quiz
	updated.Title = "Quiz 2"
	if _, err := s.CreateOrUpdate(ctx, id, updated, []byte(`{"a":2}`), h5p.User{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	meta, err := s.Metadata(ctx, id)
	if err != nil || meta.Title != "Quiz 2" {
		t.Fatalf("Metadata = %+v, %v", meta, err)
	}
	params, _ := s.Parameters(ctx, id)
	if string(params) != `{"a":2}` {
		t.Fatalf("Parameters = %s", params)
	}

	if err := s.AddFile(ctx, id, "images/x.png", strings.NewReader("PNG")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	rc, err := s.File(ctx, id, "images/x.png")
	if got := readAll(t, rc, err); got != "PNG" {
		t.Fatalf("file = %q", got)
	}
	files, err := s.ListFiles(ctx, id)
	if err != nil || len(files) != 1 || files[0] != "images/x.png" {
		t.Fatalf("ListFiles = %v, %v", files, err)
	}

	ids, err := s.List(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("List = %v, %v", ids, err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Metadata(ctx, id); !xerrors.IsNotFound(err) {
		t.Fatalf("after delete: want not found, got %v", err)
	}
}

func TestContentStore_RejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	s, _ := NewContentStore(t.TempDir())
	id, _ := s.CreateOrUpdate(ctx, "", quiz, nil, h5p.User{})

	for _, name := range []string{"../escape", "a/../../b", "/etc/passwd", "content.json", "h5p.json", `a\b`} {
		if err := s.AddFile(ctx, id, name, strings.NewReader("x")); xerrors.KindOf(err) != xerrors.KindInvalid {
			t.Errorf("AddFile(%q) = %v, want invalid", name, err)
		}
	}
	if _, err := s.Metadata(ctx, "../x"); xerrors.KindOf(err) != xerrors.KindInvalid {
		t.Errorf("Metadata(../x) = %v, want invalid", err)
	}
}

func TestContentStore_UpdateMissing(t *testing.T) {
	s, _ := NewContentStore(t.TempDir())
	if _, err := s.CreateOrUpdate(context.Background(), "missing", quiz, nil, h5p.User{}); !xerrors.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func testLibrary() h5p.Library {
	return h5p.Library{
		LibraryName: h5p.LibraryName{MachineName: "H5P.Quiz", MajorVersion: 1, MinorVersion: 2},
		Title:       "Quiz",
		Runnable:    1,
		PreloadedJS: []h5p.FilePath{{Path: "js/quiz.js"}},
	}
}

func TestLibraryStore_InstallReplaceDelete(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "libraries")
	s, _ := NewLibraryStore(root)

	names, err := s.List(ctx)
	if err != nil || len(names) != 0 {
		t.Fatalf("empty List = %v, %v", names, err)
	}

	lib := testLibrary()
	files := fstest.MapFS{
		"library.json": &fstest.MapFile{Data: []byte(`{}`)},
		"js/quiz.js":   &fstest.MapFile{Data: []byte("v1")},
		"old.txt":      &fstest.MapFile{Data: []byte("old")},
	}
	if err := s.Install(ctx, lib, files); err != nil {
		t.Fatalf("Install: %v", err)
	}

	got, err := s.Library(ctx, lib.LibraryName)
	if err != nil || got.Title != "Quiz" || !got.IsRunnable() {
		t.Fatalf("Library = %+v, %v", got, err)
	}
	rc, err := s.File(ctx, lib.LibraryName, "js/quiz.js")
	if body := readAll(t, rc, err); body != "v1" {
		t.Fatalf("js = %q", body)
	}

	lib.PatchVersion = 1
	if err := s.Install(ctx, lib, fstest.MapFS{"js/quiz.js": &fstest.MapFile{Data: []byte("v2")}}); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if _, err := s.File(ctx, lib.LibraryName, "old.txt"); !xerrors.IsNotFound(err) {
		t.Fatalf("old file should be gone, got %v", err)
	}
	listed, _ := s.ListFiles(ctx, lib.LibraryName)
	if len(listed) != 2 {
		t.Fatalf("ListFiles = %v", listed)
	}

	if err := s.SetRestricted(ctx, lib.LibraryName, true); err != nil {
		t.Fatalf("SetRestricted: %v", err)
	}
	if got, _ := s.Library(ctx, lib.LibraryName); !got.Restricted || got.PatchVersion != 1 {
		t.Fatalf("after SetRestricted: %+v", got)
	}

	names, _ = s.List(ctx)
	if len(names) != 1 || names[0].String() != "H5P.Quiz-1.2" {
		t.Fatalf("List = %v", names)
	}

	if err := s.Delete(ctx, lib.LibraryName); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, lib.LibraryName); !xerrors.IsNotFound(err) {
		t.Fatalf("second Delete: want not found, got %v", err)
	}
}

func TestLibraryStore_FileRejectsTraversal(t *testing.T) {
	s, _ := NewLibraryStore(t.TempDir())
	if _, err := s.File(context.Background(), testLibrary().LibraryName, "../../etc/passwd"); xerrors.KindOf(err) != xerrors.KindInvalid {
		t.Fatalf("want invalid, got %v", err)
	}
}

func TestUserDataStore(t *testing.T) {
	ctx := context.Background()
	s, _ := NewUserDataStore(t.TempDir())
	key := h5p.UserDataKey{ContentID: "c1", DataType: "state", UserID: "u/1"}

	if _, err := s.Get(ctx, key); !xerrors.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	if err := s.Set(ctx, key, []byte(`{"p":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil || string(got) != `{"p":1}` {
		t.Fatalf("Get = %s, %v", got, err)
	}
	if err := s.Set(ctx, key, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Get(ctx, key); !xerrors.IsNotFound(err) {
		t.Fatalf("after clear want not found, got %v", err)
	}

	_ = s.Set(ctx, key, []byte(`1`))
	if err := s.DeleteContent(ctx, "c1"); err != nil {
		t.Fatalf("DeleteContent: %v", err)
	}
	if _, err := s.Get(ctx, key); !xerrors.IsNotFound(err) {
		t.Fatalf("after DeleteContent want not found, got %v", err)
	}
}

func TestTempStore_PerUser(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTempStore(t.TempDir())
	alice := h5p.User{ID: "alice"}
	bob := h5p.User{ID: "bob"}

	name, err := s.Save(ctx, "images/a.png", strings.NewReader("A"), alice)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rc, err := s.Open(ctx, name, alice)
	if got := readAll(t, rc, err); got != "A" {
		t.Fatalf("Open = %q", got)
	}
	if _, err := s.Open(ctx, name, bob); !xerrors.IsNotFound(err) {
		t.Fatalf("other user: want not found, got %v", err)
	}
	if err := s.Delete(ctx, name, alice); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, name, alice); !xerrors.IsNotFound(err) {
		t.Fatalf("second Delete: want not found, got %v", err)
	}
}
