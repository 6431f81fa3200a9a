package storage

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newTestStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	return NewFileStore(mem), mem
}

func TestFileStore_PutOpenDelete(t *testing.T) {
	store, mem := newTestStore(t)

	sf, err := store.Put(strings.NewReader("hello attachment"), "Quarterly Report.PDF")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if sf.Size != int64(len("hello attachment")) {
		t.Errorf("Size = %d, want %d", sf.Size, len("hello attachment"))
	}
	if !strings.HasPrefix(sf.StoredName, "quarterly-report-") || !strings.HasSuffix(sf.StoredName, ".pdf") {
		t.Errorf("StoredName = %q, want quarterly-report-<key>.pdf", sf.StoredName)
	}
	if ok, _ := afero.Exists(mem, sf.StoragePath); !ok {
		t.Fatalf("file %s not written", sf.StoragePath)
	}

	exists, err := store.Exists(sf.StoragePath)
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}

	f, err := store.Open(sf.StoragePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, _ := io.ReadAll(f)
	f.Close()
	if string(body) != "hello attachment" {
		t.Errorf("content = %q", body)
	}

	if err := store.Delete(sf.StoragePath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := store.Exists(sf.StoragePath); exists {
		t.Error("file still exists after Delete")
	}
	// second delete is a no-op
	if err := store.Delete(sf.StoragePath); err != nil {
		t.Errorf("Delete of missing file: %v", err)
	}
}

func TestFileStore_OpenMissing(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Open("missing-file.txt"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Open missing: err = %v, want ErrNotExist", err)
	}
}

func TestFileStore_NeverOverwrites(t *testing.T) {
	store, mem := newTestStore(t)
	keys := []string{"same", "same", "other"}
	store.keyGen = func() string {
		k := keys[0]
		keys = keys[1:]
		return k
	}

	first, err := store.Put(strings.NewReader("one"), "a.txt")
	if err != nil {
		t.Fatalf("Put first: %v", err)
	}
	second, err := store.Put(strings.NewReader("two"), "a.txt")
	if err != nil {
		t.Fatalf("Put second: %v", err)
	}
	if first.StoragePath == second.StoragePath {
		t.Fatalf("second Put reused key %s", first.StoragePath)
	}
	if second.StoredName != "a-other.txt" {
		t.Errorf("second StoredName = %q, want a-other.txt", second.StoredName)
	}
	got, _ := afero.ReadFile(mem, first.StoragePath)
	if string(got) != "one" {
		t.Errorf("first file overwritten: %q", got)
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store, mem := newTestStore(t)
	if err := afero.WriteFile(mem, "secret.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"../secret.txt", "dir/secret.txt", `..\secret.txt`, ""} {
		if ok, _ := store.Exists(p); ok {
			t.Errorf("Exists(%q) = true", p)
		}
		if _, err := store.Open(p); !errors.Is(err, ErrNotExist) {
			t.Errorf("Open(%q) err = %v, want ErrNotExist", p, err)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestFileStore_PutCleansUpPartialWrite(t *testing.T) {
	store, mem := newTestStore(t)
	store.keyGen = func() string { return "k" }

	if _, err := store.Put(failingReader{}, "broken.bin"); err == nil {
		t.Fatal("expected Put to fail")
	}
	if ok, _ := afero.Exists(mem, "broken-k.bin"); ok {
		t.Error("partial file left behind")
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, stem, ext string
	}{
		{"photo.JPG", "photo", ".jpg"},
		{"../../etc/passwd", "passwd", ""},
		{`C:\Users\me\My Notes.txt`, "my-notes", ".txt"},
		{"Отчёт.docx", "file", ".docx"},
		{".env", "file", ".env"},
		{"archive.tar.gz", "archive-tar", ".gz"},
	}
	for _, tt := range tests {
		stem, ext := splitName(tt.in)
		if stem != tt.stem || ext != tt.ext {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tt.in, stem, ext, tt.stem, tt.ext)
		}
	}
}
