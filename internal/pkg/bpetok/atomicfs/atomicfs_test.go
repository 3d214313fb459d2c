package atomicfs

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"bpetok/internal/pkg/bpetok/errs"
)

// renameFailFs fails renames of staged files onto target.
type renameFailFs struct {
	afero.Fs
	target string
}

func (f renameFailFs) Rename(oldname, newname string) error {
	if newname == f.target && strings.Contains(oldname, ".tmp-") && !strings.HasSuffix(oldname, ".bak") {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
	}
	return f.Fs.Rename(oldname, newname)
}

func content(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readString(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func assertOnlyFiles(t *testing.T, fs afero.Fs, dir string, want ...string) {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != len(want) {
		t.Fatalf("dir %s holds %v, want %v", dir, names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("dir %s holds %v, want %v", dir, names, want)
		}
	}
}

func TestWriteFilesCreatesDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := WriteFiles(fs,
		File{Path: "/a/b/one.txt", Write: content("1")},
		File{Path: "/a/b/two.txt", Write: content("2")},
	)
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	if got := readString(t, fs, "/a/b/one.txt"); got != "1" {
		t.Fatalf("one = %q", got)
	}
	if got := readString(t, fs, "/a/b/two.txt"); got != "2" {
		t.Fatalf("two = %q", got)
	}
	assertOnlyFiles(t, fs, "/a/b", "one.txt", "two.txt")
}

func TestWriteFilesReplacesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/d/one.txt", []byte("old"), 0o644)

	if err := WriteFiles(fs, File{Path: "/d/one.txt", Write: content("new")}); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	if got := readString(t, fs, "/d/one.txt"); got != "new" {
		t.Fatalf("one = %q", got)
	}
	assertOnlyFiles(t, fs, "/d", "one.txt")
}

func TestWriteFilesRollsBackOnRenameFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	_ = afero.WriteFile(base, "/d/one.txt", []byte("old1"), 0o644)
	_ = afero.WriteFile(base, "/d/two.txt", []byte("old2"), 0o644)
	fs := renameFailFs{Fs: base, target: "/d/two.txt"}

	err := WriteFiles(fs,
		File{Path: "/d/one.txt", Write: content("new1")},
		File{Path: "/d/two.txt", Write: content("new2")},
	)
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if got := readString(t, base, "/d/one.txt"); got != "old1" {
		t.Fatalf("one = %q, want old1", got)
	}
	if got := readString(t, base, "/d/two.txt"); got != "old2" {
		t.Fatalf("two = %q, want old2", got)
	}
	assertOnlyFiles(t, base, "/d", "one.txt", "two.txt")
}

func TestWriteFilesRollsBackNewFiles(t *testing.T) {
	base := afero.NewMemMapFs()
	fs := renameFailFs{Fs: base, target: "/d/two.txt"}

	err := WriteFiles(fs,
		File{Path: "/d/one.txt", Write: content("new1")},
		File{Path: "/d/two.txt", Write: content("new2")},
	)
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	assertOnlyFiles(t, base, "/d")
}

func TestWriteFilesWriterError(t *testing.T) {
	fs := afero.NewMemMapFs()
	boom := errors.New("boom")
	err := WriteFiles(fs,
		File{Path: "/d/one.txt", Write: content("1")},
		File{Path: "/d/two.txt", Write: func(io.Writer) error { return boom }},
	)
	if !errors.Is(err, errs.ErrIO) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	assertOnlyFiles(t, fs, "/d")
}

func TestWriteFilesReadOnly(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	err := WriteFiles(fs, File{Path: "/d/one.txt", Write: content("1")})
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
}

func TestWriteFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	if err := WriteFiles(fs, File{Path: dir + "/sub/out.txt", Write: content("x")}); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	info, err := fs.Stat(dir + "/sub/out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
}
