package source

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var exts = []string{".css", ".pcss"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := zip.NewWriter(f)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(files[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

// collect returns Rel -> content of walked files.
func collect(t *testing.T, input string) (map[string]string, map[string]string, error) {
	t.Helper()
	content := make(map[string]string)
	names := make(map[string]string)
	err := Walk(context.Background(), input, exts, func(f File) error {
		data, err := f.ReadAll()
		if err != nil {
			return err
		}
		content[f.Rel] = string(data)
		names[f.Rel] = f.Name
		return nil
	})
	return content, names, err
}

func TestWalk_Dir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.css"), "a{}")
	writeFile(t, filepath.Join(dir, "sub", "b.PCSS"), "b{}")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")
	writeFile(t, filepath.Join(dir, "node_modules", "lib", "d.css"), "d{}")

	got, names, err := collect(t, dir)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := map[string]string{
		"a.css":                          "a{}",
		filepath.Join("sub", "b.PCSS"): "b{}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
	if names["a.css"] != filepath.Join(dir, "a.css") {
		t.Errorf("unexpected name %q", names["a.css"])
	}
}

func TestWalk_File(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "one.scss")
	writeFile(t, name, "x{}")

	// explicitly named file is taken whatever extension it has
	got, names, err := collect(t, name)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if got["one.scss"] != "x{}" || names["one.scss"] != name {
		t.Errorf("unexpected walk result %v %v", got, names)
	}
}

func TestWalk_Archive(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "themes.zip")
	writeZip(t, arc, map[string]string{
		"dark/main.css":   "dark{}",
		"dark/readme.txt": "text",
		"light/main.css":  "light{}",
	})

	got, names, err := collect(t, arc)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	want := map[string]string{
		filepath.Join("dark", "main.css"):  "dark{}",
		filepath.Join("light", "main.css"): "light{}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
	if n := names[filepath.Join("dark", "main.css")]; n != filepath.Join(dir, "themes", "dark", "main.css") {
		t.Errorf("unexpected name %q", n)
	}

	got, _, err = collect(t, filepath.Join(arc, "dark"))
	if err != nil {
		t.Fatalf("Walk() inside archive error = %v", err)
	}
	if diff := cmp.Diff(map[string]string{"main.css": "dark{}"}, got); diff != "" {
		t.Errorf("walk inside archive mismatch (-want +got):\n%s", diff)
	}
}

func TestWalk_UnsafeArchive(t *testing.T) {
	arc := filepath.Join(t.TempDir(), "bad.zip")
	writeZip(t, arc, map[string]string{"../evil.css": "x{}"})
	if _, _, err := collect(t, arc); err == nil {
		t.Error("expected error for path traversal entry")
	}
}

func TestWalk_Errors(t *testing.T) {
	if _, _, err := collect(t, filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Walk(ctx, t.TempDir(), exts, func(File) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.css"), "")
	stop := errors.New("stop")
	if err := Walk(context.Background(), dir, exts, func(File) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestIsSafePath(t *testing.T) {
	tests := map[string]bool{
		"a/b.css":     true,
		"a..b/c.css":  true,
		"/abs.css":    false,
		`\win.css`:    false,
		"a/../b.css":  false,
		"../b.css":    false,
	}
	for name, want := range tests {
		if got := isSafePath(name); got != want {
			t.Errorf("isSafePath(%q) = %v, want %v", name, got, want)
		}
	}
}
