// Package source enumerates stylesheets to process. Input may be a single
// file, a directory tree or a zip archive with stylesheets.
package source

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// File is a stylesheet found in input.
type File struct {
	// Name is the path stylesheet is processed under. Archive entries are
	// named as if archive was extracted into directory named after it.
	Name string
	// Rel is Name relative to the walked input, used to place outputs.
	Rel  string
	open func() (io.ReadCloser, error)
}

func (f File) ReadAll() ([]byte, error) {
	r, err := f.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WalkFunc is called for every stylesheet found, returned error stops the
// walk.
type WalkFunc func(f File) error

// Walk calls fn for every file of input with one of exts extensions.
// Archives are recognized by ".zip" extension, optional path inside archive
// limits walk to entries under it: "themes.zip/dark".
func Walk(ctx context.Context, input string, exts []string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input = filepath.Clean(input)

	if arc, inside, ok := splitArchive(input); ok {
		return walkArchive(ctx, arc, inside, exts, fn)
	}

	fi, err := os.Stat(input)
	if err != nil {
		return err
	}
	switch {
	case fi.Mode().IsRegular():
		return fn(diskFile(input, filepath.Base(input)))
	case fi.IsDir():
		return walkDir(ctx, input, exts, fn)
	}
	return fmt.Errorf("unexpected path mode for (%s)", input)
}

func hasExt(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}

func diskFile(name, rel string) File {
	return File{
		Name: name,
		Rel:  rel,
		open: func() (io.ReadCloser, error) { return os.Open(name) },
	}
}

func walkDir(ctx context.Context, dir string, exts []string, fn WalkFunc) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExt(p, exts) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return fn(diskFile(p, rel))
	})
}

// splitArchive finds archive component of input, everything after it is
// path inside the archive.
func splitArchive(input string) (string, string, bool) {
	for head, tail := input, ""; len(head) > 0; {
		if strings.EqualFold(filepath.Ext(head), ".zip") {
			if fi, err := os.Stat(head); err == nil && fi.Mode().IsRegular() {
				return head, filepath.ToSlash(tail), true
			}
		}
		dir, base := filepath.Split(head)
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if dir == head || len(base) == 0 {
			break
		}
		tail = path.Join(base, tail)
		head = dir
	}
	return "", "", false
}

func walkArchive(ctx context.Context, arc, inside string, exts []string, fn WalkFunc) error {
	r, err := zip.OpenReader(arc)
	if err != nil {
		return err
	}
	defer r.Close()

	prefix := strings.Trim(inside, "/")
	base := strings.TrimSuffix(arc, filepath.Ext(arc))
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := f.Name
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if f.FileInfo().IsDir() || !hasExt(name, exts) {
			continue
		}
		rel := name
		if len(prefix) > 0 {
			if !strings.HasPrefix(name, prefix+"/") {
				continue
			}
			rel = strings.TrimPrefix(name, prefix+"/")
		}
		err := fn(File{
			Name: filepath.Join(base, filepath.FromSlash(name)),
			Rel:  filepath.FromSlash(rel),
			open: f.Open,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// isSafePath rejects entries which could escape extraction directory.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return false
	}
	return !slices.Contains(strings.Split(name, "/"), "..")
}
