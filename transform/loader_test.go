package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"stylepipe/project"
)

func writeCSS(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fileScope(local, file, _ string) string {
	return strings.TrimSuffix(filepath.Base(file), ".css") + "_" + local
}

func TestFileSystemLoader_Compose(t *testing.T) {
	dir := t.TempDir()
	writeCSS(t, dir, "shared.css", ".base { color: red }\n.alt { composes: base; top: 0 }\n")
	main := writeCSS(t, dir, "main.css", "")

	loader := NewFileSystemLoader(dir, ModulesOptions{ScopedName: fileScope}, zaptest.NewLogger(t))
	_, names, err := runModules(t, ModulesOptions{ScopedName: fileScope, Loader: loader}, main,
		`.btn { composes: alt base from "./shared.css" }`)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := map[string]string{"btn": "main_btn shared_alt shared_base shared_base"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}

	// second fetch comes from cache even when file is gone
	if err := os.Remove(filepath.Join(dir, "shared.css")); err != nil {
		t.Fatal(err)
	}
	tokens, err := loader.Fetch(context.Background(), "'./shared.css'", main)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tokens["base"] != "shared_base" {
		t.Errorf("unexpected tokens %v", tokens)
	}
}

func TestFileSystemLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	writeCSS(t, dir, "a.css", ".a { composes: b from './b.css' }")
	writeCSS(t, dir, "b.css", ".b { composes: a from './a.css' }")
	writeCSS(t, dir, "c.css", ".c { top: 0 }")
	main := writeCSS(t, dir, "main.css", "")

	tests := []struct {
		name string
		text string
		want string
	}{
		{"circular", ".x { composes: a from './a.css' }", "circular composition"},
		{"missing class", ".x { composes: nope from './c.css' }", `class "nope" is not exported`},
		{"missing file", ".x { composes: a from './none.css' }", "unable to read composed stylesheet"},
		{"remote", `.x { composes: a from "http://cdn.example.com/c.css" }`, "unable to compose from remote stylesheet http://cdn.example.com/c.css"},
		{"protocol relative", `.x { composes: a from "//cdn.example.com/c.css" }`, "unable to compose from remote stylesheet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewFileSystemLoader(dir, ModulesOptions{ScopedName: fileScope}, zaptest.NewLogger(t))
			_, _, err := runModules(t, ModulesOptions{ScopedName: fileScope, Loader: loader}, main, tt.text)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFileSystemLoader_Resolve(t *testing.T) {
	root := t.TempDir()
	l := NewFileSystemLoader(root, ModulesOptions{}, nil)
	from := filepath.Join(root, "src", "a.css")

	tests := []struct {
		path string
		want string
	}{
		{"~/styles/x.css", filepath.Join(root, "styles", "x.css")},
		{"~lib/x.css", filepath.Join(root, "node_modules", "lib", "x.css")},
		{"./x.css", filepath.Join(root, "src", "x.css")},
		{"../x.css", filepath.Join(root, "x.css")},
		{filepath.Join(root, "abs.css"), filepath.Join(root, "abs.css")},
	}
	for _, tt := range tests {
		got, err := l.resolve(tt.path, from)
		if err != nil {
			t.Fatalf("resolve(%q): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("resolve(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"http://cdn.example.com/c.css", true},
		{"https://cdn.example.com/c.css", true},
		{"data:text/css,.a{}", true},
		{"//cdn.example.com/c.css", true},
		{"C:/styles/c.css", false},
		{"./c.css", false},
		{"~lib/c.css", false},
		{"/abs/c.css", false},
	}
	for _, tt := range tests {
		if got := isRemote(tt.path); got != tt.want {
			t.Errorf("isRemote(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPipeline_ComposedFileScopedLikeRequester(t *testing.T) {
	dir := t.TempDir()
	shared := writeCSS(t, dir, "shared.css", ".base { color: red }\n")
	cfg := &staticConfig{node: yamlNode(t, `
modules: true
plugins:
  modules:
    generateScopedName: "[name]-[local]-[hash:6]"
    hashPrefix: app
`)}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	main := newTarget(t, filepath.Join(dir, "main.css"), `.btn { composes: base from "./shared.css" }`)
	if err := p.Run(context.Background(), main); err != nil {
		t.Fatalf("Run(main): %v", err)
	}
	alone := newTarget(t, shared, ".base { color: red }\n")
	if err := p.Run(context.Background(), alone); err != nil {
		t.Fatalf("Run(shared): %v", err)
	}

	base, ok := alone.classes["base"]
	if !ok || !strings.HasPrefix(base, "shared-base-") {
		t.Fatalf("unexpected class map of shared file %v", alone.classes)
	}
	parts := strings.Fields(main.classes["btn"])
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "main-btn-") || parts[1] != base {
		t.Errorf("btn = %q, want main-btn-* followed by %q", main.classes["btn"], base)
	}
}

type recordingLoader struct {
	paths []string
}

func (r *recordingLoader) Fetch(_ context.Context, path, _ string) (map[string]string, error) {
	r.paths = append(r.paths, path)
	return map[string]string{}, nil
}

type fakePackages struct{}

func (fakePackages) Package(context.Context, string) (*project.Package, error) {
	return &project.Package{Dir: "/web", Alias: map[string]string{"ui": "./src/ui"}}, nil
}

type fakeAliases struct{}

func (fakeAliases) ResolveAliases(_ context.Context, spec string, pkg *project.Package) (string, error) {
	if rest, ok := strings.CutPrefix(spec, "ui/"); ok {
		return pkg.Dir + "/src/ui/" + rest, nil
	}
	return spec, nil
}

func TestAliasLoader(t *testing.T) {
	rec := &recordingLoader{}
	l := &AliasLoader{Delegate: rec, Packages: fakePackages{}, Aliases: fakeAliases{}, From: "/web/a.css"}

	for _, path := range []string{`"ui/button.css"`, "'./local.css'", "~lib/x.css", "/abs/x.css", "other/x.css"} {
		if _, err := l.Fetch(context.Background(), path, "/web/a.css"); err != nil {
			t.Fatalf("Fetch(%q): %v", path, err)
		}
	}
	want := []string{"/web/src/ui/button.css", "./local.css", "~lib/x.css", "/abs/x.css", "other/x.css"}
	if diff := cmp.Diff(want, rec.paths); diff != "" {
		t.Errorf("delegated paths (-want +got):\n%s", diff)
	}
}

func TestPipeline_LoaderFor(t *testing.T) {
	p := New()
	if _, ok := p.loaderFor("/a.css").(*FileSystemLoader); !ok {
		t.Error("expected file system loader without aliases")
	}
	p = New(WithAliases(fakePackages{}, fakeAliases{}))
	al, ok := p.loaderFor("/a.css").(*AliasLoader)
	if !ok || al.From != "/a.css" {
		t.Errorf("unexpected loader %+v", al)
	}
}
