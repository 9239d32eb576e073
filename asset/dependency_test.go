package asset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestIsURL(t *testing.T) {
	tests := []struct {
		spec string
		want bool
	}{
		{"http://example.com/a.css", true},
		{"data:image/png;base64,AAAA", true},
		{"//cdn.example.com/a.png", true},
		{"#frag", true},
		{"./a.png", false},
		{"a.png", false},
		{"/img/a.png", false},
		{"~lib/a.png", false},
	}
	for _, tt := range tests {
		if got := IsURL(tt.spec); got != tt.want {
			t.Errorf("IsURL(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestCollector_URLDependency(t *testing.T) {
	root := t.TempDir()
	name := filepath.Join(root, "src", "a.css")

	tests := []struct {
		spec     string
		resolved string
		pattern  string
	}{
		{"./img/b.png?v=1#x", filepath.Join(root, "src", "img", "b.png"), `^[0-9a-f]{8}\.png\?v=1#x$`},
		{"../c.JPG", filepath.Join(root, "c.JPG"), `^[0-9a-f]{8}\.jpg$`},
		{"/img/d.svg", filepath.Join(root, "img", "d.svg"), `^[0-9a-f]{8}\.svg$`},
		{"~/theme.scss", filepath.Join(root, "theme.scss"), `^[0-9a-f]{8}\.css$`},
		{"~lib/x.less", filepath.Join(root, "node_modules", "lib", "x.less"), `^[0-9a-f]{8}\.css$`},
		{"my%20font.woff2", filepath.Join(root, "src", "my font.woff2"), `^[0-9a-f]{8}\.woff2$`},
	}
	for _, tt := range tests {
		c := NewCollector(name, root, "", zaptest.NewLogger(t))
		got := c.AddURLDependency(tt.spec, DepOptions{})
		if !regexp.MustCompile(tt.pattern).MatchString(got) {
			t.Errorf("AddURLDependency(%q) = %q, want match of %s", tt.spec, got, tt.pattern)
		}
		deps := c.Dependencies()
		if len(deps) != 1 {
			t.Fatalf("AddURLDependency(%q): %d dependencies", tt.spec, len(deps))
		}
		if d := deps[0]; d.Specifier != tt.spec || d.Resolved != tt.resolved || d.Kind != KindURL || !d.Dynamic {
			t.Errorf("AddURLDependency(%q): unexpected dependency %+v", tt.spec, d)
		}
	}
}

func TestCollector_Stable(t *testing.T) {
	root := t.TempDir()
	a := NewCollector(filepath.Join(root, "a.css"), root, "/static/", nil)
	b := NewCollector(filepath.Join(root, "sub", "b.css"), root, "/static", nil)

	first := a.AddURLDependency("img/x.png", DepOptions{})
	second := b.AddURLDependency("../img/x.png", DepOptions{})
	if first != second {
		t.Errorf("same file must get same name: %q vs %q", first, second)
	}
	if !regexp.MustCompile(`^/static/[0-9a-f]{8}\.png$`).MatchString(first) {
		t.Errorf("unexpected url %q", first)
	}
	if other := a.AddURLDependency("img/y.png", DepOptions{}); other == first {
		t.Error("different files must get different names")
	}
}

func TestCollector_SniffsExtension(t *testing.T) {
	root := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	if err := os.WriteFile(filepath.Join(root, "blob"), png, 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewCollector(filepath.Join(root, "a.css"), root, "", nil)
	if got := c.AddURLDependency("blob", DepOptions{}); !regexp.MustCompile(`^[0-9a-f]{8}\.png$`).MatchString(got) {
		t.Errorf("unexpected url %q", got)
	}
	if got := c.AddURLDependency("missing", DepOptions{}); !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(got) {
		t.Errorf("unexpected url %q", got)
	}
}

func TestCollector_Dedup(t *testing.T) {
	c := NewCollector("/src/a.css", "/", "", nil)
	c.AddDependency("x.css", DepOptions{Media: "print"})
	c.AddURLDependency("a.png", DepOptions{})
	c.AddDependency("x.css", DepOptions{Media: "screen"})
	if got := c.AddURLDependency("https://example.com/a.png", DepOptions{}); got != "https://example.com/a.png" {
		t.Errorf("absolute url changed to %q", got)
	}
	if got := c.AddURLDependency("", DepOptions{}); got != "" {
		t.Errorf("empty url changed to %q", got)
	}

	deps := c.Dependencies()
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependencies, got %+v", deps)
	}
	if deps[0].Specifier != "x.css" || deps[0].Media != "screen" || deps[0].Kind != KindImport {
		t.Errorf("unexpected first dependency %+v", deps[0])
	}
	if deps[1].Specifier != "a.png" || deps[1].Kind != KindURL {
		t.Errorf("unexpected second dependency %+v", deps[1])
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindImport: "import", KindURL: "url", KindComposes: "composes", KindRuntime: "runtime", 0: "Kind(0)"} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestClassMap_JSON(t *testing.T) {
	cm := ClassMap{
		"a": {Names: []string{"x", "y"}, Resolved: true},
		"b": {Names: []string{"p", "q"}},
		"c": {},
	}
	data, err := json.Marshal(cm)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"a":"x y","b":["p","q"],"c":[]}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestTempSelector(t *testing.T) {
	got := TempSelector("/src/a.css", "  foo ")
	if !regexp.MustCompile(`^[0-9a-f]{16}__foo$`).MatchString(got) {
		t.Errorf("unexpected selector %q", got)
	}
	if got == TempSelector("/src/b.css", "foo") {
		t.Error("selectors of different assets must differ")
	}
}
