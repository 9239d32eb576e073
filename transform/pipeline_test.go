package transform

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"stylepipe/css"
)

type testTarget struct {
	name      string
	doc       *css.Document
	classes   map[string]string
	rendition Rendition
	minify    bool
}

func newTarget(t *testing.T, name, text string) *testTarget {
	t.Helper()
	doc, err := css.Parse(text, name)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return &testTarget{name: name, doc: doc}
}

func (tt *testTarget) Name() string                    { return tt.name }
func (tt *testTarget) Document() *css.Document         { return tt.doc }
func (tt *testTarget) SetDocument(doc *css.Document)   { tt.doc = doc }
func (tt *testTarget) SetClassMap(m map[string]string) { tt.classes = m }
func (tt *testTarget) Rendition() Rendition            { return tt.rendition }
func (tt *testTarget) Minify() bool                    { return tt.minify }

// staticConfig serves the same transform configuration for every file.
type staticConfig struct {
	node     *yaml.Node
	minifier *yaml.Node
	lookups  int
}

func (s *staticConfig) GetConfig(_ context.Context, _ string, candidates []string, _ string) (*yaml.Node, error) {
	s.lookups++
	if slices.Equal(candidates, MinifierConfigFiles) {
		return s.minifier, nil
	}
	return s.node, nil
}

func yamlNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	return doc.Content[0]
}

type countingPlugin struct {
	calls *int
}

func (c countingPlugin) Name() string { return "count" }

func (c countingPlugin) Transform(_ context.Context, doc *css.Document, _ *ProcessOptions) (*css.Document, error) {
	*c.calls++
	return doc, nil
}

func countingRegistry(created, calls *int) *Registry {
	r := DefaultRegistry()
	r.Register("count", func(map[string]any) (Plugin, error) {
		*created++
		return countingPlugin{calls: calls}, nil
	})
	return r
}

func TestPipeline_NoConfigDoesNothing(t *testing.T) {
	var created, calls int
	p := New(
		WithRegistry(countingRegistry(&created, &calls)),
		WithConfigSource(&staticConfig{}),
		WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/a.css", ".a { color: red }")
	doc := target.doc
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.doc != doc {
		t.Error("document must not be replaced")
	}
	if doc.Renders() != 0 {
		t.Errorf("document rendered %d times", doc.Renders())
	}
	if created != 0 || calls != 0 {
		t.Errorf("plugins used: created %d, calls %d", created, calls)
	}
}

func TestPipeline_UserPluginsRunInBothPasses(t *testing.T) {
	var created, calls int
	cfg := &staticConfig{node: yamlNode(t, "plugins:\n  count: {}\n")}
	p := New(
		WithRegistry(countingRegistry(&created, &calls)),
		WithConfigSource(cfg),
		WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/a.css", ".a { color: red }")
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if created != 2 || calls != 2 {
		t.Errorf("created %d, calls %d, want 2 and 2", created, calls)
	}
	if got := target.doc.Render(); got != ".a { color: red }" {
		t.Errorf("text = %q", got)
	}
	if target.classes != nil {
		t.Errorf("unexpected class map %v", target.classes)
	}
}

func TestPipeline_Modules(t *testing.T) {
	cfg := &staticConfig{node: yamlNode(t, `
modules: true
plugins:
  modules:
    generateScopedName: "[name]_[local]"
`)}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/button.css", ".a { color: red }\n.b { composes: a; top: 0 }\n:global .c { top: 1px }")
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]string{
		"a": "button_a",
		"b": "button_b button_a",
	}
	if diff := cmp.Diff(want, target.classes); diff != "" {
		t.Errorf("class map mismatch (-want +got):\n%s", diff)
	}

	text := target.doc.Render()
	for _, s := range []string{".button_a", ".button_b", ".c"} {
		if !strings.Contains(text, s) {
			t.Errorf("%q not found in %q", s, text)
		}
	}
	for _, s := range []string{"composes", ":global"} {
		if strings.Contains(text, s) {
			t.Errorf("%q left in %q", s, text)
		}
	}
}

func TestPipeline_RenditionModules(t *testing.T) {
	p := New(WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/card.css", ".title { top: 0 }")
	target.rendition = Rendition{Modules: true}
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	scoped, ok := target.classes["title"]
	if !ok || !strings.HasPrefix(scoped, "card__title___") {
		t.Fatalf("unexpected class map %v", target.classes)
	}
	if text := target.doc.Render(); !strings.Contains(text, "."+scoped) {
		t.Errorf("scoped name %q not in %q", scoped, text)
	}
}

func TestPipeline_Minify(t *testing.T) {
	p := New(WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/a.css", "a {\n  color: #ff0000;\n}\n\nb {\n  top: 0;\n}\n")
	target.minify = true
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := strings.TrimSpace(target.doc.Render())
	if !strings.HasPrefix(text, "a{color:") || strings.Contains(text, " ") {
		t.Errorf("not minified: %q", text)
	}
	if target.doc.Dirty() {
		t.Error("adopted document must be clean")
	}
}

func TestPipeline_MinifierConfig(t *testing.T) {
	cfg := &staticConfig{minifier: yamlNode(t, "safe: true\n")}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/a.css", "a { color: #ff0000 }")
	target.minify = true
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// whitespace only, colors are kept
	if text := target.doc.Render(); !strings.Contains(text, "#ff0000") {
		t.Errorf("safe mode changed value: %q", text)
	}
}

func TestPipeline_ConfigurationError(t *testing.T) {
	for _, text := range []string{"[1, 2]", "just text", "plugins: 5"} {
		cfg := &staticConfig{node: yamlNode(t, text)}
		p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

		err := p.Run(context.Background(), newTarget(t, "/src/a.css", "a{}"))
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("%q: expected ConfigurationError, got %v", text, err)
			continue
		}
		if ce.File != "/src/a.css" {
			t.Errorf("%q: file = %q", text, ce.File)
		}
	}
}

func TestPipeline_UnknownPlugin(t *testing.T) {
	cfg := &staticConfig{node: yamlNode(t, "plugins: [nope]\n")}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	err := p.Run(context.Background(), newTarget(t, "/src/a.css", "a{}"))
	if err == nil || !strings.Contains(err.Error(), `cannot find plugin "nope"`) {
		t.Errorf("unexpected error %v", err)
	}
}

type failingPlugin struct{}

func (failingPlugin) Name() string { return "fail" }

func (failingPlugin) Transform(context.Context, *css.Document, *ProcessOptions) (*css.Document, error) {
	return nil, &selectorError{err: errors.New("boom"), pos: css.Position{Line: 3, Column: 7}}
}

func TestPipeline_TransformErrorLocation(t *testing.T) {
	r := DefaultRegistry()
	r.Register("fail", func(map[string]any) (Plugin, error) { return failingPlugin{}, nil })
	cfg := &staticConfig{node: yamlNode(t, "plugins: [fail]\n")}
	p := New(WithRegistry(r), WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	err := p.Run(context.Background(), newTarget(t, "/src/a.css", "a{}"))
	var te *TransformError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransformError, got %v", err)
	}
	if te.Plugin != "fail" || te.File != "/src/a.css" {
		t.Errorf("unexpected error %+v", te)
	}
	if line, col := te.Location(); line != 3 || col != 7 {
		t.Errorf("location = %d:%d, want 3:7", line, col)
	}
	if want := "fail: /src/a.css:3:7: boom"; te.Error() != want {
		t.Errorf("Error() = %q, want %q", te.Error(), want)
	}
}

type nilPlugin struct{}

func (nilPlugin) Name() string { return "nil" }

func (nilPlugin) Transform(context.Context, *css.Document, *ProcessOptions) (*css.Document, error) {
	return nil, nil
}

func TestPipeline_PluginWithoutDocument(t *testing.T) {
	r := DefaultRegistry()
	r.Register("nil", func(map[string]any) (Plugin, error) { return nilPlugin{}, nil })
	cfg := &staticConfig{node: yamlNode(t, "plugins: [nil]\n")}
	p := New(WithRegistry(r), WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	err := p.Run(context.Background(), newTarget(t, "/src/a.css", "a{}"))
	var te *TransformError
	if !errors.As(err, &te) || te.Plugin != "nil" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestPipeline_SafeParser(t *testing.T) {
	cfg := &staticConfig{node: yamlNode(t, "parser: safe\n")}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	target := newTarget(t, "/src/a.css", ".a { color: red }")
	if err := p.Run(context.Background(), target); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := target.doc.Render(); got != ".a { color: red }" {
		t.Errorf("text = %q", got)
	}

	cfg.node = yamlNode(t, "parser: sugarss\n")
	err := p.Run(context.Background(), newTarget(t, "/src/a.css", "a{}"))
	if err == nil || !strings.Contains(err.Error(), `cannot find parser "sugarss"`) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestPipeline_Canceled(t *testing.T) {
	cfg := &staticConfig{node: yamlNode(t, "modules: true\n")}
	p := New(WithConfigSource(cfg), WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, newTarget(t, "/src/a.css", ".a{}"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
