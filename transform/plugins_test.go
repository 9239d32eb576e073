package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"stylepipe/css"
)

func runPlugin(t *testing.T, pl Plugin, name, text string) *css.Document {
	t.Helper()
	doc, err := css.Parse(text, name)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := pl.Transform(context.Background(), doc, &ProcessOptions{From: name, To: name})
	if err != nil {
		t.Fatalf("%s: %v", pl.Name(), err)
	}
	return out
}

func TestStripComments(t *testing.T) {
	pl, _ := newStripComments(nil)
	doc := runPlugin(t, pl, "a.css", "/*! keep */a{/* inner */top:0}/* drop */")
	if got, want := doc.Render(), "/*! keep */a{top:0}"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBanner(t *testing.T) {
	if _, err := newBanner(nil); err == nil {
		t.Error("expected error without text")
	}
	if _, err := newBanner(map[string]any{"text": "{{ .File"}); err == nil {
		t.Error("expected template error")
	}

	pl, err := newBanner(map[string]any{"text": "built {{ .File | upper }} */"})
	if err != nil {
		t.Fatal(err)
	}
	doc := runPlugin(t, pl, "/src/x.css", "a{}")
	want := "/* built X.CSS * / */\na{}"
	if got := doc.Render(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// applying again does not stack banners
	if _, err := pl.Transform(context.Background(), doc, &ProcessOptions{From: "/src/x.css"}); err != nil {
		t.Fatal(err)
	}
	if got := doc.Render(); got != want {
		t.Errorf("second run: got %q, want %q", got, want)
	}
}

func TestPrefixSelectors(t *testing.T) {
	if _, err := newPrefixSelectors(map[string]any{"prefix": " "}); err == nil {
		t.Error("expected error for empty prefix")
	}

	pl, err := newPrefixSelectors(map[string]any{"prefix": ".app"})
	if err != nil {
		t.Fatal(err)
	}
	doc := runPlugin(t, pl, "a.css", "a,.b{}\n.app .c{}\n@keyframes k{from{top:0}}\n")
	doc = runPlugin(t, pl, "a.css", doc.Render())

	var selectors []string
	_ = css.WalkRules(doc.Root(), func(r *css.Rule) error {
		selectors = append(selectors, r.Selector())
		return nil
	})
	want := []string{".app a,.app .b", ".app .c", "from"}
	if diff := cmp.Diff(want, selectors); diff != "" {
		t.Errorf("selectors (-want +got):\n%s", diff)
	}
}

func TestSplitSelectors(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a", []string{"a"}},
		{"a, b", []string{"a", " b"}},
		{":is(a, b), c", []string{":is(a, b)", " c"}},
		{`[title="x,y"],d`, []string{`[title="x,y"]`, "d"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitSelectors(tt.in)); diff != "" {
			t.Errorf("splitSelectors(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	names := r.Names()
	for _, n := range []string{"banner", MinifyPluginName, ModulesPluginName, "prefix-selectors", "strip-comments"} {
		if !strings.Contains(strings.Join(names, " "), n) {
			t.Errorf("plugin %q is not registered", n)
		}
	}

	plugins, err := r.LoadPlugins([]PluginSpec{
		{Name: "strip-comments"},
		{Name: "nope", Disabled: true},
		{Name: "prefix-selectors", Options: map[string]any{"prefix": ".x"}},
	}, "a.css")
	if err != nil {
		t.Fatalf("LoadPlugins: %v", err)
	}
	if len(plugins) != 2 || plugins[0].Name() != "strip-comments" || plugins[1].Name() != "prefix-selectors" {
		t.Errorf("unexpected plugins %v", plugins)
	}

	if _, err := r.LoadPlugins([]PluginSpec{{Name: "banner"}}, "a.css"); err == nil || !strings.Contains(err.Error(), `unable to create plugin "banner"`) {
		t.Errorf("unexpected error %v", err)
	}
	if _, err := r.Parser("safe", "a.css"); err != nil {
		t.Errorf("safe parser: %v", err)
	}
}
