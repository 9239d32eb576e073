package transform

import (
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
)

func TestSafeMode(t *testing.T) {
	tests := []struct {
		version string
		want    bool
		wantErr bool
	}{
		{"0.17.19", true, false},
		{"v0.14.0", true, false},
		{"0.18.0", false, false},
		{"v0.25.10", false, false},
		{"(devel)", false, true},
	}
	for _, tt := range tests {
		got, err := SafeMode(tt.version)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafeMode(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("SafeMode(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestMinifier(t *testing.T) {
	if _, err := newMinifier(map[string]any{"safe": "yes"}); err == nil {
		t.Error("expected error for non boolean option")
	}

	full, err := newMinifier(nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := runPlugin(t, full, "a.css", "a {\n  margin: 0px 0px;\n}\n")
	if got := strings.TrimSpace(doc.Render()); !strings.HasPrefix(got, "a{margin:") || strings.Contains(got, "px") {
		t.Errorf("full mode: got %q", got)
	}

	safe, err := newMinifier(map[string]any{"safe": true})
	if err != nil {
		t.Fatal(err)
	}
	doc = runPlugin(t, safe, "a.css", "a {\n  margin: 0px 0px;\n}\n")
	if got := strings.TrimSpace(doc.Render()); got != "a{margin:0px 0px}" {
		t.Errorf("safe mode: got %q", got)
	}
}

func TestMinifyError(t *testing.T) {
	e := newMinifyError(api.Message{Text: "Expected \"}\"", Location: &api.Location{Line: 2, Column: 0}})
	if line, col := e.Location(); line != 2 || col != 1 {
		t.Errorf("location = %d:%d, want 2:1", line, col)
	}
	te := newTransformError(MinifyPluginName, "a.css", e)
	if te.Line != 2 || te.Column != 1 {
		t.Errorf("transform error location = %d:%d", te.Line, te.Column)
	}

	if line, _ := newMinifyError(api.Message{Text: "x"}).Location(); line != 0 {
		t.Errorf("message without location must have no line, got %d", line)
	}
}
