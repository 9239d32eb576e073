package transform

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"stylepipe/css"
)

// MinifyPluginName is registry name of esbuild based minifier.
const MinifyPluginName = "minify"

const esbuildModule = "github.com/evanw/esbuild"

// Minifier versions which get conservative whitespace-only mode by default.
// Older esbuild releases mangled some nested rules when syntax minification
// was on.
var safeVersions = func() *semver.Constraints {
	c, err := semver.NewConstraint("< 0.18.0")
	if err != nil {
		panic(err)
	}
	return c
}()

// SafeMode reports whether minifier of given version should run in safe
// mode.
func SafeMode(version string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("bad minifier version %q: %w", version, err)
	}
	return safeVersions.Check(v), nil
}

// esbuildVersion returns version of esbuild module linked into the binary.
func esbuildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == esbuildModule {
				if dep.Replace != nil && dep.Replace.Version != "" {
					return dep.Replace.Version
				}
				return dep.Version
			}
		}
	}
	return "0.0.0"
}

type minifier struct {
	safe bool
}

func newMinifier(opts map[string]any) (Plugin, error) {
	m := &minifier{}
	if v, ok := opts["safe"]; ok {
		safe, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("option \"safe\" should be boolean, got %T", v)
		}
		m.safe = safe
	}
	return m, nil
}

func (m *minifier) Name() string { return MinifyPluginName }

func (m *minifier) Transform(_ context.Context, doc *css.Document, po *ProcessOptions) (*css.Document, error) {
	res := api.Transform(doc.Render(), api.TransformOptions{
		Loader:           api.LoaderCSS,
		Sourcefile:       po.From,
		MinifyWhitespace: true,
		MinifySyntax:     !m.safe,
		LogLevel:         api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, newMinifyError(res.Errors[0])
	}
	if po.Log != nil {
		for _, w := range res.Warnings {
			po.Log.Debug("Minifier warning", zap.String("file", po.From), zap.String("text", w.Text))
		}
	}
	return css.Parse(string(res.Code), doc.Source())
}

// minifyError carries esbuild message location.
type minifyError struct {
	text   string
	line   int
	column int
}

func newMinifyError(msg api.Message) *minifyError {
	e := &minifyError{text: msg.Text}
	if msg.Location != nil {
		// esbuild columns are 0-based
		e.line, e.column = msg.Location.Line, msg.Location.Column+1
	}
	return e
}

func (e *minifyError) Error() string        { return e.text }
func (e *minifyError) Location() (int, int) { return e.line, e.column }
