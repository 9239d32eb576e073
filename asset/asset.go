package asset

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"stylepipe/css"
	"stylepipe/transform"
)

// RuntimeLoader is the module reloading stylesheets when hot reload is on.
const RuntimeLoader = "_css_loader"

const hmrGlue = `var reloadCSS = require('_css_loader');
module.hot.dispose(reloadCSS);
module.hot.accept(reloadCSS);
`

// Cheap pre-filters, final decision always comes from the document tree.
var (
	importRe   = regexp.MustCompile(`(?i)@import`)
	composesRe = regexp.MustCompile(`(?i)composes\s*:\s*[a-z0-9_,\s-]+from\s*["'].*["']`)
	fromRe     = regexp.MustCompile(`(?i)[a-z0-9_,\s-]+from\s*["'].*["']`)
	urlRe      = regexp.MustCompile(`(?i)url\s*\(\s*["']?([a-z][a-z0-9+.-]*:)?`)
)

// hasLocalURL reports whether text has url(...) not starting with a scheme.
func hasLocalURL(text string) bool {
	for _, m := range urlRe.FindAllStringSubmatchIndex(text, -1) {
		if m[2] < 0 {
			return true
		}
	}
	return false
}

// Options configure processing of a single stylesheet.
type Options struct {
	// RootDir resolves "/" and "~" references.
	RootDir   string
	PublicURL string
	Rendition transform.Rendition
	Minify    bool
	// HMR adds hot reload glue to generated script.
	HMR bool
	// Sink receives dependencies, Collector is used when nil.
	Sink     Sink
	Pipeline *transform.Pipeline
	Log      *zap.Logger
}

// Output is a generated unit of an asset.
type Output struct {
	// Type is "css" or "js".
	Type  string
	Value string
	// ClassMap is attached to css output.
	ClassMap ClassMap
}

// Asset is a stylesheet being processed. Asset is not safe for concurrent
// use, different assets may be processed concurrently.
type Asset struct {
	name     string
	contents string
	opts     Options
	log      *zap.Logger

	sink      Sink
	collector *Collector
	doc       *css.Document
	classes   ClassMap
}

var _ transform.Target = (*Asset)(nil)

// New creates asset from stylesheet text. Name is the stylesheet path.
func New(name, contents string, opts Options) *Asset {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &Asset{
		name:     name,
		contents: contents,
		opts:     opts,
		log:      log.Named("asset"),
		sink:     opts.Sink,
		classes:  make(ClassMap),
	}
	if a.sink == nil {
		a.collector = NewCollector(name, opts.RootDir, opts.PublicURL, log)
		a.sink = a.collector
	}
	if a.opts.Pipeline == nil {
		a.opts.Pipeline = transform.New(transform.WithLogger(log))
	}
	return a
}

func (a *Asset) Name() string                   { return a.name }
func (a *Asset) Contents() string               { return a.contents }
func (a *Asset) Document() *css.Document        { return a.doc }
func (a *Asset) SetDocument(doc *css.Document)  { a.doc = doc }
func (a *Asset) Rendition() transform.Rendition { return a.opts.Rendition }
func (a *Asset) Minify() bool                   { return a.opts.Minify }

// ClassMap returns local class mapping collected so far.
func (a *Asset) ClassMap() ClassMap { return a.classes }

// SetClassMap replaces class mapping with names resolved by CSS-Modules
// plugin.
func (a *Asset) SetClassMap(names map[string]string) {
	a.classes = resolvedClassMap(names)
}

// Dependencies returns dependencies recorded by default sink, nil when
// custom sink is used.
func (a *Asset) Dependencies() []Dependency {
	if a.collector == nil {
		return nil
	}
	return a.collector.Dependencies()
}

// MightHaveDependencies reports whether dependency collection can be
// skipped for the asset.
func (a *Asset) MightHaveDependencies() bool {
	return !strings.HasSuffix(a.name, ".css") ||
		importRe.MatchString(a.contents) ||
		composesRe.MatchString(a.contents) ||
		hasLocalURL(a.contents)
}

// Parse builds document from asset contents.
func (a *Asset) Parse() error {
	doc, err := css.Parse(a.contents, a.name)
	if err != nil {
		return err
	}
	a.doc = doc
	return nil
}

// CollectDependencies records imports, urls and cross-file compositions of
// the document rewriting or removing them.
func (a *Asset) CollectDependencies() error {
	if a.doc == nil {
		return errors.New("asset is not parsed")
	}
	root := a.doc.Root()

	err := css.WalkAtRules(root, "import", a.collectImport)
	if err != nil {
		return err
	}
	return css.WalkDecls(root, func(d *css.Decl) error {
		a.collectURLs(d)
		a.collectComposes(d)
		return nil
	})
}

func (a *Asset) collectImport(at *css.AtRule) error {
	params := css.ParseValue(at.Params())
	nodes := params.Nodes
	for len(nodes) > 0 && (nodes[0].Type == css.SpaceValue || nodes[0].Type == css.CommentValue) {
		nodes = nodes[1:]
	}

	var target *css.ValueNode
	if len(nodes) > 0 {
		target = nodes[0]
		if target.Type == css.FunctionValue && strings.EqualFold(target.Value, "url") && len(target.Nodes) > 0 {
			target = target.Nodes[0]
		}
	}
	if target == nil || (target.Type != css.StringValue && target.Type != css.WordValue) || target.Value == "" {
		pos := at.Source()
		return &MalformedImportError{Rule: at.String(), Line: pos.Line, Column: pos.Column}
	}

	spec := target.Value
	if IsURL(spec) {
		return nil
	}

	if a.opts.Rendition.InlineHTML {
		// embedded stylesheet is not merged, it references the bundle instead
		setURL(target, a.sink.AddURLDependency(spec, DepOptions{Kind: KindURL, Loc: at.Source()}))
		a.doc.SetParams(at, params.String())
		return nil
	}

	media := strings.TrimSpace((&css.Value{Nodes: nodes[1:]}).String())
	a.sink.AddDependency(spec, DepOptions{Kind: KindImport, Media: media, Loc: at.Source()})
	a.doc.Remove(at)
	return nil
}

func (a *Asset) collectURLs(d *css.Decl) {
	if !hasLocalURL(d.Value()) {
		return
	}
	value := css.ParseValue(d.Value())
	changed := false
	value.Walk(func(n *css.ValueNode) bool {
		if n.Type != css.FunctionValue || !strings.EqualFold(n.Value, "url") {
			return true
		}
		if len(n.Nodes) == 0 {
			return false
		}
		arg := n.Nodes[0]
		// empty and fragment references point into the document itself
		if arg.Value == "" || strings.HasPrefix(arg.Value, "#") {
			return false
		}
		resolved := a.sink.AddURLDependency(arg.Value, DepOptions{Kind: KindURL, Loc: d.Source()})
		if resolved != arg.Value {
			setURL(arg, resolved)
			changed = true
		}
		return false
	})
	if changed {
		a.doc.SetValue(d, value.String())
	}
}

func (a *Asset) collectComposes(d *css.Decl) {
	if !strings.EqualFold(d.Prop(), "composes") || !fromRe.MatchString(d.Value()) {
		return
	}
	rule, ok := d.Parent().(*css.Rule)
	if !ok {
		return
	}
	selectors, path, ok := composesFrom(d.Value())
	if !ok || IsURL(path) {
		return
	}

	a.sink.AddURLDependency(path, DepOptions{Kind: KindComposes, Static: true, Loc: d.Source()})

	own := strings.TrimPrefix(strings.TrimSpace(rule.Selector()), ".")
	aliases := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		aliases = append(aliases, TempSelector(a.name, sel))
	}
	a.classes[TempSelector(a.name, own)] = ClassNames{Names: aliases}
	a.doc.Remove(d)
}

// composesFrom matches "<selector list> from <quoted path>". Selectors are
// separated by commas, words of one selector are joined with a space.
func composesFrom(value string) ([]string, string, bool) {
	var (
		selectors []string
		words     []string
		path      string
		seenFrom  bool
		seenPath  bool
	)
	flush := func() bool {
		if len(words) == 0 {
			return false
		}
		selectors = append(selectors, strings.Join(words, " "))
		words = words[:0]
		return true
	}
	for _, n := range css.ParseValue(value).Nodes {
		switch n.Type {
		case css.SpaceValue, css.CommentValue:
		case css.DivValue:
			if n.Value != "," || seenFrom || !flush() {
				return nil, "", false
			}
		case css.WordValue:
			if seenFrom {
				return nil, "", false
			}
			if strings.EqualFold(n.Value, "from") {
				if !flush() {
					return nil, "", false
				}
				seenFrom = true
				continue
			}
			words = append(words, n.Value)
		case css.StringValue:
			if !seenFrom || seenPath {
				return nil, "", false
			}
			path, seenPath = n.Value, true
		default:
			return nil, "", false
		}
	}
	if !seenPath || path == "" {
		return nil, "", false
	}
	return selectors, path, true
}

// setURL replaces url argument quoting it when the result would not be a
// valid unquoted url.
func setURL(n *css.ValueNode, value string) {
	if n.Type == css.WordValue && strings.ContainsAny(value, " \t\n\"'()\\") {
		n.Type, n.Quote = css.StringValue, '"'
		value = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `).Replace(value)
	}
	n.Value = value
}

// Transform runs the document through transform pipeline.
func (a *Asset) Transform(ctx context.Context) error {
	if a.doc == nil {
		return errors.New("asset is not parsed")
	}
	return a.opts.Pipeline.Run(ctx, a)
}

// Generate produces final stylesheet and, when there is something to
// export, companion script.
func (a *Asset) Generate() ([]Output, error) {
	text := a.contents
	if a.doc != nil {
		text = a.doc.Render()
	}

	var js strings.Builder
	if a.opts.HMR {
		a.sink.AddDependency(RuntimeLoader, DepOptions{Kind: KindRuntime})
		js.WriteString(hmrGlue)
	}
	if len(a.classes) > 0 {
		data, err := json.MarshalIndent(a.classes, "", "  ")
		if err != nil {
			return nil, err
		}
		js.WriteString("module.exports = ")
		js.Write(data)
		js.WriteString(";\n")
	}

	out := []Output{{Type: "css", Value: text, ClassMap: a.classes}}
	if js.Len() > 0 {
		out = append(out, Output{Type: "js", Value: js.String()})
	}
	return out, nil
}

// Process runs all stages over the asset. Failure of any stage fails the
// asset, nothing partial is generated.
func (a *Asset) Process(ctx context.Context) ([]Output, error) {
	if a.doc == nil {
		if err := a.Parse(); err != nil {
			return nil, err
		}
	}
	if a.MightHaveDependencies() {
		if err := a.CollectDependencies(); err != nil {
			return nil, err
		}
	} else {
		a.log.Debug("Skipping dependency collection", zap.String("asset", a.name))
	}
	if err := a.Transform(ctx); err != nil {
		return nil, err
	}
	return a.Generate()
}
