package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gosimple/slug"
	parse "github.com/tdewolff/parse/v2"
	lexer "github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"

	"stylepipe/css"
)

const (
	// ModulesPluginName is registry name of CSS-Modules plugin.
	ModulesPluginName = "modules"
	// DefaultScopedNamePattern is used when configuration does not specify
	// one.
	DefaultScopedNamePattern = "[name]__[local]___[hash:5]"
)

// ScopedNameFunc produces scoped class name for local name declared in
// file. Text is the stylesheet being scoped.
type ScopedNameFunc func(local, file, text string) string

// ModulesOptions configures CSS-Modules plugin.
type ModulesOptions struct {
	// Pattern with [name], [local], [hash] and [hash:N] placeholders.
	Pattern    string
	HashPrefix string
	// ScopedName overrides Pattern.
	ScopedName ScopedNameFunc
	// GetJSON receives resolved class names of the file once scoping is
	// done.
	GetJSON func(file string, names map[string]string)
	// Loader fetches files referenced by "composes ... from".
	Loader Loader
}

// decodeModulesOptions interprets options coming from configuration merged
// with pipeline callbacks.
func decodeModulesOptions(opts map[string]any) (ModulesOptions, error) {
	var mo ModulesOptions
	for k, v := range opts {
		switch k {
		case "generateScopedName":
			switch x := v.(type) {
			case string:
				mo.Pattern = x
			case ScopedNameFunc:
				mo.ScopedName = x
			case func(string, string, string) string:
				mo.ScopedName = x
			default:
				return mo, fmt.Errorf("option %q has unexpected type %T", k, v)
			}
		case "hashPrefix":
			s, ok := v.(string)
			if !ok {
				return mo, fmt.Errorf("option %q should be a string", k)
			}
			mo.HashPrefix = s
		case "getJSON":
			f, ok := v.(func(string, map[string]string))
			if !ok {
				return mo, fmt.Errorf("option %q has unexpected type %T", k, v)
			}
			mo.GetJSON = f
		case "loader":
			l, ok := v.(Loader)
			if !ok {
				return mo, fmt.Errorf("option %q has unexpected type %T", k, v)
			}
			mo.Loader = l
		}
	}
	return mo, nil
}

type modules struct {
	opts ModulesOptions
}

// NewModules creates CSS-Modules plugin: local class and id selectors are
// replaced with scoped names, :global and :local switch scoping mode and
// composes declarations are folded into exported names.
func NewModules(opts ModulesOptions) Plugin {
	if opts.Pattern == "" {
		opts.Pattern = DefaultScopedNamePattern
	}
	return &modules{opts: opts}
}

func (m *modules) Name() string { return ModulesPluginName }

func (m *modules) Transform(ctx context.Context, doc *css.Document, po *ProcessOptions) (*css.Document, error) {
	file := po.From
	text := doc.Render()

	// local name -> exported class names, insertion ordered
	var (
		order   []string
		exports = make(map[string][]string)
		owners  = make(map[*css.Rule][]string)
	)
	scope := func(local string) string {
		if _, ok := exports[local]; !ok {
			exports[local] = []string{m.scopedName(local, file, text)}
			order = append(order, local)
		}
		return exports[local][0]
	}

	err := css.Walk(doc.Root(), func(n css.Node) error {
		rule, ok := n.(*css.Rule)
		if !ok || insideKeyframes(rule) {
			return nil
		}
		sel, locals, err := scopeSelector(rule.Selector(), scope)
		if err != nil {
			return &selectorError{err: err, pos: rule.Source()}
		}
		owners[rule] = locals
		doc.SetSelector(rule, sel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = css.WalkDecls(doc.Root(), func(d *css.Decl) error {
		if !strings.EqualFold(d.Prop(), "composes") && !strings.EqualFold(d.Prop(), "compose-with") {
			return nil
		}
		rule, ok := d.Parent().(*css.Rule)
		if !ok {
			return &selectorError{err: fmt.Errorf("composition is only allowed inside a rule"), pos: d.Source()}
		}
		names, err := m.composed(ctx, d, file, scope)
		if err != nil {
			return err
		}
		for _, owner := range owners[rule] {
			exports[owner] = append(exports[owner], names...)
		}
		doc.Remove(d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.opts.GetJSON != nil {
		out := make(map[string]string, len(order))
		for _, local := range order {
			out[local] = strings.Join(exports[local], " ")
		}
		m.opts.GetJSON(file, out)
	}

	log := po.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Debug("Scoped local names", zap.String("file", file), zap.Int("count", len(order)))
	return doc, nil
}

// composed returns class names a composes declaration refers to.
func (m *modules) composed(ctx context.Context, d *css.Decl, file string, scope func(string) string) ([]string, error) {
	classes, from, ok := splitComposes(d.Value())
	if !ok {
		return nil, &selectorError{err: fmt.Errorf("malformed composition %q", d.Value()), pos: d.Source()}
	}

	switch {
	case from == "":
		names := make([]string, 0, len(classes))
		for _, c := range classes {
			names = append(names, scope(c))
		}
		return names, nil

	case from == "global":
		return classes, nil

	default:
		if m.opts.Loader == nil {
			return nil, &selectorError{err: fmt.Errorf("unable to compose from %s: no loader", from), pos: d.Source()}
		}
		imported, err := m.opts.Loader.Fetch(withScoping(ctx, m.opts), from, file)
		if err != nil {
			return nil, fmt.Errorf("unable to compose from %s: %w", from, err)
		}
		names := make([]string, 0, len(classes))
		for _, c := range classes {
			name, ok := imported[c]
			if !ok {
				return nil, &selectorError{err: fmt.Errorf("class %q is not exported by %s", c, from), pos: d.Source()}
			}
			names = append(names, name)
		}
		return names, nil
	}
}

var placeholderRe = regexp.MustCompile(`\[(name|local|hash)(?::(\d+))?\]`)

func (m *modules) scopedName(local, file, text string) string {
	if m.opts.ScopedName != nil {
		return m.opts.ScopedName(local, file, text)
	}
	base := filepath.Base(file)
	name := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	hash := strconv.FormatUint(xxhash.Sum64String(m.opts.HashPrefix+filepath.ToSlash(file)+"\x00"+local), 36)

	out := placeholderRe.ReplaceAllStringFunc(m.opts.Pattern, func(ph string) string {
		sm := placeholderRe.FindStringSubmatch(ph)
		switch sm[1] {
		case "name":
			return name
		case "local":
			return local
		default:
			if n, err := strconv.Atoi(sm[2]); err == nil && n > 0 && n < len(hash) {
				return hash[:n]
			}
			return hash
		}
	})
	if out == "" || (out[0] >= '0' && out[0] <= '9') || (out[0] == '-' && len(out) > 1 && out[1] >= '0' && out[1] <= '9') {
		out = "_" + out
	}
	return out
}

func insideKeyframes(n css.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if at, ok := p.(*css.AtRule); ok && strings.HasSuffix(strings.ToLower(at.Name()), "keyframes") {
			return true
		}
	}
	return false
}

// splitComposes parses "a b from 'file'", "a from global" or "a b".
func splitComposes(value string) ([]string, string, bool) {
	v := css.ParseValue(value)
	var (
		classes  []string
		from     string
		seenFrom bool
	)
	for _, n := range v.Nodes {
		switch n.Type {
		case css.SpaceValue, css.CommentValue:
		case css.DivValue:
			if n.Value != "," || seenFrom {
				return nil, "", false
			}
		case css.WordValue:
			switch {
			case seenFrom:
				if from != "" || n.Value != "global" {
					return nil, "", false
				}
				from = n.Value
			case n.Value == "from":
				seenFrom = true
			default:
				classes = append(classes, n.Value)
			}
		case css.StringValue:
			if !seenFrom || from != "" {
				return nil, "", false
			}
			from = n.Value
		default:
			return nil, "", false
		}
	}
	if len(classes) == 0 || (seenFrom && from == "") {
		return nil, "", false
	}
	return classes, from, true
}

type selectorToken struct {
	tt   lexer.TokenType
	text string
}

func selectorTokens(s string) []selectorToken {
	l := lexer.NewLexer(parse.NewInputString(s))
	var toks []selectorToken
	for {
		tt, data := l.Next()
		if tt == lexer.ErrorToken {
			return toks
		}
		toks = append(toks, selectorToken{tt: tt, text: string(data)})
	}
}

// scopeSelector rewrites local class and id names of selector. It returns
// new selector and local names the selector declares.
func scopeSelector(sel string, scope func(string) string) (string, []string, error) {
	s := &selectorScoper{toks: selectorTokens(sel), scope: scope}
	var sb strings.Builder
	if err := s.run(&sb, false, false); err != nil {
		return "", nil, err
	}
	return sb.String(), s.locals, nil
}

type selectorScoper struct {
	toks   []selectorToken
	i      int
	scope  func(string) string
	locals []string
}

// run writes tokens until end of input or closing parenthesis of nested
// :global(...) / :local(...) when nested is set.
func (s *selectorScoper) run(sb *strings.Builder, global, nested bool) error {
	mode := global
	depth := 0
	for s.i < len(s.toks) {
		t := s.toks[s.i]
		s.i++

		switch t.tt {
		case lexer.CommaToken:
			if depth == 0 {
				mode = global
			}
			sb.WriteString(t.text)

		case lexer.LeftParenthesisToken, lexer.FunctionToken:
			depth++
			sb.WriteString(t.text)

		case lexer.RightParenthesisToken:
			if depth == 0 && nested {
				return nil
			}
			if depth > 0 {
				depth--
			}
			sb.WriteString(t.text)

		case lexer.ColonToken:
			if s.i >= len(s.toks) {
				sb.WriteString(t.text)
				continue
			}
			next := s.toks[s.i]
			switch {
			case next.tt == lexer.IdentToken && (next.text == "global" || next.text == "local"):
				s.i++
				mode = next.text == "global"
				// ":global .a" becomes ".a"
				if s.i < len(s.toks) && s.toks[s.i].tt == lexer.WhitespaceToken {
					s.i++
				}
			case next.tt == lexer.FunctionToken && (next.text == "global(" || next.text == "local("):
				s.i++
				if err := s.run(sb, next.text == "global(", true); err != nil {
					return err
				}
			default:
				sb.WriteString(t.text)
			}

		case lexer.DelimToken:
			if t.text == "." && s.i < len(s.toks) && s.toks[s.i].tt == lexer.IdentToken {
				name := s.toks[s.i].text
				s.i++
				sb.WriteByte('.')
				sb.WriteString(s.local(name, mode))
				continue
			}
			sb.WriteString(t.text)

		case lexer.HashToken:
			sb.WriteByte('#')
			sb.WriteString(s.local(t.text[1:], mode))

		default:
			sb.WriteString(t.text)
		}
	}
	if nested {
		return fmt.Errorf("missing closing parenthesis")
	}
	return nil
}

func (s *selectorScoper) local(name string, global bool) string {
	if global {
		return name
	}
	s.locals = append(s.locals, name)
	return s.scope(name)
}

// selectorError is a scoping failure tied to a node position.
type selectorError struct {
	err error
	pos css.Position
}

func (e *selectorError) Error() string        { return e.err.Error() }
func (e *selectorError) Unwrap() error        { return e.err }
func (e *selectorError) Location() (int, int) { return e.pos.Line, e.pos.Column }
