package css

import (
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// ValueNodeType identifies kind of a declaration value component.
type ValueNodeType int

const (
	WordValue     ValueNodeType = iota // identifiers, numbers, hashes, operators
	StringValue                        // quoted string, Value has no quotes
	FunctionValue                      // name(...), Value is the name
	SpaceValue                         // whitespace between components
	DivValue                           // "," "/" or ":" with surrounding whitespace
	CommentValue                       // /* ... */, Value has no delimiters
)

// ValueNode is a single component of a declaration value or at-rule
// parameters.
type ValueNode struct {
	Type  ValueNodeType
	Value string
	// Quote is the quote character of a string node.
	Quote byte
	// Before and After hold whitespace around div nodes and inside the
	// parentheses of function nodes.
	Before string
	After  string
	// Nodes are arguments of a function node.
	Nodes []*ValueNode
	// Unclosed is set for strings, comments and functions which run to the
	// end of input.
	Unclosed bool
}

func (n *ValueNode) write(sb *strings.Builder) {
	switch n.Type {
	case StringValue:
		sb.WriteByte(n.Quote)
		sb.WriteString(n.Value)
		if !n.Unclosed {
			sb.WriteByte(n.Quote)
		}
	case FunctionValue:
		sb.WriteString(n.Value)
		sb.WriteByte('(')
		sb.WriteString(n.Before)
		for _, c := range n.Nodes {
			c.write(sb)
		}
		sb.WriteString(n.After)
		if !n.Unclosed {
			sb.WriteByte(')')
		}
	case DivValue:
		sb.WriteString(n.Before)
		sb.WriteString(n.Value)
		sb.WriteString(n.After)
	case CommentValue:
		sb.WriteString("/*")
		sb.WriteString(n.Value)
		if !n.Unclosed {
			sb.WriteString("*/")
		}
	default:
		sb.WriteString(n.Value)
	}
}

func (n *ValueNode) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

// Value is a parsed declaration value.
type Value struct {
	Nodes []*ValueNode
}

// String serializes value back to text. Unmodified value produces exactly
// the text it was parsed from.
func (v *Value) String() string {
	var sb strings.Builder
	for _, n := range v.Nodes {
		n.write(&sb)
	}
	return sb.String()
}

// Walk visits nodes depth first. When fn returns false arguments of a
// function node are not visited.
func (v *Value) Walk(fn func(*ValueNode) bool) {
	walkValue(v.Nodes, fn)
}

func walkValue(nodes []*ValueNode, fn func(*ValueNode) bool) {
	for _, n := range nodes {
		if fn(n) && n.Type == FunctionValue {
			walkValue(n.Nodes, fn)
		}
	}
}

// ParseValue splits declaration value into components. It never fails,
// text the lexer does not understand becomes a word.
func ParseValue(s string) *Value {
	vp := &valueParser{toks: valueTokens(s)}
	nodes, _ := vp.nodes(false)
	return &Value{Nodes: nodes}
}

func valueTokens(s string) []token {
	l := css.NewLexer(parse.NewInputString(s))
	var (
		toks []token
		off  int
	)
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if off < len(s) {
				toks = append(toks, token{tt: css.DelimToken, text: s[off:]})
			}
			return toks
		}
		toks = append(toks, token{tt: tt, text: string(data)})
		off += len(data)
	}
}

type valueParser struct {
	toks []token
	i    int
}

// nodes reads components until closing parenthesis (inFunc) or end of
// input. Second result reports whether closing parenthesis was found.
func (p *valueParser) nodes(inFunc bool) ([]*ValueNode, bool) {
	var (
		out  []*ValueNode
		word strings.Builder
	)
	flush := func() {
		if word.Len() > 0 {
			out = append(out, &ValueNode{Type: WordValue, Value: word.String()})
			word.Reset()
		}
	}

	for p.i < len(p.toks) {
		t := p.toks[p.i]
		p.i++

		switch t.tt {
		case css.WhitespaceToken:
			flush()
			out = append(out, &ValueNode{Type: SpaceValue, Value: t.text})

		case css.CommaToken, css.ColonToken:
			flush()
			out = p.div(out, t.text)

		case css.DelimToken:
			if t.text != "/" {
				word.WriteString(t.text)
				continue
			}
			flush()
			out = p.div(out, t.text)

		case css.StringToken, css.BadStringToken:
			flush()
			out = append(out, stringNode(t.text))

		case css.CommentToken:
			flush()
			c := &ValueNode{Type: CommentValue, Value: strings.TrimPrefix(t.text, "/*")}
			if strings.HasSuffix(c.Value, "*/") {
				c.Value = strings.TrimSuffix(c.Value, "*/")
			} else {
				c.Unclosed = true
			}
			out = append(out, c)

		case css.URLToken:
			flush()
			out = append(out, urlNode(t.text))

		case css.FunctionToken, css.LeftParenthesisToken:
			flush()
			fn := &ValueNode{Type: FunctionValue, Value: strings.TrimSuffix(t.text, "(")}
			args, closed := p.nodes(true)
			fn.Unclosed = !closed
			fn.Before, fn.After, fn.Nodes = trimSpaceNodes(args)
			out = append(out, fn)

		case css.RightParenthesisToken:
			if inFunc {
				flush()
				return out, true
			}
			word.WriteString(t.text)

		default:
			word.WriteString(t.text)
		}
	}
	flush()
	return out, !inFunc
}

func (p *valueParser) div(out []*ValueNode, sep string) []*ValueNode {
	d := &ValueNode{Type: DivValue, Value: sep}
	if n := len(out); n > 0 && out[n-1].Type == SpaceValue {
		d.Before = out[n-1].Value
		out = out[:n-1]
	}
	if p.i < len(p.toks) && p.toks[p.i].tt == css.WhitespaceToken {
		d.After = p.toks[p.i].text
		p.i++
	}
	return append(out, d)
}

func trimSpaceNodes(nodes []*ValueNode) (string, string, []*ValueNode) {
	var before, after string
	if len(nodes) > 0 && nodes[0].Type == SpaceValue {
		before = nodes[0].Value
		nodes = nodes[1:]
	}
	if n := len(nodes); n > 0 && nodes[n-1].Type == SpaceValue {
		after = nodes[n-1].Value
		nodes = nodes[:n-1]
	}
	return before, after, nodes
}

func stringNode(raw string) *ValueNode {
	n := &ValueNode{Type: StringValue, Quote: raw[0]}
	body := raw[1:]
	if len(body) > 0 && body[len(body)-1] == n.Quote && !escaped(body, len(body)-1) {
		n.Value = body[:len(body)-1]
	} else {
		n.Value = body
		n.Unclosed = true
	}
	return n
}

// escaped reports whether character at i is preceded by odd number of
// backslashes.
func escaped(s string, i int) bool {
	k := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		k++
	}
	return k%2 == 1
}

// urlNode turns url(...) token into a function node with single word or
// string argument.
func urlNode(raw string) *ValueNode {
	open := strings.IndexByte(raw, '(')
	fn := &ValueNode{Type: FunctionValue, Value: raw[:open]}
	inner := raw[open+1:]
	if strings.HasSuffix(inner, ")") {
		inner = inner[:len(inner)-1]
	} else {
		fn.Unclosed = true
	}

	core := strings.TrimLeft(inner, " \t\n\r\f")
	fn.Before = inner[:len(inner)-len(core)]
	trimmed := strings.TrimRight(core, " \t\n\r\f")
	fn.After = core[len(trimmed):]
	core = trimmed

	switch {
	case core == "":
	case core[0] == '"' || core[0] == '\'':
		fn.Nodes = []*ValueNode{stringNode(core)}
	default:
		fn.Nodes = []*ValueNode{{Type: WordValue, Value: core}}
	}
	return fn
}
