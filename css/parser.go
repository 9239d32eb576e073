package css

import (
	"strings"
	"unicode/utf8"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Parser builds a Document from stylesheet text.
type Parser interface {
	Parse(text, source string) (*Document, error)
}

// ParserFunc adapts ordinary function to Parser interface.
type ParserFunc func(text, source string) (*Document, error)

func (f ParserFunc) Parse(text, source string) (*Document, error) {
	return f(text, source)
}

var (
	// Strict fails on malformed input.
	Strict Parser = ParserFunc(Parse)
	// Lenient repairs malformed input instead of failing.
	Lenient Parser = ParserFunc(ParseLenient)
)

// Parse parses stylesheet text into a Document. Malformed input results in
// *SyntaxError. The optional source identifies the stylesheet in errors.
func Parse(text, source string) (*Document, error) {
	return parseText(text, source, false)
}

// ParseLenient parses stylesheet text, closing unterminated blocks and
// dropping text it cannot make sense of. It fails only when the tokenizer
// itself cannot proceed. Repaired document is returned dirty, so Render
// produces the fixed text.
func ParseLenient(text, source string) (*Document, error) {
	return parseText(text, source, true)
}

func parseText(text, source string, lenient bool) (*Document, error) {
	toks, err := tokenize(text, source)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, source: source, toks: toks, lenient: lenient}
	if !lenient {
		if err := p.checkTokens(); err != nil {
			return nil, err
		}
	}
	root := &Root{}
	if err := p.parseBlock(&root.children, root, nil); err != nil {
		return nil, err
	}
	doc := newDocument(text, source, root)
	if p.repaired {
		// text no longer matches the tree
		doc.state = stateDirty
	}
	return doc, nil
}

type token struct {
	tt   css.TokenType
	text string
	pos  Position
}

// tokenize splits text with tdewolff lexer. Tokens cover input completely,
// so joining them reproduces the source.
func tokenize(text, source string) ([]token, error) {
	l := css.NewLexer(parse.NewInputString(text))
	pos := Position{Line: 1, Column: 1}

	toks := make([]token, 0, len(text)/4)
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if pos.Offset >= len(text) {
				break
			}
			return nil, newSyntaxError(text, source, pos.Offset, "Unexpected character")
		}
		t := token{tt: tt, text: string(data), pos: pos}
		toks = append(toks, t)
		pos = advance(pos, t.text)
	}
	return toks, nil
}

func advance(pos Position, s string) Position {
	pos.Offset += len(s)
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r == '\n' {
			pos.Line++
			pos.Column = 1
			continue
		}
		pos.Column++
	}
	return pos
}

func join(toks []token) string {
	switch len(toks) {
	case 0:
		return ""
	case 1:
		return toks[0].text
	}
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.text)
	}
	return sb.String()
}

func isSpace(t token) bool {
	return t.tt == css.WhitespaceToken
}

func trimSpaceRight(toks []token) int {
	m := len(toks)
	for m > 0 && isSpace(toks[m-1]) {
		m--
	}
	return m
}

type parser struct {
	text    string
	source  string
	toks    []token
	i       int
	lenient bool
	// repaired is set when lenient parser had to fix the input
	repaired bool
}

// fail returns syntax error in strict mode and nil in lenient mode, where
// the caller is expected to recover.
func (p *parser) fail(pos Position, reason string) error {
	if p.lenient {
		p.repaired = true
		return nil
	}
	return newSyntaxError(p.text, p.source, pos.Offset, reason)
}

func (p *parser) checkTokens() error {
	for _, t := range p.toks {
		switch t.tt {
		case css.BadStringToken:
			return p.fail(t.pos, "Unclosed string")
		case css.BadURLToken:
			return p.fail(t.pos, "Malformed url()")
		}
	}
	return nil
}

func (p *parser) add(b *block, parent Container, n Node) {
	n.base().parent = parent
	b.nodes = append(b.nodes, n)
}

// parseBlock reads nodes until closing brace (open != nil) or end of input.
func (p *parser) parseBlock(b *block, parent Container, open *token) error {
	var before strings.Builder
	for {
		if p.i >= len(p.toks) {
			if open != nil {
				if err := p.fail(open.pos, "Unclosed block"); err != nil {
					return err
				}
			}
			b.after = before.String()
			return nil
		}

		t := p.toks[p.i]
		switch t.tt {
		case css.WhitespaceToken, css.CDOToken, css.CDCToken, css.SemicolonToken:
			before.WriteString(t.text)
			p.i++

		case css.CommentToken:
			p.add(b, parent, &Comment{nodeBase: nodeBase{pos: t.pos, before: before.String()}, raw: t.text})
			before.Reset()
			p.i++

		case css.RightBraceToken:
			p.i++
			if open == nil {
				if err := p.fail(t.pos, "Unexpected }"); err != nil {
					return err
				}
				continue
			}
			b.after = before.String()
			return nil

		case css.AtKeywordToken:
			if err := p.parseAtRule(b, parent, before.String()); err != nil {
				return err
			}
			before.Reset()

		default:
			added, err := p.parseStatement(b, parent, before.String(), open != nil)
			if err != nil {
				return err
			}
			if added {
				before.Reset()
			}
		}
	}
}

// scan finds the end of statement starting at current position: top level
// semicolon, any brace, or end of input.
func (p *parser) scan() (int, css.TokenType) {
	depth := 0
	for i := p.i; i < len(p.toks); i++ {
		switch p.toks[i].tt {
		case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		case css.SemicolonToken:
			if depth == 0 {
				return i, css.SemicolonToken
			}
		case css.LeftBraceToken, css.RightBraceToken:
			return i, p.toks[i].tt
		}
	}
	return len(p.toks), css.ErrorToken
}

func (p *parser) parseAtRule(b *block, parent Container, before string) error {
	t := p.toks[p.i]
	p.i++

	node := &AtRule{nodeBase: nodeBase{pos: t.pos, before: before}, name: t.text[1:]}

	end, term := p.scan()
	toks := p.toks[p.i:end]
	k := 0
	for k < len(toks) && isSpace(toks[k]) {
		k++
	}
	node.afterName = join(toks[:k])
	rest := toks[k:]
	m := trimSpaceRight(rest)
	node.params = join(rest[:m])
	node.between = join(rest[m:])
	p.i = end

	switch term {
	case css.LeftBraceToken:
		open := p.toks[p.i]
		p.i++
		node.children = &block{}
		p.add(b, parent, node)
		return p.parseBlock(node.children, node, &open)
	case css.SemicolonToken:
		node.term = ";"
		p.i++
	}
	p.add(b, parent, node)
	return nil
}

// parseStatement handles rule or (inside a block) declaration. It reports
// whether a node was added.
func (p *parser) parseStatement(b *block, parent Container, before string, inBlock bool) (bool, error) {
	start := p.i
	pos := p.toks[start].pos
	end, term := p.scan()
	toks := p.toks[start:end]

	if len(toks) == 0 {
		// "{" without selector
		if err := p.fail(pos, "Unknown word"); err != nil {
			return false, err
		}
	}

	if term == css.LeftBraceToken {
		m := trimSpaceRight(toks)
		rule := &Rule{
			nodeBase: nodeBase{pos: pos, before: before},
			selector: join(toks[:m]),
			between:  join(toks[m:]),
		}
		open := p.toks[end]
		p.i = end + 1
		p.add(b, parent, rule)
		return true, p.parseBlock(&rule.children, rule, &open)
	}

	if inBlock {
		declToks, next := toks, end+1
		if term != css.SemicolonToken {
			// trailing whitespace belongs to the enclosing block
			declToks = toks[:trimSpaceRight(toks)]
			next = start + len(declToks)
		}
		if d := declaration(declToks, before); d != nil {
			if term == css.SemicolonToken {
				d.term = ";"
			}
			p.i = next
			p.add(b, parent, d)
			return true, nil
		}
	}

	if err := p.fail(pos, "Unknown word"); err != nil {
		return false, err
	}
	p.i = end
	if term == css.SemicolonToken {
		p.i++
	}
	return false, nil
}

func declaration(toks []token, before string) *Decl {
	colon := -1
	for i, t := range toks {
		if t.tt == css.ColonToken {
			colon = i
			break
		}
	}
	if colon < 0 {
		return nil
	}
	propEnd := trimSpaceRight(toks[:colon])
	if propEnd == 0 {
		return nil
	}
	for _, t := range toks[:propEnd] {
		if isSpace(t) {
			return nil
		}
	}

	valStart := colon + 1
	for valStart < len(toks) && isSpace(toks[valStart]) {
		valStart++
	}
	vals := toks[valStart:]
	m := trimSpaceRight(vals)
	d := &Decl{
		nodeBase:   nodeBase{pos: toks[0].pos, before: before},
		prop:       join(toks[:propEnd]),
		between:    join(toks[propEnd:valStart]),
		afterValue: join(vals[m:]),
	}
	vals = vals[:m]

	// trailing "! important"
	if n := len(vals); n >= 2 && vals[n-1].tt == css.IdentToken && strings.EqualFold(vals[n-1].text, "important") {
		j := n - 2
		for j >= 0 && isSpace(vals[j]) {
			j--
		}
		if j >= 0 && vals[j].tt == css.DelimToken && vals[j].text == "!" {
			k := trimSpaceRight(vals[:j])
			d.important = join(vals[k:])
			vals = vals[:k]
		}
	}
	d.value = join(vals)
	return d
}
