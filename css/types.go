package css

import (
	"fmt"
	"strings"
)

// Position is a location in stylesheet source. Line and Column are 1-based,
// Offset is a byte offset.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// NodeType identifies the kind of a stylesheet tree node.
type NodeType int

const (
	RootNode    NodeType = iota // whole stylesheet
	RuleNode                    // selector { ... }
	AtRuleNode                  // @name params; or @name params { ... }
	DeclNode                    // prop: value
	CommentNode                 // /* ... */
)

func (t NodeType) String() string {
	switch t {
	case RootNode:
		return "root"
	case RuleNode:
		return "rule"
	case AtRuleNode:
		return "atrule"
	case DeclNode:
		return "decl"
	case CommentNode:
		return "comment"
	default:
		return "unknown"
	}
}

// Node is a single element of a stylesheet tree. Nodes are read-only for
// everybody except the owning Document, which is the only way to change them.
type Node interface {
	Type() NodeType
	Parent() Container
	Source() Position
	// String returns the node text without leading whitespace.
	String() string

	base() *nodeBase
	write(sb *strings.Builder)
}

// Container is a node which may hold child nodes.
type Container interface {
	Node
	Nodes() []Node

	body() *block
}

type nodeBase struct {
	parent Container
	pos    Position
	before string // raw text preceding the node (whitespace, stray semicolons)
}

func (b *nodeBase) base() *nodeBase   { return b }
func (b *nodeBase) Parent() Container { return b.parent }
func (b *nodeBase) Source() Position  { return b.pos }

// block is the list of child nodes plus raw text before the closing brace
// (or before the end of input for root).
type block struct {
	nodes []Node
	after string
}

func (b *block) write(sb *strings.Builder) {
	for _, n := range b.nodes {
		n.write(sb)
	}
	sb.WriteString(b.after)
}

func (b *block) indexOf(n Node) int {
	for i, c := range b.nodes {
		if c == n {
			return i
		}
	}
	return -1
}

// Root is the top level node of a stylesheet.
type Root struct {
	nodeBase
	children block
}

func (r *Root) Type() NodeType { return RootNode }
func (r *Root) Nodes() []Node  { return r.children.nodes }
func (r *Root) body() *block   { return &r.children }

func (r *Root) write(sb *strings.Builder) {
	r.children.write(sb)
}

func (r *Root) String() string {
	var sb strings.Builder
	r.write(&sb)
	return sb.String()
}

// Rule is a qualified rule: selector followed by a block.
type Rule struct {
	nodeBase
	selector string
	between  string // raw text between selector and "{"
	children block
}

func (r *Rule) Type() NodeType   { return RuleNode }
func (r *Rule) Nodes() []Node    { return r.children.nodes }
func (r *Rule) Selector() string { return r.selector }
func (r *Rule) body() *block     { return &r.children }

func (r *Rule) write(sb *strings.Builder) {
	sb.WriteString(r.before)
	sb.WriteString(r.selector)
	sb.WriteString(r.between)
	sb.WriteByte('{')
	r.children.write(sb)
	sb.WriteByte('}')
}

func (r *Rule) String() string { return nodeString(r) }

// AtRule is an at-rule with or without a block.
type AtRule struct {
	nodeBase
	name      string
	afterName string // raw text between name and params
	params    string
	between   string // raw text between params and "{" or ";"
	term      string // ";" when statement was terminated explicitly
	children  *block // nil for statements without a block
}

func (a *AtRule) Type() NodeType { return AtRuleNode }
func (a *AtRule) Name() string   { return a.name }
func (a *AtRule) Params() string { return a.params }

// HasBlock reports whether the at-rule has a { ... } body.
func (a *AtRule) HasBlock() bool { return a.children != nil }

func (a *AtRule) Nodes() []Node {
	if a.children == nil {
		return nil
	}
	return a.children.nodes
}

func (a *AtRule) body() *block {
	if a.children == nil {
		a.children = &block{}
	}
	return a.children
}

func (a *AtRule) write(sb *strings.Builder) {
	sb.WriteString(a.before)
	sb.WriteByte('@')
	sb.WriteString(a.name)
	afterName := a.afterName
	if afterName == "" && a.params != "" && a.params[0] != '(' {
		afterName = " "
	}
	sb.WriteString(afterName)
	sb.WriteString(a.params)
	sb.WriteString(a.between)
	if a.children != nil {
		sb.WriteByte('{')
		a.children.write(sb)
		sb.WriteByte('}')
		return
	}
	sb.WriteString(a.term)
}

func (a *AtRule) String() string { return nodeString(a) }

// Decl is a property declaration.
type Decl struct {
	nodeBase
	prop       string
	between    string // raw text between property and value, includes ":"
	value      string
	important  string // raw "!important" suffix including preceding whitespace
	afterValue string
	term       string
}

func (d *Decl) Type() NodeType { return DeclNode }
func (d *Decl) Prop() string   { return d.prop }
func (d *Decl) Value() string  { return d.value }

// Important reports whether declaration carries !important flag.
func (d *Decl) Important() bool { return d.important != "" }

func (d *Decl) write(sb *strings.Builder) {
	sb.WriteString(d.before)
	sb.WriteString(d.prop)
	sb.WriteString(d.between)
	sb.WriteString(d.value)
	sb.WriteString(d.important)
	sb.WriteString(d.afterValue)
	sb.WriteString(d.term)
}

func (d *Decl) String() string { return nodeString(d) }

// Comment is a /* ... */ comment.
type Comment struct {
	nodeBase
	raw string // including delimiters
}

func (c *Comment) Type() NodeType { return CommentNode }

// Text returns comment content without delimiters.
func (c *Comment) Text() string {
	s := strings.TrimPrefix(c.raw, "/*")
	return strings.TrimSuffix(s, "*/")
}

func (c *Comment) write(sb *strings.Builder) {
	sb.WriteString(c.before)
	sb.WriteString(c.raw)
}

func (c *Comment) String() string { return nodeString(c) }

// NewComment creates detached comment node with given content.
func NewComment(text string) *Comment {
	return &Comment{raw: "/*" + text + "*/"}
}

// NewDecl creates detached declaration node.
func NewDecl(prop, value string) *Decl {
	return &Decl{prop: prop, between: ": ", value: value, term: ";"}
}

func nodeString(n Node) string {
	var sb strings.Builder
	n.write(&sb)
	return strings.TrimPrefix(sb.String(), n.base().before)
}

// Walk visits every node below c in document order. Nodes removed while
// walking are not visited. Returning an error stops the walk.
func Walk(c Container, fn func(Node) error) error {
	nodes := append([]Node(nil), c.Nodes()...)
	for _, n := range nodes {
		if n.Parent() != c {
			// removed or moved during walk
			continue
		}
		if err := fn(n); err != nil {
			return err
		}
		if cc, ok := n.(Container); ok && n.Parent() == c {
			if err := Walk(cc, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkRules visits every rule below c.
func WalkRules(c Container, fn func(*Rule) error) error {
	return Walk(c, func(n Node) error {
		if r, ok := n.(*Rule); ok {
			return fn(r)
		}
		return nil
	})
}

// WalkDecls visits every declaration below c.
func WalkDecls(c Container, fn func(*Decl) error) error {
	return Walk(c, func(n Node) error {
		if d, ok := n.(*Decl); ok {
			return fn(d)
		}
		return nil
	})
}

// WalkAtRules visits at-rules below c. Empty name matches all at-rules,
// otherwise name is compared case-insensitively.
func WalkAtRules(c Container, name string, fn func(*AtRule) error) error {
	return Walk(c, func(n Node) error {
		if a, ok := n.(*AtRule); ok && (name == "" || strings.EqualFold(a.name, name)) {
			return fn(a)
		}
		return nil
	})
}

// WalkComments visits every comment below c.
func WalkComments(c Container, fn func(*Comment) error) error {
	return Walk(c, func(n Node) error {
		if cm, ok := n.(*Comment); ok {
			return fn(cm)
		}
		return nil
	})
}
