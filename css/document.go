package css

import (
	"fmt"
)

type docState int

const (
	stateClean docState = iota
	stateDirty
)

func (s docState) String() string {
	if s == stateDirty {
		return "dirty"
	}
	return "clean"
}

// Document is a parsed stylesheet together with its text. While clean, text
// is authoritative and Render returns it as is. Any change made through
// Document methods makes it dirty, next Render serializes the tree and makes
// it clean again.
type Document struct {
	source  string
	text    string
	root    *Root
	state   docState
	renders int
}

func newDocument(text, source string, root *Root) *Document {
	return &Document{source: source, text: text, root: root}
}

// Root returns the top level node. Tree must not be changed directly, use
// Document methods instead.
func (d *Document) Root() *Root { return d.root }

// Source returns stylesheet identity given to parser.
func (d *Document) Source() string { return d.source }

// Dirty reports whether tree was changed since last render.
func (d *Document) Dirty() bool { return d.state == stateDirty }

// Renders returns how many times tree was serialized.
func (d *Document) Renders() int { return d.renders }

// Render returns stylesheet text.
func (d *Document) Render() string {
	if d.state == stateDirty {
		d.text = d.root.String()
		d.state = stateClean
		d.renders++
	}
	return d.text
}

// Adopt replaces document content with text produced elsewhere (usually by
// a transform over the rendered text). Text is parsed strictly and becomes
// authoritative, document is left clean.
func (d *Document) Adopt(text string) error {
	nd, err := Parse(text, d.source)
	if err != nil {
		return err
	}
	d.text, d.root, d.state = text, nd.root, stateClean
	return nil
}

// Reparse renders document and parses result with p producing new clean
// document. Receiver is not changed except for render.
func (d *Document) Reparse(p Parser) (*Document, error) {
	if p == nil {
		p = Strict
	}
	nd, err := p.Parse(d.Render(), d.source)
	if err != nil {
		return nil, err
	}
	return nd, nil
}

func (d *Document) String() string {
	return fmt.Sprintf("%s (%s)", d.source, d.state)
}

func (d *Document) owns(n Node) bool {
	for ; n != nil; n = n.Parent() {
		if r, ok := n.(*Root); ok {
			return r == d.root
		}
	}
	return false
}

func (d *Document) touch() {
	d.state = stateDirty
}

// Remove detaches node from the tree. It reports false when node does not
// belong to the document.
func (d *Document) Remove(n Node) bool {
	if n == nil || !d.owns(n) {
		return false
	}
	parent := n.Parent()
	if parent == nil {
		// root itself
		return false
	}
	b := parent.body()
	i := b.indexOf(n)
	if i < 0 {
		return false
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	n.base().parent = nil
	d.touch()
	return true
}

// SetValue changes declaration value. Setting the same value is a no-op.
func (d *Document) SetValue(decl *Decl, value string) {
	if decl.value == value || !d.owns(decl) {
		return
	}
	decl.value = value
	d.touch()
}

// SetParams changes at-rule parameters.
func (d *Document) SetParams(at *AtRule, params string) {
	if at.params == params || !d.owns(at) {
		return
	}
	at.params = params
	d.touch()
}

// SetSelector changes rule selector.
func (d *Document) SetSelector(r *Rule, selector string) {
	if r.selector == selector || !d.owns(r) {
		return
	}
	r.selector = selector
	d.touch()
}

// Prepend inserts node as the first child of parent. Node attached elsewhere
// is moved.
func (d *Document) Prepend(parent Container, n Node) error {
	if err := d.attachable(parent, n); err != nil {
		return err
	}
	b := parent.body()
	nb := n.base()
	if len(b.nodes) > 0 {
		first := b.nodes[0].base()
		if nb.before == "" {
			nb.before = first.before
		}
		if first.before == "" {
			first.before = "\n"
		}
	} else if nb.before == "" && parent.Type() != RootNode {
		nb.before = "\n"
	}
	nb.parent = parent
	b.nodes = append([]Node{n}, b.nodes...)
	d.touch()
	return nil
}

// Append adds node as the last child of parent. Node attached elsewhere is
// moved.
func (d *Document) Append(parent Container, n Node) error {
	if err := d.attachable(parent, n); err != nil {
		return err
	}
	b := parent.body()
	nb := n.base()
	if len(b.nodes) > 0 {
		last := b.nodes[len(b.nodes)-1]
		if nb.before == "" {
			nb.before = last.base().before
			if nb.before == "" {
				nb.before = "\n"
			}
		}
		if ld, ok := last.(*Decl); ok && ld.term == "" {
			ld.term = ";"
		}
	} else if nb.before == "" && parent.Type() != RootNode {
		nb.before = "\n"
	}
	nb.parent = parent
	b.nodes = append(b.nodes, n)
	d.touch()
	return nil
}

func (d *Document) attachable(parent Container, n Node) error {
	if !d.owns(parent) {
		return fmt.Errorf("container %s does not belong to document %s", parent.Type(), d.source)
	}
	for p := Container(parent); p != nil; p = p.Parent() {
		if Node(p) == n {
			return fmt.Errorf("unable to insert %s into itself", n.Type())
		}
	}
	if old := n.Parent(); old != nil {
		if !d.owns(old) {
			return fmt.Errorf("%s belongs to another document", n.Type())
		}
		b := old.body()
		if i := b.indexOf(n); i >= 0 {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
		}
		n.base().parent = nil
	}
	return nil
}
