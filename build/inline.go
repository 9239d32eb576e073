package build

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"stylepipe/asset"
	"stylepipe/transform"
)

// Inline processes stylesheets embedded into HTML document with <style>
// elements and writes resulting document. Name is the document path, it is
// used to resolve references of embedded stylesheets. When CSS-Modules are
// in effect class attributes of the document are rewritten to scoped names.
func (b *Builder) Inline(ctx context.Context, r io.Reader, name string, w io.Writer) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("unable to parse html (%s): %w", name, err)
	}

	var styles []*html.Node
	for n := range doc.Descendants() {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			styles = append(styles, n)
		}
	}

	rendition := transform.Rendition{InlineHTML: true, Modules: b.settings.Modules}
	classes := make(asset.ClassMap)
	var errs error
	for i, n := range styles {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := nodeText(n)
		if len(strings.TrimSpace(text)) == 0 {
			continue
		}
		styleName := fmt.Sprintf("%s.%d.css", name, i)
		_, outputs, err := b.compile(ctx, styleName, text, rendition)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, out := range outputs {
			if out.Type != "css" {
				continue
			}
			setText(n, out.Value)
			for k, v := range out.ClassMap {
				classes[k] = v
			}
		}
	}
	if errs != nil {
		return errs
	}

	if rewritten := rewriteClasses(doc, classes); rewritten > 0 {
		b.log.Debug("Class attributes rewritten", zap.String("file", name), zap.Int("elements", rewritten))
	}
	b.log.Debug("Document processed", zap.String("file", name), zap.Int("styles", len(styles)))
	return html.Render(w, doc)
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := range n.ChildNodes() {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// rewriteClasses replaces local class names with resolved ones and returns
// number of changed elements.
func rewriteClasses(doc *html.Node, classes asset.ClassMap) int {
	if len(classes) == 0 {
		return 0
	}
	count := 0
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}
		for i, attr := range n.Attr {
			if attr.Namespace != "" || attr.Key != "class" {
				continue
			}
			var (
				names   []string
				changed bool
			)
			for _, c := range strings.Fields(attr.Val) {
				if cn, ok := classes[c]; ok && cn.Resolved {
					names = append(names, cn.Names...)
					changed = true
					continue
				}
				names = append(names, c)
			}
			if changed {
				n.Attr[i].Val = strings.Join(names, " ")
				count++
			}
		}
	}
	return count
}
