package transform

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"

	"stylepipe/css"
)

// stripComments removes comments except the ones marked important with
// "/*!".
type stripComments struct{}

func newStripComments(map[string]any) (Plugin, error) {
	return stripComments{}, nil
}

func (stripComments) Name() string { return "strip-comments" }

func (stripComments) Transform(_ context.Context, doc *css.Document, _ *ProcessOptions) (*css.Document, error) {
	err := css.WalkComments(doc.Root(), func(c *css.Comment) error {
		if !strings.HasPrefix(c.Text(), "!") {
			doc.Remove(c)
		}
		return nil
	})
	return doc, err
}

// bannerValues are available to banner template.
type bannerValues struct {
	File string // base name of the stylesheet
	Name string // stylesheet path as given to pipeline
}

// banner prepends comment produced from template.
type banner struct {
	tmpl *template.Template
}

func newBanner(opts map[string]any) (Plugin, error) {
	text, ok := opts["text"].(string)
	if !ok || text == "" {
		return nil, fmt.Errorf("option \"text\" is required")
	}
	tmpl, err := template.New("banner").Funcs(sprig.FuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("unable to parse banner template: %w", err)
	}
	return &banner{tmpl: tmpl}, nil
}

func (b *banner) Name() string { return "banner" }

func (b *banner) Transform(_ context.Context, doc *css.Document, po *ProcessOptions) (*css.Document, error) {
	values := &bannerValues{File: filepath.Base(po.From), Name: po.From}

	buf := new(bytes.Buffer)
	if err := b.tmpl.Execute(buf, values); err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(buf.String(), "*/", "* /")

	// do not stack banners when stylesheet is processed again
	if nodes := doc.Root().Nodes(); len(nodes) > 0 {
		if c, ok := nodes[0].(*css.Comment); ok && c.Text() == " "+text+" " {
			return doc, nil
		}
	}
	if err := doc.Prepend(doc.Root(), css.NewComment(" "+text+" ")); err != nil {
		return nil, err
	}
	return doc, nil
}

// prefixSelectors prepends every rule selector with configured prefix.
type prefixSelectors struct {
	prefix string
}

func newPrefixSelectors(opts map[string]any) (Plugin, error) {
	prefix, ok := opts["prefix"].(string)
	if !ok || strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("option \"prefix\" is required")
	}
	return &prefixSelectors{prefix: strings.TrimSpace(prefix)}, nil
}

func (p *prefixSelectors) Name() string { return "prefix-selectors" }

func (p *prefixSelectors) Transform(_ context.Context, doc *css.Document, _ *ProcessOptions) (*css.Document, error) {
	err := css.WalkRules(doc.Root(), func(r *css.Rule) error {
		if insideKeyframes(r) {
			return nil
		}
		parts := splitSelectors(r.Selector())
		for i, part := range parts {
			sel := strings.TrimSpace(part)
			if sel == p.prefix || strings.HasPrefix(sel, p.prefix+" ") {
				continue
			}
			lead := part[:len(part)-len(strings.TrimLeft(part, " \t\r\n"))]
			parts[i] = lead + p.prefix + " " + strings.TrimLeft(part, " \t\r\n")
		}
		doc.SetSelector(r, strings.Join(parts, ","))
		return nil
	})
	return doc, err
}

// splitSelectors splits selector list on top level commas.
func splitSelectors(sel string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(sel); i++ {
		c := sel[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, sel[start:i])
			start = i + 1
		}
	}
	return append(parts, sel[start:])
}
