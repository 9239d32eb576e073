package build

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/maruel/natural"

	"stylepipe/asset"
	"stylepipe/source"
	"stylepipe/transform"
)

// Deps lists dependencies of stylesheets found in inputs. Stylesheets are
// listed in natural order of their names, dependencies in order of
// appearance.
func (b *Builder) Deps(ctx context.Context, inputs []string, w io.Writer) error {
	var (
		mu    sync.Mutex
		found = make(map[string][]asset.Dependency)
	)
	_, err := b.forEach(ctx, inputs, func(_ context.Context, f source.File) error {
		data, err := f.ReadAll()
		if err != nil {
			return fmt.Errorf("unable to read stylesheet (%s): %w", f.Name, err)
		}
		a := b.newAsset(f.Name, string(data), transform.Rendition{})
		if err := a.Parse(); err != nil {
			return b.failure(f.Name, string(data), err)
		}
		if err := a.CollectDependencies(); err != nil {
			return b.failure(f.Name, string(data), err)
		}
		mu.Lock()
		found[f.Rel] = a.Dependencies()
		mu.Unlock()
		return nil
	})

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Sort(natural.StringSlice(names))

	for _, name := range names {
		if _, werr := fmt.Fprintln(w, name); werr != nil {
			return werr
		}
		for _, d := range found[name] {
			if _, werr := fmt.Fprintln(w, formatDependency(d)); werr != nil {
				return werr
			}
		}
	}
	return err
}

func formatDependency(d asset.Dependency) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  %-8s %s", d.Kind, d.Specifier)
	if len(d.Media) > 0 {
		fmt.Fprintf(&sb, " [%s]", d.Media)
	}
	if d.Loc.Line > 0 {
		fmt.Fprintf(&sb, " (%d:%d)", d.Loc.Line, d.Loc.Column)
	}
	if len(d.Resolved) > 0 {
		sb.WriteString(" -> " + d.Resolved)
	}
	return sb.String()
}
