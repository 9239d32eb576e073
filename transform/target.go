package transform

import (
	"stylepipe/css"
)

// Rendition describes requested output variant of an asset.
type Rendition struct {
	// InlineHTML is set when stylesheet is embedded into markup, imports
	// must not be merged then.
	InlineHTML bool
	// Modules forces CSS-Modules resolution.
	Modules bool
}

// Target is an asset pipeline runs over. Pipeline replaces its document
// and class mapping, everything else is read-only.
type Target interface {
	// Name is the asset file path, used for configuration lookup, plugin
	// resolution and diagnostics.
	Name() string
	Document() *css.Document
	SetDocument(doc *css.Document)
	// SetClassMap receives local class names resolved by CSS-Modules
	// plugin, replacing anything collected before.
	SetClassMap(m map[string]string)
	Rendition() Rendition
	// Minify reports global minification intent.
	Minify() bool
}
