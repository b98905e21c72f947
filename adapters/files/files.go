// Package files provides the FilesController implementation that rewrites
// file-reference fields with their public URLs.
package files

import (
	"context"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// URLExpander rewrites {"__type": "File", "name": ...} values in place,
// attaching a url derived from the configured base.
type URLExpander struct {
	baseURL string
}

// NewURLExpander creates an expander serving files under baseURL.
func NewURLExpander(baseURL string) *URLExpander {
	if baseURL != "" && baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	return &URLExpander{baseURL: baseURL}
}

// ExpandFiles walks the object and attaches URLs to file references.
func (e *URLExpander) ExpandFiles(_ context.Context, obj object.Map) error {
	expand(obj, e.baseURL)
	return nil
}

func expand(v any, baseURL string) {
	switch node := v.(type) {
	case map[string]any:
		if node["__type"] == "File" {
			if name, ok := node["name"].(string); ok && name != "" {
				node["url"] = baseURL + name
			}
			return
		}
		for _, child := range node {
			expand(child, baseURL)
		}
	case []any:
		for _, child := range node {
			expand(child, baseURL)
		}
	}
}

// Ensure interface compliance.
var _ ports.FilesController = (*URLExpander)(nil)
