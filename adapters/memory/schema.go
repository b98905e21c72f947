package memory

import (
	"context"
	"sync"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/schema"
	"github.com/mobibase/mobibase/ports"
)

// SchemaController serves schema snapshots from memory. Classes are
// registered up front (or lazily on first write of a new class).
type SchemaController struct {
	mu      sync.Mutex
	classes map[string]schema.Class
}

// NewSchemaController creates a controller holding the given classes.
// The built-in classes are always present.
func NewSchemaController(classes ...schema.Class) *SchemaController {
	c := &SchemaController{classes: make(map[string]schema.Class)}
	for _, builtin := range []string{"_User", "_Session", "_Installation", "_Role", "_Product"} {
		c.classes[builtin] = schema.Class{Name: builtin, Fields: map[string]schema.Field{}}
	}
	for _, cl := range classes {
		c.classes[cl.Name] = cl
	}
	return c
}

// AddClass registers or replaces a class definition.
func (c *SchemaController) AddClass(cl schema.Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[cl.Name] = cl
}

// Load returns an immutable snapshot of the current classes.
func (c *SchemaController) Load(context.Context) (*schema.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]schema.Class, 0, len(c.classes))
	for _, cl := range c.classes {
		all = append(all, cl)
	}
	return schema.NewSnapshot(all...), nil
}

// ValidateObject checks payload types against the class schema. Unknown
// classes validate trivially; they are created on first write.
func (c *SchemaController) ValidateObject(_ context.Context, className string, data object.Map) error {
	c.mu.Lock()
	cl, ok := c.classes[className]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return schema.ValidateTypes(cl, data)
}

// Ensure interface compliance.
var _ ports.SchemaController = (*SchemaController)(nil)
