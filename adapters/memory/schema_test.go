package memory_test

import (
	"context"
	"testing"

	"github.com/mobibase/mobibase/adapters/memory"
	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/schema"
)

func TestSchemaController_Builtins(t *testing.T) {
	c := memory.NewSchemaController()
	snap, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"_User", "_Session", "_Installation", "_Role", "_Product"} {
		if !snap.HasClass(name) {
			t.Errorf("built-in class %s missing", name)
		}
	}
	if snap.HasClass("Game") {
		t.Error("unregistered class should be absent")
	}
}

func TestSchemaController_AddClass(t *testing.T) {
	c := memory.NewSchemaController()
	c.AddClass(schema.Class{
		Name: "Game",
		Fields: map[string]schema.Field{
			"title": {Type: schema.TypeString, Required: true},
		},
	})

	snap, _ := c.Load(context.Background())
	if !snap.HasClass("Game") {
		t.Fatal("added class missing from snapshot")
	}
}

func TestSchemaController_ValidateObject(t *testing.T) {
	c := memory.NewSchemaController(schema.Class{
		Name: "Game",
		Fields: map[string]schema.Field{
			"title": {Type: schema.TypeString},
		},
	})
	ctx := context.Background()

	if err := c.ValidateObject(ctx, "Game", object.Map{"title": "chess"}); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	err := c.ValidateObject(ctx, "Game", object.Map{"title": 42})
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("type mismatch: err = %v", err)
	}
	// Unknown classes validate trivially.
	if err := c.ValidateObject(ctx, "Unknown", object.Map{"anything": 1}); err != nil {
		t.Errorf("unknown class rejected: %v", err)
	}
}
