package schema_test

import (
	"testing"

	"github.com/mobibase/mobibase/domain/apierr"
	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/domain/schema"
)

func gameClass() schema.Class {
	return schema.Class{
		Name: "Game",
		Fields: map[string]schema.Field{
			"title":  {Type: schema.TypeString, Required: true},
			"score":  {Type: schema.TypeNumber, DefaultValue: float64(0)},
			"mode":   {Type: schema.TypeString, DefaultValue: "casual"},
			"public": {Type: schema.TypeBoolean},
		},
	}
}

func TestSnapshot(t *testing.T) {
	s := schema.NewSnapshot(gameClass())
	if !s.HasClass("Game") {
		t.Error("HasClass(Game) = false")
	}
	if s.HasClass("Other") {
		t.Error("HasClass(Other) = true")
	}
	cl, ok := s.Class("Game")
	if !ok || cl.Name != "Game" {
		t.Errorf("Class(Game) = %v, %v", cl, ok)
	}
}

func TestApplyDefaults(t *testing.T) {
	data := object.Map{"title": "chess", "mode": "ranked"}
	changed := schema.ApplyDefaults(gameClass(), data)

	if len(changed) != 1 || changed[0] != "score" {
		t.Errorf("changed = %v, want [score]", changed)
	}
	if data["score"] != float64(0) {
		t.Errorf("score = %v, want default 0", data["score"])
	}
	if data["mode"] != "ranked" {
		t.Error("provided value must not be overwritten")
	}
}

func TestApplyDefaults_UnsetShapes(t *testing.T) {
	// nil, empty string, and deletion markers all take the default.
	for _, v := range []any{nil, "", object.DeleteOp{}, map[string]any{"__op": "Delete"}} {
		data := object.Map{"title": "x", "mode": v}
		schema.ApplyDefaults(gameClass(), data)
		if data["mode"] != "casual" {
			t.Errorf("mode with unset %v = %v, want default", v, data["mode"])
		}
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	data := object.Map{"title": "x"}
	schema.ApplyDefaults(gameClass(), data)
	if changed := schema.ApplyDefaults(gameClass(), data); len(changed) != 0 {
		t.Errorf("second run changed %v, want nothing", changed)
	}
}

func TestCheckRequired_Create(t *testing.T) {
	if err := schema.CheckRequired(gameClass(), object.Map{"title": "x"}, false); err != nil {
		t.Errorf("complete payload rejected: %v", err)
	}

	err := schema.CheckRequired(gameClass(), object.Map{"score": float64(1)}, false)
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("missing required field: err = %v", err)
	}

	err = schema.CheckRequired(gameClass(), object.Map{"title": object.DeleteOp{}}, false)
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("deleted required field: err = %v", err)
	}
}

func TestCheckRequired_Update(t *testing.T) {
	// Absent means unchanged on update.
	if err := schema.CheckRequired(gameClass(), object.Map{"score": float64(2)}, true); err != nil {
		t.Errorf("update without required field rejected: %v", err)
	}
	// Explicitly unsetting a required field is still rejected.
	err := schema.CheckRequired(gameClass(), object.Map{"title": ""}, true)
	if !apierr.Is(err, apierr.CodeValidationError) {
		t.Errorf("emptied required field: err = %v", err)
	}
}

func TestValidateTypes(t *testing.T) {
	cl := schema.Class{
		Name: "T",
		Fields: map[string]schema.Field{
			"s":   {Type: schema.TypeString},
			"n":   {Type: schema.TypeNumber},
			"b":   {Type: schema.TypeBoolean},
			"o":   {Type: schema.TypeObject},
			"arr": {Type: schema.TypeArray},
			"acl": {Type: schema.TypeACL},
		},
	}

	good := object.Map{
		"s":   "x",
		"n":   float64(3),
		"b":   true,
		"o":   map[string]any{"k": "v"},
		"arr": []any{1, 2},
		"acl": map[string]any{"*": map[string]any{"read": true}},
	}
	if err := schema.ValidateTypes(cl, good); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	bad := []object.Map{
		{"s": 3},
		{"n": "three"},
		{"b": "true"},
		{"o": "not a map"},
		{"arr": "not an array"},
		{"acl": "nope"},
	}
	for _, data := range bad {
		if err := schema.ValidateTypes(cl, data); !apierr.Is(err, apierr.CodeValidationError) {
			t.Errorf("payload %v: err = %v, want validation error", data, err)
		}
	}

	// Unknown fields, nils, and deletions pass.
	ok := object.Map{"unknown": 1, "s": nil, "n": object.DeleteOp{}}
	if err := schema.ValidateTypes(cl, ok); err != nil {
		t.Errorf("lenient cases rejected: %v", err)
	}
}
