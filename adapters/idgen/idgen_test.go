package idgen_test

import (
	"regexp"
	"testing"

	"github.com/mobibase/mobibase/adapters/idgen"
)

func TestObjectID_New(t *testing.T) {
	g := idgen.ObjectID{}

	id := g.New()
	if len(id) != 10 {
		t.Fatalf("len(id) = %d, want 10", len(id))
	}

	alnum := regexp.MustCompile(`^[A-Za-z0-9]{10}$`)
	if !alnum.MatchString(id) {
		t.Errorf("id %q not alphanumeric", id)
	}
}

func TestObjectID_New_Unique(t *testing.T) {
	g := idgen.ObjectID{}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRandomString(t *testing.T) {
	s := idgen.RandomString(25)
	if len(s) != 25 {
		t.Errorf("len = %d, want 25", len(s))
	}
}

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	id := g.New()
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("id %s doesn't match UUID v4 format", id)
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("obj_")

	for i, want := range []string{"obj_1", "obj_2", "obj_3"} {
		if id := g.New(); id != want {
			t.Errorf("call %d: id = %s, want %s", i, id, want)
		}
	}
}

func TestSequential_Reset(t *testing.T) {
	g := idgen.NewSequential("id_")

	g.New()
	g.New()
	g.Reset()

	if id := g.New(); id != "id_1" {
		t.Errorf("after reset id = %s, want id_1", id)
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	g := idgen.NewSequential("c_")

	done := make(chan bool)
	ids := make(chan string, 1000)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				ids <- g.New()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique ids, got %d", len(seen))
	}
}
