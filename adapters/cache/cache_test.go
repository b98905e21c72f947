package cache_test

import (
	"testing"
	"time"

	"github.com/mobibase/mobibase/adapters/cache"
	"github.com/mobibase/mobibase/domain/object"
)

func TestStore_UserRoundTrip(t *testing.T) {
	s := cache.New(time.Minute)

	if _, ok := s.GetUser("r:tok"); ok {
		t.Error("empty cache should miss")
	}

	s.PutUser("r:tok", object.Map{"objectId": "u1"})
	user, ok := s.GetUser("r:tok")
	if !ok || object.String(user, "objectId") != "u1" {
		t.Errorf("GetUser = %v, %v", user, ok)
	}

	s.DropUserToken("r:tok")
	if _, ok := s.GetUser("r:tok"); ok {
		t.Error("dropped token should miss")
	}
}

func TestStore_UserExpiry(t *testing.T) {
	s := cache.New(time.Millisecond)
	s.PutUser("r:tok", object.Map{"objectId": "u1"})

	time.Sleep(5 * time.Millisecond)
	if _, ok := s.GetUser("r:tok"); ok {
		t.Error("expired entry should miss")
	}
}

func TestStore_Roles(t *testing.T) {
	s := cache.New(time.Minute)

	if _, ok := s.GetRoles("u1"); ok {
		t.Error("empty cache should miss")
	}

	s.PutRoles("u1", []string{"admin", "staff"})
	names, ok := s.GetRoles("u1")
	if !ok || len(names) != 2 || names[0] != "admin" {
		t.Errorf("GetRoles = %v, %v", names, ok)
	}

	s.ClearRoles()
	if _, ok := s.GetRoles("u1"); ok {
		t.Error("cleared roles should miss")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := cache.New(time.Minute)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				s.PutUser("r:tok", object.Map{"objectId": "u1"})
				s.GetUser("r:tok")
				s.DropUserToken("r:tok")
				s.PutRoles("u1", []string{"a"})
				s.GetRoles("u1")
				s.ClearRoles()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
