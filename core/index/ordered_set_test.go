package index

import (
	"fmt"
	"reflect"
	"testing"
)

func TestOrderedSetBasics(t *testing.T) {
	s := NewOrderedSet()

	t.Run("add and position", func(t *testing.T) {
		s.Add("a")
		s.Add("b")
		s.Add("c")
		if s.Len() != 3 {
			t.Fatalf("len = %d", s.Len())
		}
		// c is newest: position 0
		for i, id := range []string{"c", "b", "a"} {
			pos, ok := s.PositionOf(id)
			if !ok || pos != i {
				t.Errorf("PositionOf(%s) = %d,%v want %d,true", id, pos, ok, i)
			}
		}
	})

	t.Run("add is no-op when present", func(t *testing.T) {
		if s.Add("b") {
			t.Error("re-add should report false")
		}
		if pos, _ := s.PositionOf("b"); pos != 1 {
			t.Errorf("re-add moved b to %d", pos)
		}
	})

	t.Run("move to front", func(t *testing.T) {
		s.MoveToFront("a")
		if pos, _ := s.PositionOf("a"); pos != 0 {
			t.Errorf("a at %d after MoveToFront", pos)
		}
		if got := s.Recent(-1); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
			t.Errorf("Recent = %v", got)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if !s.Remove("c") {
			t.Fatal("remove c failed")
		}
		if s.Contains("c") || s.Len() != 2 {
			t.Errorf("c still present, len=%d", s.Len())
		}
		if _, ok := s.PositionOf("c"); ok {
			t.Error("PositionOf on removed id should report absent")
		}
	})
}

func TestOrderedSetSlice(t *testing.T) {
	s := NewOrderedSet()
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}
	if got := s.Slice(0, 3); !reflect.DeepEqual(got, []string{"m9", "m8", "m7"}) {
		t.Errorf("Slice(0,3) = %v", got)
	}
	if got := s.Slice(8, 100); !reflect.DeepEqual(got, []string{"m1", "m0"}) {
		t.Errorf("Slice(8,100) = %v", got)
	}
	if got := s.Slice(5, 5); got != nil {
		t.Errorf("empty range = %v", got)
	}
}

func TestOrderedSetCompaction(t *testing.T) {
	s := NewOrderedSet()
	for i := 0; i < 200; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}
	// Heavy churn: repeated move-to-front leaves vacated slots behind.
	for round := 0; round < 10; round++ {
		for i := 0; i < 200; i += 2 {
			s.MoveToFront(fmt.Sprintf("m%d", i))
		}
	}
	if s.Len() != 200 {
		t.Fatalf("len = %d after churn", s.Len())
	}
	// Most recent element is exact regardless of churn.
	s.MoveToFront("m3")
	if pos, ok := s.PositionOf("m3"); !ok || pos != 0 {
		t.Errorf("m3 at %d", pos)
	}
	if got := s.Recent(1); !reflect.DeepEqual(got, []string{"m3"}) {
		t.Errorf("Recent(1) = %v", got)
	}
	// Ordered() returns every live id exactly once.
	seen := make(map[string]bool)
	for _, id := range s.Ordered() {
		if seen[id] {
			t.Fatalf("duplicate %s in Ordered", id)
		}
		seen[id] = true
	}
	if len(seen) != 200 {
		t.Errorf("Ordered returned %d ids", len(seen))
	}
}

func TestCueIndex(t *testing.T) {
	ci := NewCueIndex(8)

	t.Run("add and probe", func(t *testing.T) {
		ci.Add("food", "m1")
		ci.Add("food", "m2")
		ci.Add("color", "m3")
		if ci.Len("food") != 2 || ci.Len("color") != 1 || ci.Len("nope") != 0 {
			t.Fatalf("lens: food=%d color=%d", ci.Len("food"), ci.Len("color"))
		}
		if pos, ok := ci.PositionOf("food", "m2"); !ok || pos != 0 {
			t.Errorf("m2 at %d", pos)
		}
		if pos, ok := ci.PositionOf("food", "m1"); !ok || pos != 1 {
			t.Errorf("m1 at %d", pos)
		}
	})

	t.Run("move to front", func(t *testing.T) {
		ci.MoveToFront("food", "m1")
		if pos, _ := ci.PositionOf("food", "m1"); pos != 0 {
			t.Error("m1 not at front")
		}
	})

	t.Run("empty entries are dropped", func(t *testing.T) {
		ci.Remove("color", "m3")
		if ci.Has("color") {
			t.Error("empty cue entry should be removed")
		}
	})

	t.Run("export import round trip", func(t *testing.T) {
		exported := ci.Export()
		fresh := ci.Fresh()
		fresh.Import(exported)
		if !reflect.DeepEqual(fresh.Export(), exported) {
			t.Error("round trip diverged")
		}
		if got := fresh.Recent("food", -1); !reflect.DeepEqual(got, []string{"m1", "m2"}) {
			t.Errorf("imported order = %v", got)
		}
	})
}
