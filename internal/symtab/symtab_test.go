package symtab

import (
	"fmt"
	"testing"
)

func TestInternIdentity(t *testing.T) {
	tab := New()
	a := tab.Intern("osc1")
	b := tab.Intern("osc1")
	if a != b {
		t.Fatalf("equal strings interned to different handles")
	}
	c := tab.Intern("osc2")
	if a == c {
		t.Fatalf("distinct strings interned to the same handle")
	}
}

func TestLookupMissing(t *testing.T) {
	tab := New()
	if tab.Lookup("nope") != nil {
		t.Fatalf("expected nil for unknown name")
	}
	tab.Intern("yes")
	if tab.Lookup("yes") == nil {
		t.Fatalf("expected handle for interned name")
	}
}

func TestItemsMostRecentFirst(t *testing.T) {
	tab := New()
	h := tab.Intern("label")
	tab.AddItem(h, 1, "first")
	tab.AddItem(h, 2, "other type")
	tab.AddItem(h, 1, "second")
	it := tab.FindItem(h, 1)
	if it == nil || it.Data.(string) != "second" {
		t.Fatalf("expected most recent item of type 1, got %v", it)
	}
	if tab.FindItem(h, 3) != nil {
		t.Fatalf("expected nil for absent type")
	}
}

func TestGrowKeepsHandles(t *testing.T) {
	tab := New()
	handles := make(map[string]*Handle)
	for i := 0; i < 2000; i++ {
		name := fmt.Sprintf("sym%d", i)
		handles[name] = tab.Intern(name)
	}
	for name, h := range handles {
		if tab.Intern(name) != h {
			t.Fatalf("handle for %q changed after growth", name)
		}
	}
}
