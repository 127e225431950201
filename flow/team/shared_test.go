package team

import (
	"testing"
)

func TestSharedContextSetGet(t *testing.T) {
	sc := NewSharedContext(0)

	sc.Set("findings", map[string]any{"count": float64(3)}, "alice")
	v, ok := sc.Get("findings")
	if !ok {
		t.Fatal("Get() = false after Set")
	}
	if v.(map[string]any)["count"] != float64(3) {
		t.Errorf("value = %v", v)
	}

	if _, ok := sc.Get("absent"); ok {
		t.Error("Get(absent) = true")
	}
}

func TestSharedContextDeepCopies(t *testing.T) {
	sc := NewSharedContext(0)
	original := map[string]any{"nested": map[string]any{"k": "v"}}
	sc.Set("data", original, "alice")

	// Mutating what was stored must not change the context.
	original["nested"].(map[string]any)["k"] = "changed-by-writer"
	v, _ := sc.Get("data")
	if v.(map[string]any)["nested"].(map[string]any)["k"] != "v" {
		t.Error("writer retained a live reference into shared context")
	}

	// Mutating what was read must not change the context either.
	v.(map[string]any)["nested"].(map[string]any)["k"] = "changed-by-reader"
	again, _ := sc.Get("data")
	if again.(map[string]any)["nested"].(map[string]any)["k"] != "v" {
		t.Error("reader retained a live reference into shared context")
	}
}

func TestSharedContextDeleteAndKeys(t *testing.T) {
	sc := NewSharedContext(0)
	sc.Set("zebra", 1, "a")
	sc.Set("apple", 2, "a")
	sc.Set("mango", 3, "a")

	keys := sc.Keys()
	if len(keys) != 3 || keys[0] != "apple" || keys[1] != "mango" || keys[2] != "zebra" {
		t.Errorf("Keys() = %v, want sorted", keys)
	}

	sc.Delete("mango", "b")
	if _, ok := sc.Get("mango"); ok {
		t.Error("value readable after delete")
	}
}

func TestSharedContextHistory(t *testing.T) {
	sc := NewSharedContext(2)
	sc.Set("k1", "v1", "alice")
	sc.Set("k2", "v2", "bob")
	sc.Delete("k1", "alice")

	hist := sc.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want cap of 2", len(hist))
	}
	if hist[0].Key != "k2" || hist[0].Operation != "set" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].Key != "k1" || hist[1].Operation != "delete" || hist[1].Agent != "alice" {
		t.Errorf("history[1] = %+v", hist[1])
	}
}
