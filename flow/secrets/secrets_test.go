package secrets

import (
	"context"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"LLM_OPENAI_API_KEY", "A", "X9_Y"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "lowercase", "9STARTS_WITH_DIGIT", "HAS-DASH", "HAS SPACE", "_LEADING"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	t.Run("set and get scoped to owner", func(t *testing.T) {
		if err := st.Set(ctx, "LLM_OPENAI_API_KEY", "alice", "sk-alice"); err != nil {
			t.Fatalf("Set() error: %v", err)
		}
		v, ok := st.Get(ctx, "LLM_OPENAI_API_KEY", "alice")
		if !ok || v != "sk-alice" {
			t.Errorf("Get() = %q, %v", v, ok)
		}
		if _, ok := st.Get(ctx, "LLM_OPENAI_API_KEY", "bob"); ok {
			t.Error("bob can read alice's secret")
		}
	})

	t.Run("shared scope fallback", func(t *testing.T) {
		st.Set(ctx, "LLM_ANTHROPIC_API_KEY", "", "sk-shared")
		v, ok := st.Get(ctx, "LLM_ANTHROPIC_API_KEY", "bob")
		if !ok || v != "sk-shared" {
			t.Errorf("Get() = %q, %v, want shared fallback", v, ok)
		}
	})

	t.Run("owner entry shadows shared", func(t *testing.T) {
		st.Set(ctx, "LLM_ANTHROPIC_API_KEY", "bob", "sk-bob")
		v, _ := st.Get(ctx, "LLM_ANTHROPIC_API_KEY", "bob")
		if v != "sk-bob" {
			t.Errorf("Get() = %q, want owner's key", v)
		}
	})

	t.Run("set rejects invalid names", func(t *testing.T) {
		if err := st.Set(ctx, "not-valid", "alice", "v"); err == nil {
			t.Error("Set() = nil error for invalid name")
		}
	})

	t.Run("delete", func(t *testing.T) {
		st.Set(ctx, "LLM_GOOGLE_API_KEY", "alice", "sk-g")
		if err := st.Delete(ctx, "LLM_GOOGLE_API_KEY", "alice"); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if _, ok := st.Get(ctx, "LLM_GOOGLE_API_KEY", "alice"); ok {
			t.Error("secret still readable after delete")
		}
		if err := st.Delete(ctx, "LLM_GOOGLE_API_KEY", "alice"); err != nil {
			t.Errorf("second Delete() error: %v", err)
		}
	})
}
