package funnel_test

import (
	"errors"
	"math/rand"
	"testing"

	"usebot/internal/funnel"
)

func TestSelectVariantWeights(t *testing.T) {
	t.Parallel()

	variants := []funnel.Variant{
		{ID: 1, Stage: 0, UserType: "default", Name: "a", Weight: 1},
		{ID: 2, Stage: 0, UserType: "default", Name: "b", Weight: 1},
		{ID: 3, Stage: 0, UserType: "default", Name: "c", Weight: 2},
	}

	rng := rand.New(rand.NewSource(1))
	counts := make(map[string]int)
	const draws = 40000

	for i := 0; i < draws; i++ {
		v, err := funnel.SelectVariant(variants, 0, "default", rng)
		if err != nil {
			t.Fatalf("SelectVariant() error = %v", err)
		}
		counts[v.Name]++
	}

	// Expected shares are 25%, 25%, 50%; allow a generous tolerance.
	assertShare := func(name string, want float64) {
		t.Helper()
		got := float64(counts[name]) / draws
		if got < want-0.03 || got > want+0.03 {
			t.Errorf("variant %q share = %.3f, want ~%.2f", name, got, want)
		}
	}
	assertShare("a", 0.25)
	assertShare("b", 0.25)
	assertShare("c", 0.50)
}

func TestSelectVariantUserTypePreference(t *testing.T) {
	t.Parallel()

	variants := []funnel.Variant{
		{ID: 1, Stage: 1, UserType: "default", Name: "generic", Weight: 10},
		{ID: 2, Stage: 1, UserType: "skeptical", Name: "reassuring", Weight: 1},
	}

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		v, err := funnel.SelectVariant(variants, 1, "skeptical", rng)
		if err != nil {
			t.Fatalf("SelectVariant() error = %v", err)
		}
		if v.Name != "reassuring" {
			t.Fatalf("exact user type match should win, got %q", v.Name)
		}
	}
}

func TestSelectVariantDefaultFallback(t *testing.T) {
	t.Parallel()

	variants := []funnel.Variant{
		{ID: 1, Stage: 2, UserType: "default", Name: "generic", Weight: 1},
	}

	rng := rand.New(rand.NewSource(3))
	v, err := funnel.SelectVariant(variants, 2, "playful", rng)
	if err != nil {
		t.Fatalf("SelectVariant() error = %v", err)
	}
	if v.Name != "generic" {
		t.Errorf("expected default fallback, got %q", v.Name)
	}
}

func TestSelectVariantNoCandidate(t *testing.T) {
	t.Parallel()

	variants := []funnel.Variant{
		{ID: 1, Stage: 0, UserType: "default", Name: "a", Weight: 1},
		{ID: 2, Stage: 1, UserType: "serious", Name: "b", Weight: 1},
	}

	rng := rand.New(rand.NewSource(4))

	// Wrong stage entirely.
	if _, err := funnel.SelectVariant(variants, 5, "default", rng); !errors.Is(err, funnel.ErrNoVariant) {
		t.Errorf("expected ErrNoVariant for unknown stage, got %v", err)
	}

	// Stage exists but only for another user type, with no default.
	if _, err := funnel.SelectVariant(variants, 1, "playful", rng); !errors.Is(err, funnel.ErrNoVariant) {
		t.Errorf("expected ErrNoVariant without default fallback, got %v", err)
	}
}
