package handlers

import (
	"testing"

	"github.com/google/uuid"
)

func TestDedupe(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name string
		in   []uuid.UUID
		want []uuid.UUID
	}{
		{"no duplicates", []uuid.UUID{a, b, c}, []uuid.UUID{a, b, c}},
		{"duplicate in tail", []uuid.UUID{a, b, a}, []uuid.UUID{a, b}},
		{"all the same", []uuid.UUID{a, a, a}, []uuid.UUID{a}},
		{"first occurrence wins", []uuid.UUID{b, a, b, c, a}, []uuid.UUID{b, a, c}},
		{"empty", nil, []uuid.UUID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupe(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("dedupe() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("dedupe() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDedupeDoesNotMutateInput(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	in := []uuid.UUID{a, b, a, b}
	original := append([]uuid.UUID(nil), in...)

	out := dedupe(in)

	for i := range in {
		if in[i] != original[i] {
			t.Fatalf("input mutated at %d: got %s, want %s", i, in[i], original[i])
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 unique ids, got %d", len(out))
	}
	// The result must be a fresh slice, not an alias of the input's array
	out[0] = uuid.New()
	if in[0] != original[0] {
		t.Fatal("result aliases the input's backing array")
	}
}
