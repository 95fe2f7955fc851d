package repo

import (
	"testing"
	"time"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero falls back to default", 0, DefaultPageSize},
		{"negative falls back to default", -5, DefaultPageSize},
		{"in-range value kept", 25, 25},
		{"exact max kept", MaxPageSize, MaxPageSize},
		{"over max clamped", MaxPageSize + 1, MaxPageSize},
		{"absurd value clamped", 1 << 20, MaxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampLimit(tt.limit); got != tt.want {
				t.Errorf("ClampLimit(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestMergeReadAt(t *testing.T) {
	earlier := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	tests := []struct {
		name     string
		existing *time.Time
		incoming *time.Time
		want     *time.Time
	}{
		{"nil incoming keeps existing", &earlier, nil, &earlier},
		{"nil existing takes incoming", nil, &later, &later},
		{"both nil stays nil", nil, nil, nil},
		{"newer incoming wins", &earlier, &later, &later},
		{"older incoming is ignored", &later, &earlier, &later},
		{"equal timestamps keep existing", &earlier, &earlier, &earlier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeReadAt(tt.existing, tt.incoming)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("MergeReadAt() = %v, want %v", got, tt.want)
			case !got.Equal(*tt.want):
				t.Errorf("MergeReadAt() = %v, want %v", *got, *tt.want)
			}
		})
	}
}
