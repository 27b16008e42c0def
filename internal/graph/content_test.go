package graph

import (
	"sort"
	"testing"
)

func TestMergeContent(t *testing.T) {
	base := map[string]any{"brand": "X", "model": "M1"}
	merged := MergeContent(base, map[string]any{"brand": "Y"})

	if merged["brand"] != "Y" || merged["model"] != "M1" {
		t.Errorf("MergeContent() = %v", merged)
	}
	if base["brand"] != "X" {
		t.Error("MergeContent mutated base")
	}
}

func TestContentEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs empty", nil, map[string]any{}, true},
		{"equal nested", map[string]any{"a": map[string]any{"b": 1.0}}, map[string]any{"a": map[string]any{"b": 1.0}}, true},
		{"different value", map[string]any{"a": 1.0}, map[string]any{"a": 2.0}, false},
		{"different keys", map[string]any{"a": 1.0}, map[string]any{"b": 1.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ContentEqual() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlattenContent(t *testing.T) {
	content := map[string]any{
		"brand": "Sony",
		"specs": map[string]any{
			"inches": 55.0,
			"smart":  true,
		},
		"tags": []any{"living", "media"},
		"none": nil,
	}

	got := FlattenContent(content)
	sort.Strings(got)

	want := []string{"55", "Sony", "living", "media", "true"}
	if len(got) != len(want) {
		t.Fatalf("FlattenContent() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FlattenContent()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
