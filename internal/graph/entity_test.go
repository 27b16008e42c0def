package graph

import (
	"regexp"
	"testing"
	"time"
)

func TestNewVersionShape(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC)
	v := NewVersion(now, "u1")

	re := regexp.MustCompile(`^[0-9T:.Z+-]+-u1$`)
	if !re.MatchString(v) {
		t.Errorf("NewVersion() = %q, does not match expected shape", v)
	}
	if v != "2025-01-02T03:04:05.123456789Z-u1" {
		t.Errorf("NewVersion() = %q", v)
	}
}

func TestNewEntity(t *testing.T) {
	now := time.Now().UTC()

	e, err := NewEntity("dev-1", EntityTypeDevice, "Smart TV", map[string]any{"brand": "X"}, SourceTypeManual, "u1", now)
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}
	if e.Content["brand"] != "X" {
		t.Errorf("content brand = %v, want X", e.Content["brand"])
	}
	if len(e.ParentVersions) != 0 {
		t.Errorf("version 1 has parents: %v", e.ParentVersions)
	}

	if _, err := NewEntity("dev-2", EntityTypeDevice, "", nil, SourceTypeManual, "u1", now); err == nil {
		t.Error("NewEntity() with empty name should fail")
	}
}

func TestNextVersion(t *testing.T) {
	now := time.Now().UTC()
	e, _ := NewEntity("dev-1", EntityTypeDevice, "Smart TV", map[string]any{"brand": "X"}, SourceTypeManual, "u1", now)

	next := e.NextVersion(map[string]any{"brand": "Y"}, "u2", now.Add(time.Second))

	if next.Content["brand"] != "Y" {
		t.Errorf("next content brand = %v, want Y", next.Content["brand"])
	}
	if e.Content["brand"] != "X" {
		t.Error("NextVersion mutated the prior version's content")
	}
	if len(next.ParentVersions) != 1 || next.ParentVersions[0] != e.Version {
		t.Errorf("next parents = %v, want [%s]", next.ParentVersions, e.Version)
	}
	if next.UserID != "u2" {
		t.Errorf("next user = %s, want u2", next.UserID)
	}
}

func TestNextVersionRename(t *testing.T) {
	now := time.Now().UTC()
	e, _ := NewEntity("h-1", EntityTypeHome, "Old House", nil, SourceTypeManual, "u1", now)

	next := e.NextVersion(map[string]any{"name": "New House"}, "u1", now.Add(time.Second))
	if next.Name != "New House" {
		t.Errorf("next name = %q, want New House", next.Name)
	}
	if _, ok := next.Content["name"]; ok {
		t.Error("rename leaked into content")
	}
}

func TestTombstone(t *testing.T) {
	now := time.Now().UTC()
	e, _ := NewEntity("dev-1", EntityTypeDevice, "Smart TV", nil, SourceTypeManual, "u1", now)

	if e.Deleted() {
		t.Error("fresh entity reported deleted")
	}

	tomb := Tombstone(e, "u1", now.Add(time.Second))
	if !tomb.Deleted() {
		t.Error("tombstone not reported deleted")
	}
	if len(tomb.ParentVersions) != 1 || tomb.ParentVersions[0] != e.Version {
		t.Errorf("tombstone parents = %v", tomb.ParentVersions)
	}
}

func TestNewer(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b *Entity
		want bool
	}{
		{
			name: "later created_at wins",
			a:    &Entity{CreatedAt: base.Add(time.Second), Version: "a"},
			b:    &Entity{CreatedAt: base, Version: "z"},
			want: true,
		},
		{
			name: "earlier created_at loses",
			a:    &Entity{CreatedAt: base, Version: "z"},
			b:    &Entity{CreatedAt: base.Add(time.Second), Version: "a"},
			want: false,
		},
		{
			name: "tie broken by version string",
			a:    &Entity{CreatedAt: base, Version: "zzz"},
			b:    &Entity{CreatedAt: base, Version: "aaa"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Newer(tt.a, tt.b); got != tt.want {
				t.Errorf("Newer() = %v, want %v", got, tt.want)
			}
		})
	}
}
