package mcp

import (
	"reflect"
	"testing"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
)

func scoringEntity(t *testing.T, typ graph.EntityType, name string, content map[string]any) *graph.Entity {
	t.Helper()
	e, err := graph.NewEntity(name, typ, name, content, graph.SourceTypeManual, "u1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Living Room Thermostat", []string{"living", "room", "thermostat"}},
		{"the TV and the lamp", []string{"lamp"}},
		{"A/C unit-2", []string{"unit"}},
		{"", nil},
		{"ok", nil},
	}
	for _, tc := range cases {
		got := tokenize(tc.in)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	a := scoringEntity(t, graph.EntityTypeDevice, "Ceiling Light", map[string]any{"brand": "Lumen"})
	b := scoringEntity(t, graph.EntityTypeDevice, "Ceiling Fan Light", map[string]any{"brand": "Lumen"})
	c := scoringEntity(t, graph.EntityTypeNote, "Shopping List", nil)

	sab := similarity(a, b)
	if sab <= 0.3 {
		t.Errorf("similar devices score = %f, want > 0.3", sab)
	}
	sac := similarity(a, c)
	if sac != 0 {
		t.Errorf("unrelated entities score = %f, want 0", sac)
	}
	if got := similarity(a, a); got != 1.0 {
		t.Errorf("self similarity = %f, want 1.0", got)
	}
	if similarity(a, b) != similarity(b, a) {
		t.Error("similarity is not symmetric")
	}
}

func TestSearchScoreOrdering(t *testing.T) {
	nameHit := scoringEntity(t, graph.EntityTypeDevice, "Kitchen Thermostat", nil)
	contentHit := scoringEntity(t, graph.EntityTypeDevice, "Sensor", map[string]any{"location": "thermostat closet"})
	miss := scoringEntity(t, graph.EntityTypeNote, "Shopping List", nil)

	query := "thermostat"
	tokens := tokenize(query)

	sName := searchScore(nameHit, query, tokens)
	sContent := searchScore(contentHit, query, tokens)
	sMiss := searchScore(miss, query, tokens)

	if !(sName > sContent && sContent > sMiss) {
		t.Errorf("ordering broken: name=%f content=%f miss=%f", sName, sContent, sMiss)
	}
	if sMiss != 0.1 {
		t.Errorf("floor score = %f, want 0.1", sMiss)
	}
}

func TestSearchScoreTypeTokenBonus(t *testing.T) {
	device := scoringEntity(t, graph.EntityTypeDevice, "Hallway Lamp", nil)

	// A multi-word query naming the type in one of its tokens still earns
	// the type bonus
	withType := searchScore(device, "hallway device", tokenize("hallway device"))
	without := searchScore(device, "hallway gadget", tokenize("hallway gadget"))
	if withType-without != 1.0 {
		t.Errorf("type bonus = %f, want 1.0 (with=%f without=%f)", withType-without, withType, without)
	}

	// The whole-query form keeps working
	exact := searchScore(device, "device", tokenize("device"))
	if exact < 1.0 {
		t.Errorf("exact type query score = %f", exact)
	}
}

func TestSearchHighlights(t *testing.T) {
	e := scoringEntity(t, graph.EntityTypeDevice, "Thermostat", map[string]any{"location": "hallway closet"})

	query := "thermostat hallway device"
	got := searchHighlights(e, query, tokenize(query))
	want := []string{"name", "content", "entity_type"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("highlights = %v, want %v", got, want)
	}

	if got := searchHighlights(e, "garage", tokenize("garage")); len(got) != 0 {
		t.Errorf("highlights for a miss = %v", got)
	}
}

func TestRankDeterministicTies(t *testing.T) {
	a := scoringEntity(t, graph.EntityTypeDevice, "a", nil)
	b := scoringEntity(t, graph.EntityTypeDevice, "b", nil)
	items := []scored{{Entity: b, Score: 1}, {Entity: a, Score: 1}}
	rank(items)
	if items[0].Entity.ID != "a" {
		t.Errorf("tie order = %s first", items[0].Entity.ID)
	}
}
