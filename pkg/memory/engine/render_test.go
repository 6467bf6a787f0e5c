package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

func TestRenderContextFragmentsBeforeFacts(t *testing.T) {
	frags := []model.MemoryFragment{{Text: "memory one"}, {Text: "memory two"}}
	facts := []model.Relation{{FromEntity: "Ana", ToEntity: "Porto", Type: model.RelationLocatedIn}}

	text, used, keptFrags, keptFacts := renderContext(frags, facts, 100, wordCounter{})
	if len(keptFrags) != 2 || len(keptFacts) != 1 {
		t.Fatalf("expected everything kept, got %d frags %d facts", len(keptFrags), len(keptFacts))
	}
	memIdx := strings.Index(text, "Relevant memories:")
	factIdx := strings.Index(text, "Known facts:")
	if memIdx == -1 || factIdx == -1 || memIdx > factIdx {
		t.Fatalf("sections out of order:\n%s", text)
	}
	if !strings.Contains(text, "Ana located in Porto") {
		t.Fatalf("fact rendering wrong:\n%s", text)
	}
	if used <= 0 {
		t.Fatalf("expected token usage, got %d", used)
	}
}

func TestRenderContextZeroBudget(t *testing.T) {
	text, used, frags, facts := renderContext(
		[]model.MemoryFragment{{Text: "something"}},
		nil, 0, wordCounter{})
	if text != "" || used != 0 || frags != nil || facts != nil {
		t.Fatalf("expected nothing rendered for zero budget")
	}
}

func TestRenderContextDropsEmptyHeaders(t *testing.T) {
	// Budget fits the header but no entry; the header must not survive alone.
	frags := []model.MemoryFragment{{Text: "a very long entry that cannot possibly fit in the remaining space at all"}}
	text, used, kept, _ := renderContext(frags, nil, 3, wordCounter{})
	if len(kept) != 0 {
		t.Fatalf("expected no fragments kept, got %d", len(kept))
	}
	if text != "" || used != 0 {
		t.Fatalf("dangling header rendered: %q (%d tokens)", text, used)
	}
}

func TestRenderContextNeverExceedsBudget(t *testing.T) {
	// approxCounter charges characters, so the newline separators between
	// lines cost tokens the per-line pass alone would miss.
	frags := make([]model.MemoryFragment, 8)
	for i := range frags {
		frags[i] = model.MemoryFragment{ID: string(rune('a' + i)), Text: strings.Repeat("northbound ", 3)}
	}
	facts := []model.Relation{
		{FromEntity: "Ana", ToEntity: "Porto", Type: model.RelationLocatedIn},
		{FromEntity: "Ana", ToEntity: "Rui", Type: model.RelationKnows},
	}
	counter := approxCounter{}
	for budget := 1; budget <= 120; budget++ {
		text, used, keptFrags, keptFacts := renderContext(frags, facts, budget, counter)
		if used > budget {
			t.Fatalf("budget %d: reported %d tokens used", budget, used)
		}
		if text != "" && counter.Count(text) != used {
			t.Fatalf("budget %d: block recounts to %d, reported %d", budget, counter.Count(text), used)
		}
		if text == "" && (len(keptFrags) != 0 || len(keptFacts) != 0) {
			t.Fatalf("budget %d: kept items without rendered text", budget)
		}
	}
}

func TestRankFragmentsStable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frags := []model.MemoryFragment{
		{ID: "b", Score: 0.5, CreatedAt: base},
		{ID: "a", Score: 0.5, CreatedAt: base},
		{ID: "c", Score: 0.9, CreatedAt: base},
		{ID: "d", Score: 0.5, CreatedAt: base.Add(time.Hour)},
	}
	ranked := rankFragments(frags)
	if ranked[0].ID != "c" {
		t.Fatalf("highest score should rank first, got %s", ranked[0].ID)
	}
	if ranked[1].ID != "d" {
		t.Fatalf("score tie should break by recency, got %s", ranked[1].ID)
	}
	if ranked[2].ID != "a" || ranked[3].ID != "b" {
		t.Fatalf("full tie should break by id, got %s then %s", ranked[2].ID, ranked[3].ID)
	}
}

func TestRankFactsRecencyThenMentions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rels := []model.Relation{
		{FromEntity: "A", ToEntity: "B", Type: model.RelationKnows, CreatedAt: base},
		{FromEntity: "C", ToEntity: "D", Type: model.RelationKnows, CreatedAt: base.Add(time.Hour)},
		{FromEntity: "E", ToEntity: "F", Type: model.RelationKnows, CreatedAt: base},
	}
	mentions := map[string]int{"e": 10, "f": 10}

	ranked := rankFacts(rels, mentions)
	if ranked[0].FromEntity != "C" {
		t.Fatalf("most recent fact should rank first, got %s", ranked[0].FromEntity)
	}
	if ranked[1].FromEntity != "E" {
		t.Fatalf("recency tie should break by mentions, got %s", ranked[1].FromEntity)
	}
}
