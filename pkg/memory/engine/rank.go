package engine

import (
	"sort"
	"strings"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// rankFragments orders semantic fragments by similarity score descending,
// breaking ties by most recent creation. Ordering is stable for identical
// inputs.
func rankFragments(frags []model.MemoryFragment) []model.MemoryFragment {
	out := append([]model.MemoryFragment(nil), frags...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// rankFacts orders relations by recency, then by the combined mention count of
// their endpoints, then lexically so the order never depends on map iteration.
func rankFacts(rels []model.Relation, mentions map[string]int) []model.Relation {
	out := append([]model.Relation(nil), rels...)
	weight := func(rel model.Relation) int {
		return mentions[strings.ToLower(rel.FromEntity)] + mentions[strings.ToLower(rel.ToEntity)]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		wi, wj := weight(out[i]), weight(out[j])
		if wi != wj {
			return wi > wj
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// mentionIndex maps lowercased entity names to their mention counts.
func mentionIndex(entities []model.Entity) map[string]int {
	idx := make(map[string]int, len(entities))
	for _, ent := range entities {
		idx[strings.ToLower(ent.Name)] = ent.MentionCount
	}
	return idx
}
