package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// TokenCounter measures text against the per-turn token budget. Budgets are
// enforced in tokens, not characters.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// approxCounter estimates tokens when the BPE tables cannot be loaded.
// Roughly one token per four characters, floored at the word count.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)
	if est := chars / 4; est > words {
		return est
	}
	return words
}

// NewTokenCounter returns a cl100k_base tiktoken counter, falling back to an
// approximation if the encoding is unavailable.
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil || enc == nil {
		return approxCounter{}
	}
	return tiktokenCounter{enc: enc}
}

const (
	memoriesHeader = "Relevant memories:"
	factsHeader    = "Known facts:"
)

// renderContext assembles the context block from ranked inputs, packing
// greedily until the budget is spent. Fragments go first; facts follow with
// whatever budget remains. The assembled block is recounted as a whole, so
// the separators between lines are charged too; when the total still exceeds
// the budget the lowest-ranked entries are dropped until it fits.
func renderContext(frags []model.MemoryFragment, facts []model.Relation, budget int, counter TokenCounter) (string, int, []model.MemoryFragment, []model.Relation) {
	if budget <= 0 || counter == nil {
		return "", 0, nil, nil
	}

	used := 0

	var keptFrags []model.MemoryFragment
	if len(frags) > 0 {
		headerCost := counter.Count(memoriesHeader)
		if used+headerCost <= budget {
			used += headerCost
			for _, frag := range frags {
				cost := counter.Count("- " + strings.TrimSpace(frag.Text))
				if used+cost > budget {
					break
				}
				used += cost
				keptFrags = append(keptFrags, frag)
			}
			if len(keptFrags) == 0 {
				used -= headerCost
			}
		}
	}

	var keptFacts []model.Relation
	if len(facts) > 0 {
		headerCost := counter.Count(factsHeader)
		if used+headerCost <= budget {
			used += headerCost
			for _, fact := range facts {
				cost := counter.Count("- " + renderFact(fact))
				if used+cost > budget {
					break
				}
				used += cost
				keptFacts = append(keptFacts, fact)
			}
			if len(keptFacts) == 0 {
				used -= headerCost
			}
		}
	}

	out := assembleContext(keptFrags, keptFacts)
	used = 0
	if out != "" {
		used = counter.Count(out)
	}
	// Per-line counting ignores separators, so the assembled block can come
	// out over budget. Facts rank below fragments, so they drop first.
	for used > budget {
		switch {
		case len(keptFacts) > 0:
			keptFacts = keptFacts[:len(keptFacts)-1]
		case len(keptFrags) > 0:
			keptFrags = keptFrags[:len(keptFrags)-1]
		default:
			return "", 0, nil, nil
		}
		out = assembleContext(keptFrags, keptFacts)
		used = 0
		if out != "" {
			used = counter.Count(out)
		}
	}
	return out, used, keptFrags, keptFacts
}

// assembleContext renders the kept items; a section with no entries is
// omitted entirely.
func assembleContext(frags []model.MemoryFragment, facts []model.Relation) string {
	var b strings.Builder
	if len(frags) > 0 {
		b.WriteString(memoriesHeader)
		for _, frag := range frags {
			b.WriteByte('\n')
			b.WriteString("- " + strings.TrimSpace(frag.Text))
		}
	}
	if len(facts) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(factsHeader)
		for _, fact := range facts {
			b.WriteByte('\n')
			b.WriteString("- " + renderFact(fact))
		}
	}
	return b.String()
}

// renderFact turns a relation into one readable line.
func renderFact(rel model.Relation) string {
	verb := strings.ReplaceAll(string(rel.Type), "_", " ")
	return rel.FromEntity + " " + verb + " " + rel.ToEntity
}
