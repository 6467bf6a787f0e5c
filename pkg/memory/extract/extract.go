// Package extract derives candidate entities and relation triples from
// conversation text. Extraction is best effort: low-confidence findings are
// tagged with a score instead of being discarded, and the graph adapter
// decides what is worth admitting.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// ErrExtractionFailure marks inputs the extractor could not process. Callers
// log and skip; a failed extraction never blocks a chat turn.
var ErrExtractionFailure = errors.New("extraction failure")

// Candidate is an entity name with its inferred type.
type Candidate struct {
	Name string
	Type model.EntityType
}

// Extraction is the result of one pass over a piece of text.
type Extraction struct {
	Entities  []Candidate
	Relations []model.Relation
}

// Extractor turns free text into graph candidates.
type Extractor interface {
	Extract(text string) (Extraction, error)
}

// HeuristicExtractor finds capitalized spans and a small set of verb patterns.
// It needs no remote calls, so it is safe on the synchronous retrieval path.
type HeuristicExtractor struct{}

var _ Extractor = HeuristicExtractor{}

func NewHeuristicExtractor() HeuristicExtractor { return HeuristicExtractor{} }

var (
	properSpan = regexp.MustCompile(`\b` + span)

	relationPatterns = []struct {
		re         *regexp.Regexp
		relType    model.RelationType
		confidence float64
		fromType   model.EntityType
		toType     model.EntityType
	}{
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:works?\s+(?:at|for))\s+(` + span + `)`), model.RelationWorksAt, 0.9, model.EntityPerson, model.EntityOrganization},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:lives?\s+in|is\s+located\s+in|moved\s+to)\s+(` + span + `)`), model.RelationLocatedIn, 0.85, model.EntityPerson, model.EntityPlace},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:is\s+(?:in|based\s+in))\s+(` + span + `)`), model.RelationLocatedIn, 0.7, model.EntityConcept, model.EntityPlace},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:knows?)\s+(` + span + `)`), model.RelationKnows, 0.8, model.EntityPerson, model.EntityPerson},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:likes?|loves?|enjoys?)\s+(` + span + `)`), model.RelationLikes, 0.75, model.EntityPerson, model.EntityConcept},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:dislikes?|hates?)\s+(` + span + `)`), model.RelationDislikes, 0.75, model.EntityPerson, model.EntityConcept},
		{regexp.MustCompile(`\b(` + span + `)\s+(?i:owns?)\s+(` + span + `)`), model.RelationOwns, 0.8, model.EntityPerson, model.EntityConcept},
	}

	orgSuffixes = []string{"inc", "inc.", "corp", "corp.", "llc", "ltd", "labs", "industries", "systems", "technologies"}

	// Sentence-leading capitals that are grammar, not names. Includes the
	// auxiliaries that open questions, so "Does Sarah" seeds "Sarah".
	stopwords = map[string]struct{}{
		"a": {}, "am": {}, "an": {}, "and": {}, "are": {}, "but": {}, "by": {},
		"can": {}, "could": {}, "did": {}, "do": {}, "does": {}, "for": {},
		"had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "his": {},
		"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "my": {},
		"of": {}, "on": {}, "or": {}, "our": {}, "remind": {}, "she": {},
		"should": {}, "so": {}, "tell": {}, "that": {}, "the": {},
		"their": {}, "then": {}, "they": {}, "this": {}, "to": {}, "was": {},
		"we": {}, "were": {}, "what": {}, "when": {}, "where": {}, "who": {},
		"why": {}, "will": {}, "would": {}, "yes": {}, "no": {}, "you": {},
		"your": {},
	}
)

const span = `[A-Z][a-zA-Z0-9'’-]*(?:\s+[A-Z][a-zA-Z0-9'’-]*)*`

// mentionedWithConfidence tags bare co-occurrence in one sentence. Deliberately
// low so threshold-bearing stores can reject it.
const mentionedWithConfidence = 0.3

func (HeuristicExtractor) Extract(text string) (Extraction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Extraction{}, fmt.Errorf("%w: empty input", ErrExtractionFailure)
	}

	var out Extraction
	entityTypes := make(map[string]model.EntityType)

	admit := func(name string, typ model.EntityType) string {
		name = trimLeadingStopwords(strings.TrimSpace(name))
		if name == "" {
			return ""
		}
		key := strings.ToLower(name)
		if _, skip := stopwords[key]; skip {
			return ""
		}
		existing, seen := entityTypes[key]
		if !seen {
			entityTypes[key] = typ
			out.Entities = append(out.Entities, Candidate{Name: name, Type: typ})
			return name
		}
		// A typed pattern hit beats the generic concept guess.
		if existing == model.EntityConcept && typ != model.EntityConcept {
			entityTypes[key] = typ
			for i := range out.Entities {
				if strings.EqualFold(out.Entities[i].Name, name) {
					out.Entities[i].Type = typ
				}
			}
		}
		return name
	}

	for _, pattern := range relationPatterns {
		for _, match := range pattern.re.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			from := admit(match[1], pattern.fromType)
			to := admit(match[2], classify(match[2], pattern.toType))
			if from == "" || to == "" || strings.EqualFold(from, to) {
				continue
			}
			out.Relations = append(out.Relations, model.Relation{
				FromEntity: from,
				ToEntity:   to,
				Type:       pattern.relType,
				Confidence: pattern.confidence,
			})
		}
	}

	for _, sentence := range splitSentences(text) {
		var names []string
		for _, raw := range properSpan.FindAllString(sentence, -1) {
			if name := admit(raw, classify(raw, model.EntityConcept)); name != "" {
				names = append(names, name)
			}
		}
		// Co-occurring names in one sentence are weakly associated.
		for i := 0; i+1 < len(names); i++ {
			if strings.EqualFold(names[i], names[i+1]) {
				continue
			}
			out.Relations = append(out.Relations, model.Relation{
				FromEntity: names[i],
				ToEntity:   names[i+1],
				Type:       model.RelationMentioned,
				Confidence: mentionedWithConfidence,
			})
		}
	}

	out.Relations = dedupeRelations(out.Relations)
	return out, nil
}

// EntityNames returns just the candidate names, for seeding graph lookups.
func (e Extraction) EntityNames() []string {
	names := make([]string, 0, len(e.Entities))
	for _, ent := range e.Entities {
		names = append(names, ent.Name)
	}
	return names
}

// trimLeadingStopwords drops capitalized grammar words that the span pattern
// merged into the front of a name, as in "Does Sarah" or "Tell Marcus".
func trimLeadingStopwords(name string) string {
	words := strings.Fields(name)
	for len(words) > 0 {
		if _, skip := stopwords[strings.ToLower(words[0])]; !skip {
			break
		}
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func classify(name string, fallback model.EntityType) model.EntityType {
	lower := strings.ToLower(name)
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(lower, " "+suffix) || lower == suffix {
			return model.EntityOrganization
		}
	}
	return fallback
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func dedupeRelations(rels []model.Relation) []model.Relation {
	if len(rels) < 2 {
		return rels
	}
	seen := make(map[string]int, len(rels))
	out := rels[:0]
	for _, rel := range rels {
		key := rel.Key()
		if idx, dup := seen[key]; dup {
			if rel.Confidence > out[idx].Confidence {
				out[idx].Confidence = rel.Confidence
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, rel)
	}
	return out
}
