package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

func TestHeuristicSummarizerJoinsFragments(t *testing.T) {
	frags := []model.MemoryFragment{
		{Text: "I adopted a cat."},
		{Text: "Her name is Miso."},
	}
	summary, err := HeuristicSummarizer{}.Summarize(context.Background(), frags)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if !strings.Contains(summary, "cat") || !strings.Contains(summary, "Miso") {
		t.Fatalf("summary lost content: %q", summary)
	}
}

func TestHeuristicSummarizerCapsLength(t *testing.T) {
	frag := model.MemoryFragment{Text: strings.Repeat("again and again ", 50)}
	summary, err := HeuristicSummarizer{}.Summarize(context.Background(), []model.MemoryFragment{frag})
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(summary) > 280 {
		t.Fatalf("summary too long: %d", len(summary))
	}
}

func TestHeuristicSummarizerEmptyInput(t *testing.T) {
	summary, err := HeuristicSummarizer{}.Summarize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected empty summary, got %q", summary)
	}
}
