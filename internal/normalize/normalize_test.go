package normalize

import (
	"strings"
	"testing"
)

func TestClean_ThinkingPreamble(t *testing.T) {
	r := DefaultRules()
	in := "*Thinking...*\n> step one\n> step two\nThe answer is 42."
	got := r.Clean(in)
	if got != "The answer is 42." {
		t.Errorf("Clean = %q", got)
	}
}

func TestClean_BlockquoteRunWithoutMarker(t *testing.T) {
	r := DefaultRules()
	in := "> collapsed reasoning\n> more reasoning\nVisible text"
	if got := r.Clean(in); got != "Visible text" {
		t.Errorf("Clean = %q", got)
	}
}

func TestClean_SourcesTruncation(t *testing.T) {
	r := DefaultRules()
	in := "Answer text\n---\nLearn more:\n1. https://example.com\n2. https://example.org"
	got := r.Clean(in)
	if strings.Contains(got, "example.com") {
		t.Errorf("sources list should be truncated, got %q", got)
	}
	if !strings.Contains(got, "Источники были скрыты") {
		t.Errorf("expected sources-hidden notice, got %q", got)
	}
}

func TestClean_CitationMarkers(t *testing.T) {
	r := DefaultRules()
	in := "Cats sleep a lot[[1]](https://example.com/cats) indeed."
	got := r.Clean(in)
	if got != "Cats sleep a lot indeed." {
		t.Errorf("Clean = %q", got)
	}
}

func TestClean_Disclaimer(t *testing.T) {
	r := DefaultRules()
	in := "Real answer. " + r.Disclaimers[0]
	if got := r.Clean(in); got != "Real answer." {
		t.Errorf("Clean = %q", got)
	}
}

func TestBalanceMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty fence removed",
			in:   "before\n```\n```\nafter",
			want: "before\n\nafter",
		},
		{
			name: "blank runs collapsed",
			in:   "a\n\n\n\nb",
			want: "a\n\nb",
		},
		{
			name: "blank runs kept inside fences",
			in:   "```\na\n\n\nb\n```",
			want: "```\na\n\n\nb\n```",
		},
		{
			name: "bare heading dropped",
			in:   "##\ntext",
			want: "\ntext",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BalanceMarkdown(tt.in); got != tt.want {
				t.Errorf("BalanceMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBalanceMarkdown_OddEmphasisCounts(t *testing.T) {
	for _, sym := range []string{"*", "_", "~", "`"} {
		in := "a " + sym + "b" + sym + " c " + sym + "dangling"
		got := BalanceMarkdown(in)
		if n := strings.Count(got, sym); n%2 != 0 {
			t.Errorf("symbol %q count after balancing = %d, want even (text %q)", sym, n, got)
		}
	}
}

func TestBalanceMarkdown_OddStarCountBecomesEven(t *testing.T) {
	in := "one *two* three *"
	got := BalanceMarkdown(in)
	if strings.Count(got, "*")%2 != 0 {
		t.Errorf("expected even * count, got %q", got)
	}
}

func TestNormalize_FullPipeline(t *testing.T) {
	r := DefaultRules()
	in := "*Thinking...*\n> hmm\nResult is **bold\n\n\n\nend"
	got := r.Normalize(in)
	if strings.Contains(got, "Thinking") {
		t.Errorf("thinking marker survived: %q", got)
	}
	if strings.Count(got, "*")%2 != 0 {
		t.Errorf("unbalanced asterisks: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank run survived: %q", got)
	}
}
