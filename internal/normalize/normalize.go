// Package normalize strips provider scaffolding from raw backend replies and
// balances their markdown before formatting.
//
// The pipeline runs in two passes:
//
//  1. Clean() — drop the thinking preamble, truncate at the hidden-sources
//     header, strip inline citations and disclaimer boilerplate.
//  2. BalanceMarkdown() — remove empty code fences, collapse blank-line
//     runs outside fences, drop bare heading markers, and even out odd
//     emphasis-symbol counts so an unterminated run can't break rendering.
package normalize

import (
	"regexp"
	"strings"
)

// Rules configures the provider-specific cleanup. The disclaimer and
// sources-header strings are provider-version-specific, so they live in
// config rather than code.
type Rules struct {
	// ThinkingMarker is the exact first line that opens a collapsed
	// reasoning transcript.
	ThinkingMarker string
	// SourcesHeader is the line that, directly after a horizontal rule,
	// starts a citation list.
	SourcesHeader string
	// SourcesNotice replaces everything from the sources header on.
	SourcesNotice string
	// Disclaimers are boilerplate strings removed verbatim.
	Disclaimers []string
}

// DefaultRules matches the current Poe output format.
func DefaultRules() Rules {
	return Rules{
		ThinkingMarker: "*Thinking...*",
		SourcesHeader:  "Learn more:",
		SourcesNotice:  "**Для данного запроса использовался интернет. Источники были скрыты.**",
		Disclaimers: []string{
			"This response may include content that is harmful, illegal, or inappropriate. " +
				"Please proceed with caution and adhere to relevant guidelines and laws. " +
				"All information is provided for reference and academic purposes only.",
		},
	}
}

var citationPattern = regexp.MustCompile(`\[\[\s*\d+\s*\]\]\s*\([^)]*?\)`)

// Clean strips the thinking preamble, citation markers, the sources tail,
// and disclaimer boilerplate. Trailing whitespace is trimmed.
func (r Rules) Clean(text string) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	var kept []string
	inThinking := false

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if i == 0 && r.ThinkingMarker != "" && stripped == r.ThinkingMarker {
			continue
		}
		// A blockquote run right after the marker is the collapsed
		// reasoning transcript; drop it wholesale.
		if strings.HasPrefix(stripped, ">") && !inThinking {
			inThinking = true
			continue
		}
		if inThinking {
			if stripped != "" && strings.HasPrefix(stripped, ">") {
				continue
			}
			inThinking = false
		}

		if r.SourcesHeader != "" && stripped == "---" && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == r.SourcesHeader {
			kept = append(kept, r.SourcesNotice)
			break
		}

		kept = append(kept, citationPattern.ReplaceAllString(line, ""))
	}

	out := strings.Join(kept, "\n")
	for _, d := range r.Disclaimers {
		out = strings.ReplaceAll(out, d, "")
	}
	return strings.TrimRight(out, " \t\r\n")
}

var (
	emptyFencePattern  = regexp.MustCompile("```[ \t]*\n[ \t]*```")
	bareHeadingPattern = regexp.MustCompile(`^#{1,6}\s*$`)
)

// BalanceMarkdown tidies markdown artifacts: empty fences, blank-line runs,
// bare heading markers, and odd emphasis-symbol counts. The result is not
// guaranteed to be semantically valid markdown, only balanced in the
// symbol-count sense.
func BalanceMarkdown(text string) string {
	if text == "" {
		return ""
	}

	text = emptyFencePattern.ReplaceAllString(text, "")

	var out []string
	emptyRun := 0
	inCode := false
	for _, line := range strings.Split(text, "\n") {
		if bareHeadingPattern.MatchString(line) {
			line = ""
		}
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			out = append(out, line)
			emptyRun = 0
			continue
		}
		if inCode {
			out = append(out, line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			emptyRun++
			if emptyRun <= 1 {
				out = append(out, line)
			}
			continue
		}
		emptyRun = 0
		out = append(out, line)
	}
	text = strings.Join(out, "\n")

	for _, sym := range []string{"*", "_", "~", "`"} {
		text = balanceSymbol(text, sym)
	}
	return text
}

// balanceSymbol removes the last occurrence of sym when its total count is
// odd, so emphasis runs always close.
func balanceSymbol(text, sym string) string {
	if strings.Count(text, sym)%2 == 0 {
		return text
	}
	idx := strings.LastIndex(text, sym)
	if idx < 0 {
		return text
	}
	return text[:idx] + text[idx+len(sym):]
}

// Normalize runs the full pipeline.
func (r Rules) Normalize(text string) string {
	return BalanceMarkdown(r.Clean(text))
}
