package markup

import (
	"regexp"
	"strings"
)

// MessageLimit is the per-segment size budget. Telegram's hard cap is 4096;
// 4000 leaves headroom for fence-repair markers and quote decorations.
const MessageLimit = 4000

// CollapsibleQuoteThreshold: replies at or under this length are sent
// plainly even when the chat prefers collapsible quotes.
const CollapsibleQuoteThreshold = 500

var fenceOpenPattern = regexp.MustCompile("^```(\\w*)")

// fenceRepair is appended to a chunk that had to cut through a fenced
// block, and the reopening fence is prefixed to the remainder.
const fenceRepair = "\n```"

// Chunk splits text into segments of at most limit bytes. Cuts prefer the
// last newline at or before the limit and never land strictly inside a
// fenced code block: such a cut closes the block with a synthetic fence and
// reopens the remainder with the same language tag. Empty input yields a
// single empty segment.
func Chunk(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}

	var chunks []string
	rest := text
	for rest != "" {
		if len(rest) <= limit {
			chunks = append(chunks, rest)
			break
		}

		split, newlineSplit := findCut(rest, limit)

		if _, inside := openFenceAt(rest, split); inside {
			// Leave room for the synthetic closing fence so the segment
			// stays within the limit. The shorter cut can land before the
			// fence opens, in which case it is an ordinary cut after all.
			split, newlineSplit = findCut(rest, limit-len(fenceRepair))
			if lang, stillInside := openFenceAt(rest, split); stillInside {
				reopen := "```" + lang + "\n"
				consumed := split
				if newlineSplit {
					consumed++
				}
				if consumed <= len(reopen) {
					// A single line inside the block exceeds the limit,
					// so a newline cut cannot advance past what the
					// reopening fence re-adds. Hard-cut inside the line.
					split = limit - len(fenceRepair)
					newlineSplit = false
				}
				chunks = append(chunks, rest[:split]+fenceRepair)
				if newlineSplit {
					rest = reopen + rest[split+1:]
				} else {
					rest = reopen + rest[split:]
				}
				continue
			}
		}

		chunks = append(chunks, rest[:split])
		if newlineSplit {
			rest = rest[split+1:]
		} else {
			rest = rest[split:]
		}
	}
	return chunks
}

// findCut returns the cut offset within limit and whether it lands on a
// newline (which is then consumed, not carried into either segment).
func findCut(rest string, limit int) (int, bool) {
	if idx := strings.LastIndex(rest[:limit], "\n"); idx >= 0 {
		return idx, true
	}
	return limit, false
}

// openFenceAt reports whether offset falls strictly inside a ``` ... ```
// span of rest, and if so returns the span's language tag.
func openFenceAt(rest string, offset int) (string, bool) {
	for _, span := range fencedBlockPattern.FindAllStringIndex(rest, -1) {
		if span[0] < offset && offset < span[1] {
			lang := ""
			if m := fenceOpenPattern.FindStringSubmatch(rest[span[0]:]); m != nil {
				lang = m[1]
			}
			return lang, true
		}
	}
	return "", false
}

// Mode selects the outbound formatting style.
type Mode int

const (
	// ModePlain escapes and chunks directly.
	ModePlain Mode = iota
	// ModeQuote wraps the reply in a collapsible blockquote.
	ModeQuote
)

// Format turns normalized reply text into the ordered MarkdownV2 segment
// sequence for one message. Quote mode only kicks in above the threshold;
// shorter replies fall back to plain formatting.
func Format(text string, mode Mode) []string {
	if mode == ModeQuote && len(text) > CollapsibleQuoteThreshold {
		return formatQuote(text)
	}
	return Chunk(Escape(text), MessageLimit)
}

// formatQuote builds collapsible-quote segments: every line carries a quote
// marker, code fences are stripped (they cannot appear inside a quote), and
// each chunk is terminated with the expandable-quote closer.
func formatQuote(text string) []string {
	escaped := strings.ReplaceAll(Escape(text), "```", "")
	lines := strings.Split(escaped, "\n")
	quoted := make([]string, len(lines))
	for i, l := range lines {
		prefix := ">"
		if i == 0 {
			prefix = "**>"
		}
		if strings.TrimSpace(l) == "" {
			quoted[i] = prefix
		} else {
			quoted[i] = prefix + l
		}
	}
	chunks := Chunk(strings.Join(quoted, "\n"), MessageLimit-len("||"))
	for i := range chunks {
		chunks[i] += "||"
	}
	return chunks
}
