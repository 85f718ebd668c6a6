// Package markup converts normalized reply text into Telegram MarkdownV2
// and splits it into message-sized segments.
package markup

import (
	"fmt"
	"regexp"
	"strings"
)

// Specials are the characters MarkdownV2 reserves outside code spans.
const Specials = "_*[]()~`>#+-=|{}.!"

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern  = regexp.MustCompile("`[^`\n]+`")
	boldPattern        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	unescapePattern    = regexp.MustCompile(`\\([_*\[\]()~` + "`" + `>#+\-=|{}.!])`)
)

// Escape backslash-escapes every reserved MarkdownV2 character outside
// inline code and fenced code blocks. Paired ** bold spans become MarkdownV2
// bold (single *) with their content escaped; unpaired asterisks are escaped
// like any other reserved character. The transform is not idempotent:
// running it twice double-escapes, so callers run it exactly once.
func Escape(text string) string {
	if text == "" {
		return ""
	}

	// Protect code spans with placeholders, escape the rest, restore.
	var fences []string
	text = fencedBlockPattern.ReplaceAllStringFunc(text, func(m string) string {
		fences = append(fences, m)
		return fmt.Sprintf("\x00F%d\x00", len(fences)-1)
	})
	var inlines []string
	text = inlineCodePattern.ReplaceAllStringFunc(text, func(m string) string {
		inlines = append(inlines, m)
		return fmt.Sprintf("\x00I%d\x00", len(inlines)-1)
	})
	var bolds []string
	text = boldPattern.ReplaceAllStringFunc(text, func(m string) string {
		inner := m[2 : len(m)-2]
		bolds = append(bolds, "*"+escapeAll(inner)+"*")
		return fmt.Sprintf("\x00B%d\x00", len(bolds)-1)
	})

	text = escapeAll(text)

	for i, val := range bolds {
		text = strings.Replace(text, fmt.Sprintf("\x00B%d\x00", i), val, 1)
	}
	for i, val := range inlines {
		text = strings.Replace(text, fmt.Sprintf("\x00I%d\x00", i), val, 1)
	}
	for i, val := range fences {
		text = strings.Replace(text, fmt.Sprintf("\x00F%d\x00", i), val, 1)
	}
	return text
}

func escapeAll(text string) string {
	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		if r < 128 && strings.ContainsRune(Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Unescape strips the escape backslashes Escape inserted. Used for the
// plain-text fallback after the platform rejects the markup.
func Unescape(text string) string {
	return unescapePattern.ReplaceAllString(text, "$1")
}
