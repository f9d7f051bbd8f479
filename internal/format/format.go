// Package format converts raw model output into Telegram's HTML subset and
// splits it into payloads that fit the platform's message size limit.
package format

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	boldOpen  = "<b>"
	boldClose = "</b>"
	bullet    = "• "
)

var (
	markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	// `.` does not cross newlines, so a ** pair split over two lines stays literal.
	boldSpan     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	numberedItem = regexp.MustCompile(`(?m)^(\d+)\.[ \t]+`)
	bulletItem   = regexp.MustCompile(`(?m)^[*-][ \t]+`)

	anyTag = regexp.MustCompile(`<[^>]+>`)
)

// Format escapes text and converts bold spans, numbered items and bullets
// into Telegram HTML. Escaping runs first so the tags introduced afterwards
// survive. Format is not idempotent: a second pass escapes its own output.
func Format(text string) string {
	text = markupEscaper.Replace(text)
	text = boldSpan.ReplaceAllString(text, boldOpen+"$1"+boldClose)
	text = numberedItem.ReplaceAllString(text, boldOpen+"$1."+boldClose+" ")
	text = bulletItem.ReplaceAllString(text, bullet)
	return text
}

// StripMarkup removes all tags and unescapes entities, producing the plain
// text a user would have seen had the markup rendered.
func StripMarkup(text string) string {
	return html.UnescapeString(anyTag.ReplaceAllString(text, ""))
}

// Length is the size of text in the unit used for the message limit.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}
