package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxLength is Telegram's per-message text limit.
	DefaultMaxLength = 4096

	paragraphSep = "\n\n"

	// longest entity name we may meet, e.g. "&thetasym;"
	maxEntityLen = 10
)

var boldTag = regexp.MustCompile(`</?b>`)

// Chunk splits text into payloads of at most maxLen units.
//
// Text that already fits is returned as is. Otherwise paragraphs (separated
// by a blank line) are packed greedily, and each chunk is trimmed. A paragraph
// that cannot fit in a chunk on its own is hard-split on line breaks, spaces
// or rune boundaries, never inside a tag or an entity; bold spans cut in two
// are closed and reopened. The size guarantee holds for maxLen >= 16.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 || Length(text) <= maxLen {
		return []string{text}
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, para := range strings.Split(text, paragraphSep) {
		n := Length(para)
		if bufLen+n+len(paragraphSep) <= maxLen {
			buf.WriteString(para)
			buf.WriteString(paragraphSep)
			bufLen += n + len(paragraphSep)
			continue
		}

		flush()
		if n+len(paragraphSep) > maxLen {
			chunks = append(chunks, hardSplit(para, maxLen)...)
			continue
		}
		buf.WriteString(para)
		buf.WriteString(paragraphSep)
		bufLen = n + len(paragraphSep)
	}
	flush()

	return chunks
}

// hardSplit cuts a single paragraph into pieces of at most maxLen units.
func hardSplit(text string, maxLen int) []string {
	var pieces []string
	carry := false // a bold span continues from the previous piece
	rest := strings.TrimSpace(text)

	for rest != "" {
		prefix := ""
		if carry {
			prefix = boldOpen
		}
		if Length(prefix)+Length(rest) <= maxLen {
			if strings.TrimSpace(StripMarkup(rest)) != "" {
				pieces = append(pieces, prefix+rest)
			}
			break
		}

		budget := maxLen - Length(prefix) - Length(boldClose)
		cut := cutIndex(rest, budget)
		head := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)

		open := boldOpenAfter(head, carry)
		piece := prefix + head
		if open {
			piece += boldClose
		}
		if strings.TrimSpace(StripMarkup(head)) != "" {
			pieces = append(pieces, piece)
		}

		carry = open
		rest = strings.TrimLeftFunc(rest[cut:], unicode.IsSpace)
	}
	return pieces
}

// cutIndex returns a byte index in (0, len(s)] at which s may be cut so that
// s[:index] holds at most budget runes, when markup allows it.
func cutIndex(s string, budget int) int {
	limit := runeOffset(s, budget)
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(s)
		limit = size
	}

	if nl := strings.LastIndexByte(s[:limit], '\n'); nl > limit/2 && !insideMarkup(s, nl) {
		return nl
	}
	if sp := strings.LastIndexByte(s[:limit], ' '); sp > limit/2 && !insideMarkup(s, sp) {
		return sp
	}
	for i := limit; i > 0; {
		if !insideMarkup(s, i) {
			return i
		}
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return markupEnd(s, limit)
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	if n <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

// insideMarkup reports whether cutting s at byte i would split a tag or an entity.
func insideMarkup(s string, i int) bool {
	head := s[:i]
	if lt := strings.LastIndexByte(head, '<'); lt >= 0 && lt > strings.LastIndexByte(head, '>') {
		return true
	}
	amp := strings.LastIndexByte(head, '&')
	if amp < 0 || strings.IndexByte(head[amp:], ';') >= 0 {
		return false
	}
	end := strings.IndexByte(s[amp:], ';')
	return end > 1 && end <= maxEntityLen && isEntityName(s[amp+1:amp+end])
}

func isEntityName(name string) bool {
	for _, r := range name {
		if r != '#' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// markupEnd returns the index just after the tag or entity enclosing byte i.
func markupEnd(s string, i int) int {
	if end := strings.IndexAny(s[i:], ">;"); end >= 0 {
		return i + end + 1
	}
	return len(s)
}

// boldOpenAfter reports whether a bold span is still open at the end of s.
func boldOpenAfter(s string, open bool) bool {
	for _, tag := range boldTag.FindAllString(s, -1) {
		open = tag == boldOpen
	}
	return open
}
