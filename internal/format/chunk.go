// Package format splits and transcodes outgoing text for platform limits and
// native markup.
package format

import (
	"strings"
	"unicode/utf8"
)

const fence = "```"

// segment is a run of plain text or one fenced code block.
type segment struct {
	text string
	code bool
}

// Chunk splits text into pieces of at most limit runes. Concatenating the
// result reproduces text, except that a fenced block larger than limit is
// split and each piece re-wrapped in its own fence lines.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || runeLen(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(unit string) {
		n := runeLen(unit)
		if curLen+n > limit {
			flush()
		}
		cur.WriteString(unit)
		curLen += n
	}

	for _, seg := range parseSegments(text) {
		if seg.code {
			if runeLen(seg.text) <= limit {
				add(seg.text)
				continue
			}
			flush()
			chunks = append(chunks, splitCode(seg.text, limit)...)
			continue
		}
		for _, unit := range paragraphs(seg.text) {
			if runeLen(unit) <= limit {
				add(unit)
				continue
			}
			for _, piece := range splitPlain(unit, limit) {
				add(piece)
			}
		}
	}
	flush()
	return chunks
}

// parseSegments separates fenced code blocks from plain text. A fence opens
// on a line whose first non-blank characters are ``` and closes on the next
// such line; an unclosed fence runs to the end of the input.
func parseSegments(text string) []segment {
	var (
		segs   []segment
		buf    strings.Builder
		inCode bool
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if isFenceLine(line) {
			if !inCode {
				if buf.Len() > 0 {
					segs = append(segs, segment{text: buf.String()})
					buf.Reset()
				}
				buf.WriteString(line)
				inCode = true
				continue
			}
			buf.WriteString(line)
			segs = append(segs, segment{text: buf.String(), code: true})
			buf.Reset()
			inCode = false
			continue
		}
		buf.WriteString(line)
	}
	if buf.Len() > 0 {
		segs = append(segs, segment{text: buf.String(), code: inCode})
	}
	return segs
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), fence)
}

// paragraphs splits plain text after every blank-line delimiter, keeping the
// delimiter on the preceding unit.
func paragraphs(text string) []string {
	var units []string
	for {
		idx := strings.Index(text, "\n\n")
		if idx < 0 {
			break
		}
		end := idx + 2
		for end < len(text) && text[end] == '\n' {
			end++
		}
		units = append(units, text[:end])
		text = text[end:]
	}
	if text != "" {
		units = append(units, text)
	}
	return units
}

// splitPlain cuts s into pieces of at most limit runes, preferring the last
// blank line, then the last newline, then a hard cut at the limit.
func splitPlain(s string, limit int) []string {
	var pieces []string
	for runeLen(s) > limit {
		window := prefixRunes(s, limit)
		cut := strings.LastIndex(window, "\n\n")
		if cut >= 0 {
			cut += 2
		} else if nl := strings.LastIndex(window, "\n"); nl >= 0 {
			cut = nl + 1
		} else {
			cut = len(window)
		}
		pieces = append(pieces, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// splitCode splits an oversized fenced block by lines and re-wraps every
// piece with the opening fence line and a closing fence.
func splitCode(block string, limit int) []string {
	open, rest, ok := strings.Cut(block, "\n")
	if !ok {
		return splitPlain(block, limit)
	}
	open += "\n"

	body, closing := rest, ""
	if i := lastFenceLine(rest); i >= 0 {
		body, closing = rest[:i], rest[i:]
	}

	const closeLen = len("\n" + fence + "\n")
	budget := limit - runeLen(open) - closeLen
	if budget <= 0 {
		return splitPlain(block, limit)
	}

	parts := splitPlain(body, budget)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		var sb strings.Builder
		sb.WriteString(open)
		sb.WriteString(part)
		if !strings.HasSuffix(part, "\n") {
			sb.WriteString("\n")
		}
		if i == len(parts)-1 && closing != "" {
			sb.WriteString(strings.TrimLeft(closing, " \t"))
		} else {
			sb.WriteString(fence + "\n")
		}
		out = append(out, sb.String())
	}
	return out
}

// lastFenceLine returns the byte offset of the final fence line in s, or -1.
func lastFenceLine(s string) int {
	trimmed := strings.TrimRight(s, "\n")
	start := strings.LastIndex(trimmed, "\n") + 1
	if isFenceLine(trimmed[start:]) {
		return start
	}
	return -1
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// prefixRunes returns the longest prefix of s holding at most n runes.
func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TailRunes returns the last n runes of s.
func TailRunes(s string, n int) string {
	count := runeLen(s)
	if count <= n {
		return s
	}
	skip := count - n
	i := 0
	for pos := range s {
		if i == skip {
			return s[pos:]
		}
		i++
	}
	return ""
}
