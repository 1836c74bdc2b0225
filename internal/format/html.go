package format

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Tags produced during a pass are held as \x01name\x01 until the line is
// finished. Emphasis bodies may not contain \x01, so a later pass cannot
// wrap markers that a previous pass left unmatched around existing tags.
const noTag = `\x01`

var (
	htmlBoldItalicRe  = spanRe("***", noTag)
	htmlBoldRe        = spanRe("**", noTag)
	htmlUnderBoldRe   = spanRe("__", noTag)
	htmlStrikeRe      = spanRe("~~", noTag)
	htmlItalicRe      = spanRe("*", noTag)
	htmlUnderItalicRe = regexp.MustCompile(`\b_([^_\s\x01](?:[^_\n\x01]*[^_\s\x01])?)_\b`)

	// htmlSpanRe matches already rendered code and link spans.
	htmlSpanRe  = regexp.MustCompile(`<code>[^<]*</code>|<a href="[^"<>]*">[^<]*</a>`)
	emphTagRe   = regexp.MustCompile(`</?[bisu]>`)
	tagMarkRe   = regexp.MustCompile("\x01(/?[a-z]+)\x01")
	preTagRe    = regexp.MustCompile(`</?pre>|<code(?: class="[^"<>]*")?>|</code>`)
	escapableRe = regexp.MustCompile(`&(?:lt|gt|amp|quot|#[0-9]+|#[xX][0-9a-fA-F]+);|[&<>]`)
	anyTagRe    = regexp.MustCompile(`<[^<>]*>`)
)

func mark(tag string) string { return "\x01" + tag + "\x01" }

func wrap(tag string) string { return mark(tag) + "${1}" + mark("/"+tag) }

// EscapeHTML escapes &, < and > for Telegram's HTML mode. Entities Telegram
// accepts are kept, so escaping twice changes nothing.
func EscapeHTML(s string) string {
	return escapableRe.ReplaceAllStringFunc(s, func(m string) string {
		switch m {
		case "&":
			return "&amp;"
		case "<":
			return "&lt;"
		case ">":
			return "&gt;"
		}
		return m
	})
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(EscapeHTML(s), `"`, "&quot;")
}

// PlainText strips tags from HTML output and decodes its entities.
func PlainText(s string) string {
	return html.UnescapeString(anyTagRe.ReplaceAllString(s, ""))
}

// escapeKeeping escapes s except for matches of keep.
func escapeKeeping(s string, keep *regexp.Regexp) string {
	var sb strings.Builder
	last := 0
	for _, loc := range keep.FindAllStringIndex(s, -1) {
		sb.WriteString(EscapeHTML(s[last:loc[0]]))
		sb.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	sb.WriteString(EscapeHTML(s[last:]))
	return sb.String()
}

func preOpen(fenceLine string) string {
	lang := strings.Trim(strings.TrimSpace(fenceLine), "`")
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "<pre><code>"
	}
	return `<pre><code class="language-` + escapeAttr(lang) + `">`
}

// transcodeHTML renders fenced blocks as <pre><code> with their contents
// only escaped. Lines of an existing <pre> element are treated the same
// way, which keeps a second pass from touching code.
func transcodeHTML(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/8)
	inFence, inPre, pendingNL := false, false, false
	for _, line := range strings.SplitAfter(s, "\n") {
		if line == "" {
			continue
		}
		body, nl := strings.CutSuffix(line, "\n")
		switch {
		case inFence && isFenceLine(line):
			sb.WriteString("</code></pre>")
			inFence = false
		case inFence:
			if pendingNL {
				sb.WriteString("\n")
			}
			sb.WriteString(EscapeHTML(body))
			pendingNL = nl
			continue
		case inPre || strings.HasPrefix(body, "<pre>"):
			inPre = !strings.Contains(body, "</pre>")
			sb.WriteString(escapeKeeping(body, preTagRe))
		case isFenceLine(line):
			sb.WriteString(preOpen(body))
			inFence, pendingNL = true, false
			continue
		default:
			sb.WriteString(htmlLine(body))
		}
		if nl {
			sb.WriteString("\n")
		}
	}
	if inFence {
		sb.WriteString("</code></pre>")
	}
	return sb.String()
}

func htmlLine(s string) string {
	var spans []string
	protect := func(h string) string {
		spans = append(spans, h)
		return "\x00" + strconv.Itoa(len(spans)-1) + "\x00"
	}
	s = htmlSpanRe.ReplaceAllStringFunc(s, protect)
	// Spans never nest: code and link bodies hold plain escaped text.
	s = inlineCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		return protect("<code>" + EscapeHTML(restoreSpans(m[1:len(m)-1], spans)) + "</code>")
	})
	s = linkRe.ReplaceAllStringFunc(s, func(m string) string {
		sm := linkRe.FindStringSubmatch(m)
		label := PlainText(restoreSpans(sm[1], spans))
		return protect(`<a href="` + escapeAttr(sm[2]) + `">` + EscapeHTML(label) + "</a>")
	})
	s = emphTagRe.ReplaceAllStringFunc(s, func(m string) string {
		return mark(strings.Trim(m, "<>"))
	})
	s = EscapeHTML(s)

	if m := headerRe.FindStringSubmatch(s); m != nil {
		title := strings.ReplaceAll(m[1], "**", "")
		title = htmlUnderBoldRe.ReplaceAllString(title, "$1")
		s = mark("b") + htmlInline(title) + mark("/b")
	} else {
		s = htmlInline(s)
	}
	s = tagMarkRe.ReplaceAllString(s, "<$1>")
	return restoreSpans(s, spans)
}

func htmlInline(s string) string {
	s = htmlBoldItalicRe.ReplaceAllString(s, mark("b")+wrap("i")+mark("/b"))
	s = htmlBoldRe.ReplaceAllString(s, wrap("b"))
	s = htmlUnderBoldRe.ReplaceAllString(s, wrap("b"))
	s = htmlStrikeRe.ReplaceAllString(s, wrap("s"))
	s = htmlItalicRe.ReplaceAllString(s, wrap("i"))
	return htmlUnderItalicRe.ReplaceAllString(s, wrap("i"))
}
