package format

import (
	"regexp"
	"strconv"
	"strings"
)

// Dialect describes a platform's native inline markup.
type Dialect struct {
	Name   string
	Bold   string
	Italic string
	// Strike is empty when the platform has no strikethrough.
	Strike string
	// UnderscoreBold converts __x__ to bold. Off where __ means underline.
	UnderscoreBold bool
	// NativeLinks keeps [label](url); otherwise links become "label: url".
	NativeLinks bool
	// HTML renders tags instead of token pairs. Bold, Italic and Strike
	// are unused.
	HTML bool
}

var (
	WhatsApp = Dialect{Name: "whatsapp", Bold: "*", Italic: "_", Strike: "~", UnderscoreBold: true}
	Discord  = Dialect{Name: "discord", Bold: "**", Italic: "*", Strike: "~~", NativeLinks: true}
	// Telegram targets the HTML parse mode.
	Telegram = Dialect{Name: "telegram", UnderscoreBold: true, NativeLinks: true, HTML: true}
)

var (
	headerRe     = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")
	boldItalicRe = spanRe("***", "")
	boldRe       = spanRe("**", "")
	underBoldRe  = spanRe("__", "")
	strikeRe     = spanRe("~~", "")
	linkRe       = regexp.MustCompile(`!?\[([^\]\n]+)\]\(([^)\s]+)\)`)
	placeholder  = regexp.MustCompile("\x00(\\d+)\x00")
)

// spanRe matches marker-delimited text that neither starts nor ends with
// a space. The body never contains the marker character or any byte in
// exclude, so each span closes at the nearest marker.
func spanRe(marker, exclude string) *regexp.Regexp {
	q := regexp.QuoteMeta(marker)
	no := regexp.QuoteMeta(marker[:1]) + exclude
	return regexp.MustCompile(q + `([^` + no + `\s](?:[^` + no + `\n]*[^` + no + `\s])?)` + q)
}

// Transcode converts canonical markdown into the dialect. Lines inside
// fenced code blocks, fence lines included, are copied unchanged. Output
// already in the dialect's syntax is left as is, so Transcode is idempotent.
func (d Dialect) Transcode(s string) string {
	if s == "" {
		return s
	}
	if d.HTML {
		return transcodeHTML(s)
	}
	var sb strings.Builder
	sb.Grow(len(s))
	inFence := false
	for _, line := range strings.SplitAfter(s, "\n") {
		if isFenceLine(line) {
			inFence = !inFence
			sb.WriteString(line)
			continue
		}
		if inFence {
			sb.WriteString(line)
			continue
		}
		body, nl := strings.CutSuffix(line, "\n")
		sb.WriteString(d.line(body))
		if nl {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (d Dialect) line(s string) string {
	// Protect inline code spans from the emphasis rules.
	var spans []string
	s = inlineCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		spans = append(spans, m)
		return "\x00" + strconv.Itoa(len(spans)-1) + "\x00"
	})

	if m := headerRe.FindStringSubmatch(s); m != nil {
		title := strings.ReplaceAll(m[1], "**", "")
		if d.UnderscoreBold {
			title = underBoldRe.ReplaceAllString(title, "$1")
		}
		s = d.Bold + title + d.Bold
	} else {
		s = d.inline(s)
	}

	return restoreSpans(s, spans)
}

func restoreSpans(s string, spans []string) string {
	if len(spans) == 0 {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		i, err := strconv.Atoi(strings.Trim(m, "\x00"))
		if err != nil || i >= len(spans) {
			return m
		}
		return spans[i]
	})
}

func (d Dialect) inline(s string) string {
	s = boldItalicRe.ReplaceAllString(s, d.Bold+d.Italic+"${1}"+d.Italic+d.Bold)
	s = boldRe.ReplaceAllString(s, d.Bold+"${1}"+d.Bold)
	if d.UnderscoreBold {
		s = underBoldRe.ReplaceAllString(s, d.Bold+"${1}"+d.Bold)
	}
	if d.Strike != "" {
		s = strikeRe.ReplaceAllString(s, d.Strike+"${1}"+d.Strike)
	}
	if !d.NativeLinks {
		s = linkRe.ReplaceAllString(s, "${1}: ${2}")
	}
	return s
}
