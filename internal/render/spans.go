// Package render turns entry text and its annotated spans into HTML.
package render

import (
	"html"
	"strings"

	"bowtie-go/internal/bowtie"
)

// LinkColor is the font color wrapped around every link.
const LinkColor = "#f7b2a9"

const linkClose = "</font></a>"

// markup is the opening and closing HTML of one span kind. Link kinds build
// their opening tag from the span and the content it covers.
type markup struct {
	open  func(span bowtie.TextSpan, text []rune) string
	close string
}

func tag(name string) markup {
	return markup{
		open:  func(bowtie.TextSpan, []rune) string { return "<" + name + ">" },
		close: "</" + name + ">",
	}
}

func link(target func(span bowtie.TextSpan, text []rune) string) markup {
	return markup{
		open: func(span bowtie.TextSpan, text []rune) string {
			return `<a href="` + html.EscapeString(target(span, text)) + `"><font color="` + LinkColor + `">`
		},
		close: linkClose,
	}
}

var markups = map[bowtie.SpanKind]markup{
	bowtie.SpanBold:          tag("b"),
	bowtie.SpanItalic:        tag("i"),
	bowtie.SpanUnderline:     tag("u"),
	bowtie.SpanStrikethrough: tag("strike"),
	bowtie.SpanCode:          tag("code"),
	bowtie.SpanPre:           tag("pre"),
	bowtie.SpanURL: link(func(s bowtie.TextSpan, text []rune) string {
		return substring(text, s.Offset, s.Offset+s.Length)
	}),
	bowtie.SpanTextLink: link(func(s bowtie.TextSpan, _ []rune) string {
		return s.URL
	}),
	bowtie.SpanEmail: link(func(s bowtie.TextSpan, text []rune) string {
		return "mailto:" + substring(text, s.Offset, s.Offset+s.Length)
	}),
	bowtie.SpanMention: link(func(s bowtie.TextSpan, text []rune) string {
		// Skip the leading @.
		return "https://t.me/" + substring(text, s.Offset+1, s.Offset+s.Length)
	}),
}

func substring(text []rune, from, to int) string {
	from = max(0, min(from, len(text)))
	to = max(from, min(to, len(text)))
	return string(text[from:to])
}

// HTML renders content with its spans applied in a single left-to-right pass.
//
// Spans opening at the same character open in input order and spans ending at
// the same character close in reverse input order. Newlines become <br>
// outside of pre spans. Spans of unknown kind or without a positive length are
// ignored, and spans reaching past the end of content are closed at the end.
func HTML(content string, spans []bowtie.TextSpan) string {
	text := []rune(content)

	var valid []bowtie.TextSpan
	for _, s := range spans {
		if _, ok := markups[s.Type]; ok && s.Length > 0 && s.Offset >= 0 {
			valid = append(valid, s)
		}
	}

	var b strings.Builder
	b.Grow(len(content))

	var open []int // indexes into valid, in opening order
	openPre := 0

	for p, r := range text {
		for i, s := range valid {
			if s.Offset == p {
				b.WriteString(markups[s.Type].open(s, text))
				open = append(open, i)
				if s.Type == bowtie.SpanPre {
					openPre++
				}
			}
		}

		if r == '\n' && openPre == 0 {
			b.WriteString("<br>\n")
		} else {
			b.WriteString(html.EscapeString(string(r)))
		}

		for i := len(valid) - 1; i >= 0; i-- {
			s := valid[i]
			if s.Offset+s.Length-1 != p {
				continue
			}
			b.WriteString(markups[s.Type].close)
			open = remove(open, i)
			if s.Type == bowtie.SpanPre {
				openPre--
			}
		}
	}

	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString(markups[valid[open[i]].Type].close)
	}
	return b.String()
}

func remove(open []int, idx int) []int {
	for i, v := range open {
		if v == idx {
			return append(open[:i], open[i+1:]...)
		}
	}
	return open
}
