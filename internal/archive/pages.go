package archive

import (
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/render"
)

const (
	templateBegin = `
<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 4.01 Transitional//EN" "http://www.w3.org/TR/html4/loose.dtd">
<html>
<head>
<meta http-equiv="Content-Type" content="text/html; charset=iso-8859-1">
<meta name="viewport" content="width=device-width">
<title>Cendyne Bowtie Blog</title>
</head>
<body bgcolor="#3F2E26">
`
	navBegin = `
<table align="center" border="0" cellpadding="20" width="460">
<tr>
`
	navEnd = `
</tr>
</table>
`
	entriesBegin = `
<table align="center" border="2" cellpadding="20" width="460" bordercolor="#deb836">
`
	entriesEnd = `
</table>
`
	templateEnd = `
</body>
</html>
`
)

const (
	nameColor = "#deb836"
	textColor = "#f6f3ed"

	defaultDisplayName = "Null"
	dateLayout         = "2006-01-02 15:04:05"
)

// block is the rendered table rows of one entry and the derived files it
// references.
type block struct {
	html  []byte
	files []string
}

// page is a run of consecutive blocks written to one document.
type page struct {
	blocks [][]byte
	files  map[string]bool
}

// PageName returns the file name of page n: index.html for the first page.
func PageName(n int) string {
	if n == 0 {
		return "index.html"
	}
	return fmt.Sprintf("page%d.html", n)
}

// encodeLatin1 encodes s as ISO-8859-1. Runes outside the charset become
// HTML numeric character references.
func encodeLatin1(s string) ([]byte, error) {
	enc := encoding.HTMLEscapeUnsupported(charmap.ISO8859_1.NewEncoder())
	return enc.Bytes([]byte(s))
}

// renderBlock renders the two table rows of an entry. icon and photo are
// derived file names, empty when unavailable.
func renderBlock(e *bowtie.Entry, icon, photo string) string {
	name := e.DisplayName
	if name == "" {
		name = defaultDisplayName
	}
	date := time.Unix(e.Date, 0).UTC().Format(dateLayout)

	var b strings.Builder
	fmt.Fprintf(&b, `<tr><td><font color="%s"><b>%s</b></font></td>`, nameColor, html.EscapeString(name))
	fmt.Fprintf(&b, `<td><font color="%s"><i>%s UTC</i></font></td></tr>`+"\n", textColor, date)
	b.WriteString("<tr><td>")
	if icon != "" {
		fmt.Fprintf(&b, `<img src="%s" alt="">`, html.EscapeString(icon))
	}
	b.WriteString(`</td><td valign="top">`)
	if photo != "" {
		fmt.Fprintf(&b, `<center><img src="%s" alt=""><br></center>`, html.EscapeString(photo))
	}
	if e.Content != "" {
		fmt.Fprintf(&b, `<font color="%s">`, textColor)
		b.WriteString(render.HTML(e.Content, e.Entities))
		b.WriteString("</font>")
	}
	b.WriteString("</td></tr>\n")
	return b.String()
}

// paginate packs blocks into pages. A block costs its encoded length plus
// the sizes of its files not already counted on the current page. A new page
// starts when the budget goes negative on a non-empty page or when the page
// is full; the triggering block then opens the new page. There is always at
// least one page.
func paginate(blocks []block, sizes map[string]int64, budget int64, maxEntries int) []*page {
	cur := &page{files: make(map[string]bool)}
	pages := []*page{cur}
	remaining := budget

	for _, blk := range blocks {
		cost := int64(len(blk.html))
		for _, f := range blk.files {
			if !cur.files[f] {
				cost += sizes[f]
			}
		}
		remaining -= cost

		if (remaining < 0 && len(cur.blocks) > 0) || len(cur.blocks) >= maxEntries {
			cur = &page{files: make(map[string]bool)}
			pages = append(pages, cur)
			remaining = budget - int64(len(blk.html))
			for _, f := range blk.files {
				if !cur.files[f] {
					remaining -= sizes[f]
					cur.files[f] = true
				}
			}
		}

		cur.blocks = append(cur.blocks, blk.html)
		for _, f := range blk.files {
			cur.files[f] = true
		}
	}
	return pages
}

// navigation renders the link row of page n out of count pages.
func navigation(n, count int) string {
	var b strings.Builder
	b.WriteString(navBegin)
	b.WriteString(`<td align="left">`)
	switch {
	case n == 1:
		b.WriteString(navLink(PageName(0), "First Page"))
	case n > 1:
		b.WriteString(navLink(PageName(n-1), "Previous Page"))
	}
	b.WriteString(`</td><td align="right">`)
	switch {
	case n+2 < count:
		b.WriteString(navLink(PageName(n+1), "Next Page"))
	case n+1 < count:
		b.WriteString(navLink(PageName(n+1), "Last Page"))
	}
	b.WriteString("</td>")
	b.WriteString(navEnd)
	return b.String()
}

func navLink(href, label string) string {
	return fmt.Sprintf(`<a href="%s"><font color="%s">%s</font></a>`, href, render.LinkColor, label)
}

// renderPage assembles the document for page n. Block bytes are already
// encoded; the surrounding markup is ASCII.
func renderPage(p *page, n, count int) []byte {
	nav := navigation(n, count)

	var b strings.Builder
	b.WriteString(templateBegin)
	b.WriteString(nav)
	b.WriteString(entriesBegin)
	for _, blk := range p.blocks {
		b.Write(blk)
	}
	b.WriteString(entriesEnd)
	b.WriteString(nav)
	b.WriteString(templateEnd)
	return []byte(b.String())
}
