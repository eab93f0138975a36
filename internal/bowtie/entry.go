package bowtie

// SpanKind identifies the formatting or link type of a TextSpan.
type SpanKind string

const (
	SpanBold          SpanKind = "bold"
	SpanItalic        SpanKind = "italic"
	SpanUnderline     SpanKind = "underline"
	SpanStrikethrough SpanKind = "strikethrough"
	SpanCode          SpanKind = "code"
	SpanPre           SpanKind = "pre"
	SpanURL           SpanKind = "url"
	SpanTextLink      SpanKind = "text_link"
	SpanEmail         SpanKind = "email"
	SpanMention       SpanKind = "mention"
)

// Valid reports whether k is one of the known span kinds.
func (k SpanKind) Valid() bool {
	switch k {
	case SpanBold, SpanItalic, SpanUnderline, SpanStrikethrough, SpanCode, SpanPre,
		SpanURL, SpanTextLink, SpanEmail, SpanMention:
		return true
	}
	return false
}

// TextSpan annotates a character range of an entry's content.
// Offset and Length count characters (runes), not bytes.
// URL is only meaningful for SpanTextLink.
type TextSpan struct {
	Type   SpanKind `json:"type"`
	Offset int      `json:"offset"`
	Length int      `json:"length"`
	URL    string   `json:"url,omitempty"`
}

// Entry is one archived content item.
// Optional string fields use "" for absent; they are stored as NULL.
// Entries are immutable once inserted and ID is assigned by the store.
type Entry struct {
	ID          int64
	Date        int64 // unix seconds
	Content     string
	Photo       string // key into the downloads directory
	Entities    []TextSpan
	DisplayName string
	Icon        string // key into the downloads directory
}

// Asset maps a downloaded source file and a derivation variant to the
// derived file written into the web directory.
type Asset struct {
	ID          int64
	Source      string
	Variant     Variant
	Destination string
}
