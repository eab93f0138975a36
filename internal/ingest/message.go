// Package ingest turns bot messages and social-feed items into archive entries.
package ingest

import (
	"errors"

	"bowtie-go/internal/bowtie"
)

var (
	// ErrNotAuthorized is returned for messages from anyone but the admin.
	ErrNotAuthorized = errors.New("sender not authorized")
	// ErrTooBig is returned for animations over MaxAnimationBytes.
	ErrTooBig = errors.New("media too big")
	// ErrUnsupported is returned for message kinds that are not archived.
	ErrUnsupported = errors.New("unsupported message")
)

// MaxAnimationBytes is the largest animation accepted from the bot.
const MaxAnimationBytes = 10_000_000

// Reply texts sent back to the sender.
const (
	ReplyNotAuthorized = "401"
	ReplyTooBig        = "Too big"
	ReplyUnsupported   = "Unsupported"
)

// MediaKind classifies the media attached to a message.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaSticker
	MediaAnimation
	MediaOther
)

// Media is a downloadable attachment.
type Media struct {
	Kind     MediaKind
	FileID   string // for fetching the content
	UniqueID string // stable across bots, used for the download name
	Size     int64
	Animated bool // animated stickers are not archived
}

// User is a person who sent or originally wrote a message.
type User struct {
	ID        int64
	FirstName string
}

// Chat is a channel or group a message was posted or forwarded from.
type Chat struct {
	ID    int64
	Title string
}

// Message is a bot message reduced to what ingestion needs.
// Spans count runes of Text.
type Message struct {
	ChatID    int64
	MessageID int
	Command   string

	From            *User
	ForwardFrom     *User
	ForwardFromChat *Chat
	SenderChat      *Chat

	Text  string // message text or media caption
	Spans []bowtie.TextSpan
	Media *Media
}
