package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/metrics"
)

// listCount is how many entries the list command reports.
const listCount = 10

// Bot is the messaging service as seen by the Handler.
type Bot interface {
	// Reply sends text to chatID as a reply to message replyTo.
	Reply(ctx context.Context, chatID int64, replyTo int, text string) error
	// OpenFile opens the content of an uploaded file.
	OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error)
	// UserIcon returns the largest current profile photo, or nil.
	UserIcon(ctx context.Context, userID int64) (*Media, error)
	// ChatIcon returns the chat photo, or nil.
	ChatIcon(ctx context.Context, chatID int64) (*Media, error)
}

// Handler archives messages from the admin and answers everyone else.
type Handler struct {
	db        bowtie.Database
	bot       Bot
	downloads *Downloads
	adminID   int64
	clock     bowtie.Clock
	listRate  *rate.Limiter
	logger    bowtie.Logger
}

// NewHandler creates a Handler that accepts messages from adminID only.
func NewHandler(db bowtie.Database, bot Bot, downloads *Downloads, adminID int64, logger bowtie.Logger) *Handler {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &Handler{
		db:        db,
		bot:       bot,
		downloads: downloads,
		adminID:   adminID,
		clock:     bowtie.RealClock{},
		listRate:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:    logger,
	}
}

// SetClock replaces the clock used to date new entries.
func (h *Handler) SetClock(c bowtie.Clock) {
	h.clock = c
}

// SetListInterval sets the pause between list replies. Zero disables it.
func (h *Handler) SetListInterval(d time.Duration) {
	if d <= 0 {
		h.listRate = rate.NewLimiter(rate.Inf, 1)
		return
	}
	h.listRate = rate.NewLimiter(rate.Every(d), 1)
}

// Handle processes one message. Rejections are answered in the chat and
// reported as ErrNotAuthorized, ErrTooBig or ErrUnsupported. Animated
// stickers are dropped without a reply.
func (h *Handler) Handle(ctx context.Context, m *Message) error {
	if m.From == nil || m.From.ID != h.adminID {
		return h.reject(ctx, m, "unauthorized", ReplyNotAuthorized, ErrNotAuthorized)
	}
	if m.Command == "list" {
		return h.list(ctx, m)
	}

	var photo string
	switch kind := mediaKind(m); kind {
	case MediaNone:
		if m.Text == "" {
			return h.reject(ctx, m, "unsupported", ReplyUnsupported, ErrUnsupported)
		}
	case MediaSticker:
		if m.Media.Animated {
			metrics.MessagesRejected.WithLabelValues("animated_sticker").Inc()
			h.logger.Debug("skipping animated sticker", "message", m.MessageID)
			return nil
		}
	case MediaAnimation:
		if m.Media.Size > MaxAnimationBytes {
			return h.reject(ctx, m, "too_big", ReplyTooBig, ErrTooBig)
		}
	case MediaPhoto:
	default:
		return h.reject(ctx, m, "unsupported", ReplyUnsupported, ErrUnsupported)
	}

	if m.Media != nil {
		name := downloadName(m.Media)
		if err := h.downloads.Ensure(ctx, name, h.opener(m.Media.FileID)); err != nil {
			return fmt.Errorf("downloading media: %w", err)
		}
		photo = name
	}

	displayName, icon := h.attribution(ctx, m)
	entry := &bowtie.Entry{
		Date:        h.clock.Now().Unix(),
		Content:     m.Text,
		Photo:       photo,
		Entities:    m.Spans,
		DisplayName: displayName,
		Icon:        icon,
	}
	if err := h.db.AddEntry(ctx, entry); err != nil {
		return fmt.Errorf("adding entry: %w", err)
	}

	metrics.EntriesIngested.WithLabelValues("telegram").Inc()
	h.logger.Info("archived message", "entry", entry.ID, "message", m.MessageID, "photo", photo)
	return nil
}

func mediaKind(m *Message) MediaKind {
	if m.Media == nil {
		return MediaNone
	}
	return m.Media.Kind
}

// downloadName is the stable file name of an attachment.
func downloadName(media *Media) string {
	switch media.Kind {
	case MediaSticker:
		return "sticker_" + media.UniqueID + ".webp"
	case MediaAnimation:
		return "anim_" + media.UniqueID + ".mp4"
	default:
		return "photo_" + media.UniqueID + ".jpg"
	}
}

func iconName(media *Media) string {
	return "icon_" + media.UniqueID + ".jpg"
}

func (h *Handler) opener(fileID string) OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return h.bot.OpenFile(ctx, fileID)
	}
}

// attribution picks the display name and icon: the chat a message was
// posted or forwarded from wins over the forwarded or sending user.
// A missing icon does not prevent archiving.
func (h *Handler) attribution(ctx context.Context, m *Message) (string, string) {
	var (
		name string
		icon *Media
		err  error
	)

	chat := m.ForwardFromChat
	if chat == nil {
		chat = m.SenderChat
	}
	if chat != nil {
		name = chat.Title
		icon, err = h.bot.ChatIcon(ctx, chat.ID)
	} else {
		user := m.ForwardFrom
		if user == nil {
			user = m.From
		}
		name = user.FirstName
		icon, err = h.bot.UserIcon(ctx, user.ID)
	}

	if err != nil {
		h.logger.Warn("looking up icon failed", "error", err)
		return name, ""
	}
	if icon == nil {
		return name, ""
	}

	file := iconName(icon)
	if err := h.downloads.Ensure(ctx, file, h.opener(icon.FileID)); err != nil {
		h.logger.Warn("downloading icon failed", "error", err)
		return name, ""
	}
	return name, file
}

func (h *Handler) reject(ctx context.Context, m *Message, reason, text string, err error) error {
	metrics.MessagesRejected.WithLabelValues(reason).Inc()
	h.reply(ctx, m, text)
	return err
}

func (h *Handler) reply(ctx context.Context, m *Message, text string) {
	if err := h.bot.Reply(ctx, m.ChatID, m.MessageID, text); err != nil {
		h.logger.Warn("reply failed", "chat", m.ChatID, "error", err)
	}
}

// listedEntry is the JSON form of an entry in list replies.
type listedEntry struct {
	ID          int64             `json:"id"`
	Date        int64             `json:"date"`
	Content     string            `json:"content,omitempty"`
	Photo       string            `json:"photo,omitempty"`
	Entities    []bowtie.TextSpan `json:"entities,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Icon        string            `json:"icon,omitempty"`
}

// list replies with the newest entries, one message each.
func (h *Handler) list(ctx context.Context, m *Message) error {
	entries, err := h.db.FindEntries(ctx, listCount, 0)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	if len(entries) == 0 {
		h.reply(ctx, m, "No entries")
		return nil
	}

	for _, e := range entries {
		data, err := json.Marshal(listedEntry{
			ID:          e.ID,
			Date:        e.Date,
			Content:     e.Content,
			Photo:       e.Photo,
			Entities:    e.Entities,
			DisplayName: e.DisplayName,
			Icon:        e.Icon,
		})
		if err != nil {
			return fmt.Errorf("encoding entry %d: %w", e.ID, err)
		}
		if err := h.listRate.Wait(ctx); err != nil {
			return err
		}
		h.reply(ctx, m, string(data))
	}
	return nil
}
