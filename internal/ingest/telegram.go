package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bowtie-go/internal/bowtie"
)

// TelegramBot implements Bot over the Telegram Bot API.
type TelegramBot struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
}

var _ Bot = (*TelegramBot)(nil)

// NewTelegramBot connects to the Bot API and verifies the token.
func NewTelegramBot(token string) (*TelegramBot, error) {
	return NewTelegramBotWithEndpoints(token, tgbotapi.APIEndpoint, tgbotapi.FileEndpoint, &http.Client{})
}

// NewTelegramBotWithEndpoints is NewTelegramBot against a custom API server.
// Both endpoints are format strings taking the token and the method or file path.
func NewTelegramBotWithEndpoints(token, apiEndpoint, fileEndpoint string, client *http.Client) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return &TelegramBot{api: api, client: client, fileEndpoint: fileEndpoint}, nil
}

// Username returns the bot's own user name.
func (b *TelegramBot) Username() string {
	return b.api.Self.UserName
}

func (b *TelegramBot) Reply(_ context.Context, chatID int64, replyTo int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (b *TelegramBot) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolving file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(b.fileEndpoint, b.api.Token, file.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading file: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (b *TelegramBot) UserIcon(_ context.Context, userID int64) (*Media, error) {
	photos, err := b.api.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: userID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("fetching profile photos: %w", err)
	}
	if len(photos.Photos) == 0 {
		return nil, nil
	}
	return largestPhoto(photos.Photos[0]), nil
}

func (b *TelegramBot) ChatIcon(_ context.Context, chatID int64) (*Media, error) {
	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, fmt.Errorf("fetching chat: %w", err)
	}
	switch p := chat.Photo; {
	case p == nil:
		return nil, nil
	case p.BigFileID != "":
		return &Media{Kind: MediaPhoto, FileID: p.BigFileID, UniqueID: p.BigFileUniqueID}, nil
	case p.SmallFileID != "":
		return &Media{Kind: MediaPhoto, FileID: p.SmallFileID, UniqueID: p.SmallFileUniqueID}, nil
	}
	return nil, nil
}

// largestPhoto picks the size with the most bytes, or nil.
func largestPhoto(sizes []tgbotapi.PhotoSize) *Media {
	var best *Media
	for _, s := range sizes {
		if best == nil || int64(s.FileSize) > best.Size {
			best = &Media{Kind: MediaPhoto, FileID: s.FileID, UniqueID: s.FileUniqueID, Size: int64(s.FileSize)}
		}
	}
	return best
}

// ConvertMessage reduces a Bot API message to a Message.
func ConvertMessage(m *tgbotapi.Message) *Message {
	msg := &Message{MessageID: m.MessageID}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.IsCommand() {
		msg.Command = m.Command()
	}
	msg.From = convertUser(m.From)
	msg.ForwardFrom = convertUser(m.ForwardFrom)
	msg.ForwardFromChat = convertChat(m.ForwardFromChat)
	msg.SenderChat = convertChat(m.SenderChat)

	msg.Text, msg.Spans = m.Text, convertEntities(m.Text, m.Entities)
	if m.Text == "" && m.Caption != "" {
		msg.Text, msg.Spans = m.Caption, convertEntities(m.Caption, m.CaptionEntities)
	}

	switch {
	case m.Sticker != nil:
		msg.Media = &Media{
			Kind:     MediaSticker,
			FileID:   m.Sticker.FileID,
			UniqueID: m.Sticker.FileUniqueID,
			Size:     int64(m.Sticker.FileSize),
			Animated: m.Sticker.IsAnimated,
		}
	case len(m.Photo) > 0:
		msg.Media = largestPhoto(m.Photo)
	case m.Animation != nil:
		msg.Media = &Media{
			Kind:     MediaAnimation,
			FileID:   m.Animation.FileID,
			UniqueID: m.Animation.FileUniqueID,
			Size:     int64(m.Animation.FileSize),
		}
	case m.Text == "":
		msg.Media = &Media{Kind: MediaOther}
	}
	return msg
}

func convertUser(u *tgbotapi.User) *User {
	if u == nil {
		return nil
	}
	return &User{ID: u.ID, FirstName: u.FirstName}
}

func convertChat(c *tgbotapi.Chat) *Chat {
	if c == nil {
		return nil
	}
	return &Chat{ID: c.ID, Title: c.Title}
}

// convertEntities maps Bot API entities, which count UTF-16 code units, to
// spans counting runes. Entities outside the text are dropped.
func convertEntities(text string, entities []tgbotapi.MessageEntity) []bowtie.TextSpan {
	if len(entities) == 0 {
		return nil
	}

	// unitToRune[u] is the rune index starting at UTF-16 offset u.
	unitToRune := make([]int, 0, len(text)+1)
	runes := 0
	for _, r := range text {
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		for range n {
			unitToRune = append(unitToRune, runes)
		}
		runes++
	}
	unitToRune = append(unitToRune, runes)

	spans := make([]bowtie.TextSpan, 0, len(entities))
	for _, e := range entities {
		end := e.Offset + e.Length
		if e.Offset < 0 || e.Length <= 0 || end >= len(unitToRune) {
			continue
		}
		start := unitToRune[e.Offset]
		spans = append(spans, bowtie.TextSpan{
			Type:   bowtie.SpanKind(e.Type),
			Offset: start,
			Length: unitToRune[end] - start,
			URL:    e.URL,
		})
	}
	return spans
}

// TelegramService long-polls the Bot API and hands messages to a Handler.
type TelegramService struct {
	bot     *TelegramBot
	handler *Handler
	timeout int
	logger  bowtie.Logger
	offset  int
}

// NewTelegramService creates the polling service. timeout is the long-poll
// timeout in seconds.
func NewTelegramService(bot *TelegramBot, handler *Handler, timeout int, logger bowtie.Logger) *TelegramService {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &TelegramService{bot: bot, handler: handler, timeout: timeout, logger: logger}
}

type updatesResult struct {
	updates []tgbotapi.Update
	err     error
}

// Serve implements suture.Service.
func (s *TelegramService) Serve(ctx context.Context) error {
	s.logger.Info("telegram bot started", "username", s.bot.Username())

	for {
		cfg := tgbotapi.NewUpdate(s.offset)
		cfg.Timeout = s.timeout

		// GetUpdates has no context; run it aside so shutdown is not held
		// up by a long poll.
		ch := make(chan updatesResult, 1)
		go func() {
			updates, err := s.bot.api.GetUpdates(cfg)
			ch <- updatesResult{updates: updates, err: err}
		}()

		var res updatesResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-ch:
		}

		if res.err != nil {
			s.logger.Warn("fetching updates failed", "error", res.err)
			if err := sleep(ctx, 3*time.Second); err != nil {
				return err
			}
			continue
		}

		for _, u := range res.updates {
			if u.UpdateID >= s.offset {
				s.offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			s.dispatch(ctx, ConvertMessage(u.Message))
		}
	}
}

func (s *TelegramService) dispatch(ctx context.Context, m *Message) {
	err := s.handler.Handle(ctx, m)
	switch {
	case err == nil:
	case isRejection(err):
		s.logger.Info("message rejected", "chat", m.ChatID, "reason", err)
	default:
		s.logger.Error("handling message failed", "chat", m.ChatID, "error", err)
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *TelegramService) String() string {
	return "telegram-bot"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
