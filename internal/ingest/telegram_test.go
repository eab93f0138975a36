package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/goccy/go-json"

	"bowtie-go/internal/bowtie"
)

const testToken = "123:abc"

// fakeTelegram answers the Bot API methods used by TelegramBot.
type fakeTelegram struct {
	mu      sync.Mutex
	sent    []map[string]string
	updates []string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		io.WriteString(w, "jpegdata")
		return
	}
	r.ParseForm()
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")

	var result string
	switch method {
	case "getMe":
		result = `{"id":1,"is_bot":true,"first_name":"Bowtie","username":"bowtie_bot"}`
	case "sendMessage":
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":             r.Form.Get("chat_id"),
			"text":                r.Form.Get("text"),
			"reply_to_message_id": r.Form.Get("reply_to_message_id"),
		})
		f.mu.Unlock()
		result = `{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}`
	case "getUserProfilePhotos":
		if r.Form.Get("user_id") == "9" {
			result = `{"total_count":0,"photos":[]}`
			break
		}
		result = `{"total_count":1,"photos":[[` +
			`{"file_id":"small","file_unique_id":"S","width":160,"height":160,"file_size":100},` +
			`{"file_id":"big","file_unique_id":"B","width":640,"height":640,"file_size":900}]]}`
	case "getChat":
		result = `{"id":-100,"type":"channel","title":"Bowties","photo":` +
			`{"small_file_id":"cs","small_file_unique_id":"CS","big_file_id":"cb","big_file_unique_id":"CB"}}`
	case "getFile":
		result = `{"file_id":"big","file_unique_id":"B","file_path":"photos/file_1.jpg"}`
	case "getUpdates":
		f.mu.Lock()
		if len(f.updates) > 0 {
			result = "[" + f.updates[0] + "]"
			f.updates = f.updates[1:]
		} else {
			result = "[]"
		}
		f.mu.Unlock()
		if result == "[]" {
			time.Sleep(10 * time.Millisecond)
		}
	default:
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func newTestBot(t *testing.T) (*TelegramBot, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	bot, err := NewTelegramBotWithEndpoints(testToken, srv.URL+"/bot%s/%s", srv.URL+"/file/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewTelegramBotWithEndpoints() error = %v", err)
	}
	return bot, fake
}

func TestTelegramBot(t *testing.T) {
	ctx := context.Background()
	bot, fake := newTestBot(t)

	if bot.Username() != "bowtie_bot" {
		t.Errorf("Username() = %q", bot.Username())
	}

	t.Run("reply", func(t *testing.T) {
		if err := bot.Reply(ctx, 42, 7, "401"); err != nil {
			t.Fatalf("Reply() error = %v", err)
		}
		got := fake.sent[len(fake.sent)-1]
		if got["chat_id"] != "42" || got["text"] != "401" || got["reply_to_message_id"] != "7" {
			t.Errorf("sent %v", got)
		}
	})

	t.Run("user icon picks the largest size", func(t *testing.T) {
		icon, err := bot.UserIcon(ctx, 1001)
		if err != nil {
			t.Fatalf("UserIcon() error = %v", err)
		}
		if icon == nil || icon.FileID != "big" || icon.UniqueID != "B" {
			t.Errorf("UserIcon() = %+v, want big", icon)
		}
	})

	t.Run("user without photos", func(t *testing.T) {
		icon, err := bot.UserIcon(ctx, 9)
		if err != nil || icon != nil {
			t.Errorf("UserIcon() = %+v, %v; want nil, nil", icon, err)
		}
	})

	t.Run("chat icon prefers the big photo", func(t *testing.T) {
		icon, err := bot.ChatIcon(ctx, -100)
		if err != nil {
			t.Fatalf("ChatIcon() error = %v", err)
		}
		if icon == nil || icon.FileID != "cb" || icon.UniqueID != "CB" {
			t.Errorf("ChatIcon() = %+v, want cb", icon)
		}
	})

	t.Run("open file", func(t *testing.T) {
		rc, err := bot.OpenFile(ctx, "big")
		if err != nil {
			t.Fatalf("OpenFile() error = %v", err)
		}
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		if string(data) != "jpegdata" {
			t.Errorf("content = %q", data)
		}
	})
}

func decodeMessage(t *testing.T, raw string) *tgbotapi.Message {
	t.Helper()
	var m tgbotapi.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	return &m
}

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantKind  MediaKind
		wantCmd   string
		wantMedia *Media
	}{
		{
			name:     "text",
			raw:      `{"message_id":3,"chat":{"id":42},"from":{"id":1001,"first_name":"Cendyne"},"text":"hello"}`,
			wantText: "hello",
			wantKind: MediaNone,
		},
		{
			name:     "command",
			raw:      `{"message_id":3,"chat":{"id":42},"from":{"id":1001},"text":"/list","entities":[{"type":"bot_command","offset":0,"length":5}]}`,
			wantText: "/list",
			wantCmd:  "list",
			wantKind: MediaNone,
		},
		{
			name: "photo uses the largest size and the caption",
			raw: `{"message_id":3,"chat":{"id":42},"from":{"id":1001},"caption":"look",` +
				`"photo":[{"file_id":"s","file_unique_id":"S","file_size":10},{"file_id":"l","file_unique_id":"L","file_size":99}]}`,
			wantText:  "look",
			wantKind:  MediaPhoto,
			wantMedia: &Media{Kind: MediaPhoto, FileID: "l", UniqueID: "L", Size: 99},
		},
		{
			name:      "animated sticker",
			raw:       `{"message_id":3,"chat":{"id":42},"from":{"id":1001},"sticker":{"file_id":"st","file_unique_id":"ST","is_animated":true}}`,
			wantKind:  MediaSticker,
			wantMedia: &Media{Kind: MediaSticker, FileID: "st", UniqueID: "ST", Animated: true},
		},
		{
			name:      "animation",
			raw:       `{"message_id":3,"chat":{"id":42},"from":{"id":1001},"animation":{"file_id":"an","file_unique_id":"AN","file_size":12345}}`,
			wantKind:  MediaAnimation,
			wantMedia: &Media{Kind: MediaAnimation, FileID: "an", UniqueID: "AN", Size: 12345},
		},
		{
			name:     "document is unsupported",
			raw:      `{"message_id":3,"chat":{"id":42},"from":{"id":1001},"caption":"doc","document":{"file_id":"d","file_unique_id":"D"}}`,
			wantText: "doc",
			wantKind: MediaOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ConvertMessage(decodeMessage(t, tt.raw))
			if m.ChatID != 42 || m.MessageID != 3 {
				t.Errorf("chat/message = %d/%d", m.ChatID, m.MessageID)
			}
			if m.Text != tt.wantText || m.Command != tt.wantCmd {
				t.Errorf("text/command = %q/%q, want %q/%q", m.Text, m.Command, tt.wantText, tt.wantCmd)
			}
			if mediaKind(m) != tt.wantKind {
				t.Errorf("media kind = %v, want %v", mediaKind(m), tt.wantKind)
			}
			if tt.wantMedia != nil && *m.Media != *tt.wantMedia {
				t.Errorf("media = %+v, want %+v", *m.Media, *tt.wantMedia)
			}
		})
	}
}

func TestConvertMessage_Attribution(t *testing.T) {
	m := ConvertMessage(decodeMessage(t, `{"message_id":1,"chat":{"id":42},`+
		`"from":{"id":1001,"first_name":"Cendyne"},`+
		`"forward_from":{"id":55,"first_name":"Alice"},`+
		`"forward_from_chat":{"id":-100,"title":"Bowties"},`+
		`"sender_chat":{"id":-200,"title":"Group"},"text":"x"}`))

	if m.From.ID != 1001 || m.ForwardFrom.FirstName != "Alice" {
		t.Errorf("users = %+v, %+v", m.From, m.ForwardFrom)
	}
	if m.ForwardFromChat.Title != "Bowties" || m.SenderChat.ID != -200 {
		t.Errorf("chats = %+v, %+v", m.ForwardFromChat, m.SenderChat)
	}
}

func TestConvertEntities(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []tgbotapi.MessageEntity
		want     []bowtie.TextSpan
	}{
		{
			name:     "ascii",
			text:     "hello world",
			entities: []tgbotapi.MessageEntity{{Type: "bold", Offset: 6, Length: 5}},
			want:     []bowtie.TextSpan{{Type: bowtie.SpanBold, Offset: 6, Length: 5}},
		},
		{
			name:     "surrogate pairs count as one rune",
			text:     "😀 bold",
			entities: []tgbotapi.MessageEntity{{Type: "bold", Offset: 3, Length: 4}},
			want:     []bowtie.TextSpan{{Type: bowtie.SpanBold, Offset: 2, Length: 4}},
		},
		{
			name:     "span covering an emoji",
			text:     "a😀b",
			entities: []tgbotapi.MessageEntity{{Type: "italic", Offset: 0, Length: 4}},
			want:     []bowtie.TextSpan{{Type: bowtie.SpanItalic, Offset: 0, Length: 3}},
		},
		{
			name:     "text link keeps its url",
			text:     "site",
			entities: []tgbotapi.MessageEntity{{Type: "text_link", Offset: 0, Length: 4, URL: "https://example.com"}},
			want:     []bowtie.TextSpan{{Type: bowtie.SpanTextLink, Offset: 0, Length: 4, URL: "https://example.com"}},
		},
		{
			name:     "out of range is dropped",
			text:     "short",
			entities: []tgbotapi.MessageEntity{{Type: "bold", Offset: 3, Length: 10}},
			want:     []bowtie.TextSpan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertEntities(tt.text, tt.entities)
			if len(got) != len(tt.want) {
				t.Fatalf("spans = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTelegramService_Serve(t *testing.T) {
	bot, fake := newTestBot(t)
	fake.mu.Lock()
	fake.updates = []string{
		`{"update_id":10,"message":{"message_id":1,"chat":{"id":42},"from":{"id":1001,"first_name":"Cendyne"},"text":"from telegram"}}`,
		`{"update_id":11,"message":{"message_id":2,"chat":{"id":42},"from":{"id":7,"first_name":"Eve"},"text":"spam"}}`,
	}
	fake.mu.Unlock()

	hf := newHandlerFixture(t)
	svc := NewTelegramService(bot, hf.h, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		hf.bot.mu.Lock()
		replied := len(hf.bot.replies) > 0
		hf.bot.mu.Unlock()
		if replied {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	entries := hf.entries(t)
	if len(entries) != 1 || entries[0].Content != "from telegram" {
		t.Errorf("entries = %+v, want the admin message", entries)
	}
	if svc.offset != 12 {
		t.Errorf("offset = %d, want 12", svc.offset)
	}
	if svc.String() != "telegram-bot" {
		t.Errorf("String() = %q", svc.String())
	}
}
