package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/database"
	"bowtie-go/internal/fs"
	"bowtie-go/internal/testutil"
)

const adminID = 1001

type fakeBot struct {
	mu        sync.Mutex
	replies   []string
	files     map[string]string
	opens     []string
	userIcons map[int64]*Media
	chatIcons map[int64]*Media
	iconErr   error
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		files:     make(map[string]string),
		userIcons: make(map[int64]*Media),
		chatIcons: make(map[int64]*Media),
	}
}

func (b *fakeBot) Reply(_ context.Context, _ int64, _ int, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, text)
	return nil
}

func (b *fakeBot) OpenFile(_ context.Context, fileID string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens = append(b.opens, fileID)
	content, ok := b.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (b *fakeBot) UserIcon(_ context.Context, userID int64) (*Media, error) {
	return b.userIcons[userID], b.iconErr
}

func (b *fakeBot) ChatIcon(_ context.Context, chatID int64) (*Media, error) {
	return b.chatIcons[chatID], b.iconErr
}

type handlerFixture struct {
	db        *database.SQLiteDatabase
	bot       *fakeBot
	downloads *fs.Dir
	h         *Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	dir, err := fs.NewDir(filepath.Join(t.TempDir(), "downloads"))
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	f := &handlerFixture{
		db:        testutil.NewTestDatabase(t),
		bot:       newFakeBot(),
		downloads: dir,
	}
	f.h = NewHandler(f.db, f.bot, NewDownloads(dir, 0, nil), adminID, nil)
	f.h.SetClock(testutil.FixedClock())
	f.h.SetListInterval(0)

	f.bot.userIcons[adminID] = &Media{Kind: MediaPhoto, FileID: "admin-icon", UniqueID: "ADM"}
	f.bot.files["admin-icon"] = "icon bytes"
	return f
}

func (f *handlerFixture) entries(t *testing.T) []*bowtie.Entry {
	t.Helper()
	entries, err := f.db.FindEntries(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("FindEntries() error = %v", err)
	}
	return entries
}

func admin() *User {
	return &User{ID: adminID, FirstName: "Cendyne"}
}

func TestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		msg       *Message
		wantErr   error
		wantReply string
	}{
		{
			name:      "stranger",
			msg:       &Message{From: &User{ID: 7, FirstName: "Eve"}, Text: "hi"},
			wantErr:   ErrNotAuthorized,
			wantReply: "401",
		},
		{
			name:      "no sender",
			msg:       &Message{Text: "hi"},
			wantErr:   ErrNotAuthorized,
			wantReply: "401",
		},
		{
			name:      "stranger listing",
			msg:       &Message{From: &User{ID: 7}, Command: "list", Text: "/list"},
			wantErr:   ErrNotAuthorized,
			wantReply: "401",
		},
		{
			name:      "animation over the limit",
			msg:       &Message{From: admin(), Media: &Media{Kind: MediaAnimation, FileID: "a", UniqueID: "A", Size: MaxAnimationBytes + 1}},
			wantErr:   ErrTooBig,
			wantReply: "Too big",
		},
		{
			name:      "other media",
			msg:       &Message{From: admin(), Text: "a voice note", Media: &Media{Kind: MediaOther}},
			wantErr:   ErrUnsupported,
			wantReply: "Unsupported",
		},
		{
			name:      "empty message",
			msg:       &Message{From: admin()},
			wantErr:   ErrUnsupported,
			wantReply: "Unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			err := f.h.Handle(context.Background(), tt.msg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if !slices.Equal(f.bot.replies, []string{tt.wantReply}) {
				t.Errorf("replies = %v, want [%s]", f.bot.replies, tt.wantReply)
			}
			if n := len(f.entries(t)); n != 0 {
				t.Errorf("entries = %d, want 0", n)
			}
			if len(f.bot.opens) != 0 {
				t.Errorf("downloads attempted: %v", f.bot.opens)
			}
		})
	}
}

func TestHandler_AnimatedStickerSkipped(t *testing.T) {
	f := newHandlerFixture(t)
	msg := &Message{From: admin(), Media: &Media{Kind: MediaSticker, FileID: "s", UniqueID: "S", Animated: true}}

	if err := f.h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.bot.replies) != 0 {
		t.Errorf("replies = %v, want none", f.bot.replies)
	}
	if n := len(f.entries(t)); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestHandler_Archives(t *testing.T) {
	spans := []bowtie.TextSpan{{Type: bowtie.SpanBold, Offset: 0, Length: 5}}

	tests := []struct {
		name      string
		msg       *Message
		files     map[string]string
		wantPhoto string
	}{
		{
			name: "text",
			msg:  &Message{From: admin(), Text: "hello world", Spans: spans},
		},
		{
			name:      "photo with caption",
			msg:       &Message{From: admin(), Text: "hello", Spans: spans, Media: &Media{Kind: MediaPhoto, FileID: "p", UniqueID: "P1"}},
			files:     map[string]string{"p": "jpeg"},
			wantPhoto: "photo_P1.jpg",
		},
		{
			name:      "static sticker",
			msg:       &Message{From: admin(), Media: &Media{Kind: MediaSticker, FileID: "s", UniqueID: "S1"}},
			files:     map[string]string{"s": "webp"},
			wantPhoto: "sticker_S1.webp",
		},
		{
			name:      "animation at the limit",
			msg:       &Message{From: admin(), Media: &Media{Kind: MediaAnimation, FileID: "a", UniqueID: "A1", Size: MaxAnimationBytes}},
			files:     map[string]string{"a": "mp4"},
			wantPhoto: "anim_A1.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			for id, content := range tt.files {
				f.bot.files[id] = content
			}

			if err := f.h.Handle(context.Background(), tt.msg); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			entries := f.entries(t)
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.Content != tt.msg.Text || e.Photo != tt.wantPhoto {
				t.Errorf("entry content/photo = %q/%q, want %q/%q", e.Content, e.Photo, tt.msg.Text, tt.wantPhoto)
			}
			if len(e.Entities) != len(tt.msg.Spans) {
				t.Errorf("entities = %v, want %v", e.Entities, tt.msg.Spans)
			}
			if e.DisplayName != "Cendyne" || e.Icon != "icon_ADM.jpg" {
				t.Errorf("attribution = %q/%q, want Cendyne/icon_ADM.jpg", e.DisplayName, e.Icon)
			}
			if e.Date != testutil.FixedClock().Now().Unix() {
				t.Errorf("date = %d, want clock time", e.Date)
			}
			if tt.wantPhoto != "" && !f.downloads.Exists(tt.wantPhoto) {
				t.Errorf("%s not downloaded", tt.wantPhoto)
			}
			if !f.downloads.Exists("icon_ADM.jpg") {
				t.Error("icon not downloaded")
			}
			if len(f.bot.replies) != 0 {
				t.Errorf("replies = %v, want none", f.bot.replies)
			}
		})
	}
}

func TestHandler_Attribution(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		wantName string
		wantIcon string
	}{
		{
			name:     "forwarded from a user",
			msg:      &Message{From: admin(), ForwardFrom: &User{ID: 55, FirstName: "Alice"}, Text: "fwd"},
			wantName: "Alice",
			wantIcon: "icon_ALICE.jpg",
		},
		{
			name:     "forwarded from a channel",
			msg:      &Message{From: admin(), ForwardFrom: &User{ID: 55, FirstName: "Alice"}, ForwardFromChat: &Chat{ID: -100, Title: "Bowties"}, Text: "fwd"},
			wantName: "Bowties",
			wantIcon: "icon_CHAN.jpg",
		},
		{
			name:     "posted as a chat",
			msg:      &Message{From: admin(), SenderChat: &Chat{ID: -100, Title: "Bowties"}, Text: "anon"},
			wantName: "Bowties",
			wantIcon: "icon_CHAN.jpg",
		},
		{
			name:     "user without a photo",
			msg:      &Message{From: admin(), ForwardFrom: &User{ID: 56, FirstName: "Bob"}, Text: "fwd"},
			wantName: "Bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.bot.userIcons[55] = &Media{Kind: MediaPhoto, FileID: "alice", UniqueID: "ALICE"}
			f.bot.chatIcons[-100] = &Media{Kind: MediaPhoto, FileID: "chan", UniqueID: "CHAN"}
			f.bot.files["alice"] = "a"
			f.bot.files["chan"] = "c"

			if err := f.h.Handle(context.Background(), tt.msg); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			e := f.entries(t)[0]
			if e.DisplayName != tt.wantName || e.Icon != tt.wantIcon {
				t.Errorf("attribution = %q/%q, want %q/%q", e.DisplayName, e.Icon, tt.wantName, tt.wantIcon)
			}
		})
	}
}

func TestHandler_IconFailureStillArchives(t *testing.T) {
	f := newHandlerFixture(t)
	f.bot.iconErr = errors.New("telegram down")

	if err := f.h.Handle(context.Background(), &Message{From: admin(), Text: "hi"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	e := f.entries(t)[0]
	if e.Icon != "" || e.DisplayName != "Cendyne" {
		t.Errorf("attribution = %q/%q, want Cendyne without icon", e.DisplayName, e.Icon)
	}
}

func TestHandler_MediaFailureAddsNothing(t *testing.T) {
	f := newHandlerFixture(t)
	msg := &Message{From: admin(), Media: &Media{Kind: MediaPhoto, FileID: "missing", UniqueID: "M"}}

	if err := f.h.Handle(context.Background(), msg); err == nil {
		t.Fatal("Handle() expected error for failed download")
	}
	if n := len(f.entries(t)); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestHandler_DownloadsOnce(t *testing.T) {
	f := newHandlerFixture(t)
	f.bot.files["p"] = "jpeg"
	msg := &Message{From: admin(), Media: &Media{Kind: MediaPhoto, FileID: "p", UniqueID: "P1"}}

	for range 2 {
		if err := f.h.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}
	if want := []string{"p", "admin-icon"}; !slices.Equal(f.bot.opens, want) {
		t.Errorf("opened %v, want %v", f.bot.opens, want)
	}
	if n := len(f.entries(t)); n != 2 {
		t.Errorf("entries = %d, want 2", n)
	}
}

func TestHandler_List(t *testing.T) {
	ctx := context.Background()

	t.Run("empty archive", func(t *testing.T) {
		f := newHandlerFixture(t)
		if err := f.h.Handle(ctx, &Message{From: admin(), Command: "list", Text: "/list"}); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !slices.Equal(f.bot.replies, []string{"No entries"}) {
			t.Errorf("replies = %v", f.bot.replies)
		}
	})

	t.Run("newest ten as json", func(t *testing.T) {
		f := newHandlerFixture(t)
		for i := 1; i <= 12; i++ {
			if err := f.db.AddEntry(ctx, &bowtie.Entry{Date: int64(i), Content: "entry"}); err != nil {
				t.Fatalf("AddEntry() error = %v", err)
			}
		}

		if err := f.h.Handle(ctx, &Message{From: admin(), Command: "list", Text: "/list"}); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if len(f.bot.replies) != 10 {
			t.Fatalf("replies = %d, want 10", len(f.bot.replies))
		}
		if want := `{"id":12,"date":12,"content":"entry"}`; f.bot.replies[0] != want {
			t.Errorf("first reply = %s, want %s", f.bot.replies[0], want)
		}
		if n := len(f.entries(t)); n != 12 {
			t.Errorf("list changed the archive: %d entries", n)
		}
	})
}

func TestHandler_DatesFollowClock(t *testing.T) {
	f := newHandlerFixture(t)
	clock := testutil.FixedClock()
	f.h.SetClock(clock)
	start := clock.Now().Unix()

	for _, text := range []string{"first", "second"} {
		if err := f.h.Handle(context.Background(), &Message{From: admin(), Text: text}); err != nil {
			t.Fatalf("Handle(%q) error = %v", text, err)
		}
		clock.Advance(90 * time.Second)
	}

	entries := f.entries(t)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	want := map[string]int64{"first": start, "second": start + 90}
	for _, e := range entries {
		if e.Date != want[e.Content] {
			t.Errorf("%s date = %d, want %d", e.Content, e.Date, want[e.Content])
		}
	}
	if entries[0].Content != "second" {
		t.Errorf("newest entry = %q, want second", entries[0].Content)
	}
}
