package publish

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// failingRemote fails every call and counts them.
type failingRemote struct {
	calls int
	err   error
}

func (f *failingRemote) Stat(context.Context, string) (int64, bool, error) {
	f.calls++
	return 0, false, f.err
}

func (f *failingRemote) Put(context.Context, string, io.Reader, int64) error {
	f.calls++
	return f.err
}

func (f *failingRemote) Close() error { return nil }

func TestBreakerRemote(t *testing.T) {
	t.Run("passes results through", func(t *testing.T) {
		ctx := context.Background()
		mem := NewMemoryRemote()
		b := NewBreakerRemote(mem, 2, time.Minute, nil)

		if err := b.Put(ctx, "a.html", strings.NewReader("abc"), 3); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		size, exists, err := b.Stat(ctx, "a.html")
		if err != nil || !exists || size != 3 {
			t.Errorf("Stat() = %d, %v, %v; want 3, true, nil", size, exists, err)
		}
		if _, exists, err := b.Stat(ctx, "missing.html"); err != nil || exists {
			t.Errorf("Stat(missing) = %v, %v; want false, nil", exists, err)
		}
		if b.State() != "closed" {
			t.Errorf("State() = %q, want closed", b.State())
		}
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		ctx := context.Background()
		boom := errors.New("connection reset")
		next := &failingRemote{err: boom}
		b := NewBreakerRemote(next, 2, time.Minute, nil)

		for i := 0; i < 2; i++ {
			if _, _, err := b.Stat(ctx, "a.html"); !errors.Is(err, boom) {
				t.Fatalf("Stat() #%d error = %v, want %v", i, err, boom)
			}
		}

		err := b.Put(ctx, "a.html", strings.NewReader("abc"), 3)
		if !errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("Put() error = %v, want ErrOpenState", err)
		}
		if next.calls != 2 {
			t.Errorf("remote calls = %d, want 2", next.calls)
		}
		if b.State() != "open" {
			t.Errorf("State() = %q, want open", b.State())
		}
	})
}
