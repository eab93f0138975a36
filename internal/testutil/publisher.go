package testutil

import (
	"context"
	"sync"

	"bowtie-go/internal/bowtie"
)

// RecordingPublisher remembers every publish request without uploading.
type RecordingPublisher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// SetError makes subsequent Publish calls fail with err.
func (p *RecordingPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPublisher) Publish(_ context.Context, files []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.calls = append(p.calls, append([]string(nil), files...))
	return len(files), nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Calls returns the file lists passed to Publish, in call order.
func (p *RecordingPublisher) Calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.calls...)
}

var _ bowtie.Publisher = (*RecordingPublisher)(nil)
