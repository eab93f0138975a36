package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bowtie-go/internal/bowtie"
)

// TranscodeCall records one FakeTranscoder invocation.
type TranscodeCall struct {
	Variant bowtie.Variant
	Source  string // base name of the source file
	Dest    string // base name of the destination file
}

// FakeTranscoder copies the source file to the destination instead of
// running external tools, so derived sizes equal source sizes.
type FakeTranscoder struct {
	mu    sync.Mutex
	calls []TranscodeCall
	fail  map[string]bool
}

func NewFakeTranscoder() *FakeTranscoder {
	return &FakeTranscoder{fail: make(map[string]bool)}
}

// FailOn makes every derivation of the named source file fail.
func (f *FakeTranscoder) FailOn(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[source] = true
}

func (f *FakeTranscoder) Transcode(_ context.Context, variant bowtie.Variant, srcPath, dstPath string) error {
	f.mu.Lock()
	source := filepath.Base(srcPath)
	f.calls = append(f.calls, TranscodeCall{Variant: variant, Source: source, Dest: filepath.Base(dstPath)})
	failing := f.fail[source]
	f.mu.Unlock()

	if failing {
		return fmt.Errorf("transcoding %s: tool failed", source)
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	return os.WriteFile(dstPath, data, 0644)
}

// Calls returns a copy of the recorded invocations.
func (f *FakeTranscoder) Calls() []TranscodeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TranscodeCall(nil), f.calls...)
}

var _ bowtie.Transcoder = (*FakeTranscoder)(nil)
