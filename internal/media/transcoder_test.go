package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

type call struct {
	name string
	args []string
}

// fakeRunner records calls. Tool runs write their last argument as the
// output file unless fail is set; ffprobe runs return probe.
type fakeRunner struct {
	calls []call
	probe string
	fail  error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{name: name, args: args})
	if name == "ffprobe" {
		return []byte(r.probe), nil
	}
	if r.fail != nil {
		return []byte("tool failed"), r.fail
	}
	return nil, os.WriteFile(args[len(args)-1], []byte("derived"), 0644)
}

func newTestTranscoder(r *fakeRunner) *ToolTranscoder {
	return NewToolTranscoder(config.MediaConfig{}, r, nil)
}

func TestToolTranscoder_Still(t *testing.T) {
	tests := []struct {
		variant  bowtie.Variant
		geometry string
	}{
		{bowtie.VariantStill256, "256x256>"},
		{bowtie.VariantIcon128, "128x128>"},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			dir := t.TempDir()
			dst := filepath.Join(dir, "abcd1234.jpg")
			r := &fakeRunner{}

			if err := newTestTranscoder(r).Transcode(context.Background(), tt.variant, "/downloads/photo_1.webp", dst); err != nil {
				t.Fatalf("Transcode() error = %v", err)
			}

			if len(r.calls) != 1 || r.calls[0].name != "convert" {
				t.Fatalf("calls = %+v, want one convert", r.calls)
			}
			args := r.calls[0].args
			if args[0] != "/downloads/photo_1.webp" {
				t.Errorf("source arg = %q", args[0])
			}
			if !slices.Contains(args, tt.geometry) || !slices.Contains(args, Background) {
				t.Errorf("args = %v, want geometry %q and background", args, tt.geometry)
			}
			if _, err := os.Stat(dst); err != nil {
				t.Errorf("derived file missing: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, "abcd1234.partial.jpg")); !os.IsNotExist(err) {
				t.Errorf("partial file left behind: %v", err)
			}
		})
	}
}

func TestToolTranscoder_Animation(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "abcd1234.gif")
	r := &fakeRunner{probe: `{"streams":[{"width":480,"height":240,"duration":"15.0"}],"format":{"duration":"15.0"}}`}

	if err := newTestTranscoder(r).Transcode(context.Background(), bowtie.VariantAnim128, "/downloads/anim_1.mp4", dst); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}

	if len(r.calls) != 2 || r.calls[0].name != "ffprobe" || r.calls[1].name != "ffmpeg" {
		t.Fatalf("calls = %+v, want ffprobe then ffmpeg", r.calls)
	}
	args := strings.Join(r.calls[1].args, " ")
	for _, want := range []string{"-i /downloads/anim_1.mp4", "-t 10", "scale=128:64", "-r 1"} {
		if !strings.Contains(args, want) {
			t.Errorf("ffmpeg args %q missing %q", args, want)
		}
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("derived file missing: %v", err)
	}
}

func TestToolTranscoder_Failure(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "abcd1234.jpg")
	boom := errors.New("exit status 1")
	r := &fakeRunner{fail: boom}

	err := newTestTranscoder(r).Transcode(context.Background(), bowtie.VariantStill256, "/downloads/photo_1.jpg", dst)
	if !errors.Is(err, boom) {
		t.Fatalf("Transcode() error = %v, want %v", err, boom)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("destination exists after failure: %v", err)
	}
}

func TestToolTranscoder_UnknownVariant(t *testing.T) {
	r := &fakeRunner{}
	err := newTestTranscoder(r).Transcode(context.Background(), "64x64png", "/a", filepath.Join(t.TempDir(), "b.png"))
	if err == nil {
		t.Fatal("Transcode() expected error for unknown variant")
	}
	if len(r.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(r.calls))
	}
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StreamInfo
		wantErr bool
	}{
		{
			name:  "stream duration",
			input: `{"streams":[{"width":320,"height":240,"duration":"3.5"}]}`,
			want:  StreamInfo{Width: 320, Height: 240, Duration: 3.5},
		},
		{
			name:  "falls back to container duration",
			input: `{"streams":[{"width":320,"height":240}],"format":{"duration":"12.25"}}`,
			want:  StreamInfo{Width: 320, Height: 240, Duration: 12.25},
		},
		{
			name:    "no streams",
			input:   `{"streams":[]}`,
			wantErr: true,
		},
		{
			name:    "zero size",
			input:   `{"streams":[{"width":0,"height":240}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `oops`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProbe([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProbe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseProbe() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPlanAnimation(t *testing.T) {
	tests := []struct {
		name string
		info StreamInfo
		want AnimationPlan
	}{
		{
			name: "small short clip is untouched",
			info: StreamInfo{Width: 100, Height: 50, Duration: 1.5},
			want: AnimationPlan{Width: 100, Height: 50, FrameRate: 10},
		},
		{
			name: "wide clip fits the box",
			info: StreamInfo{Width: 512, Height: 256, Duration: 2},
			want: AnimationPlan{Width: 128, Height: 64, FrameRate: 10},
		},
		{
			name: "four second clip",
			info: StreamInfo{Width: 128, Height: 128, Duration: 4},
			want: AnimationPlan{Width: 128, Height: 128, FrameRate: 5},
		},
		{
			name: "long clip is trimmed",
			info: StreamInfo{Width: 256, Height: 512, Duration: 30},
			want: AnimationPlan{Width: 64, Height: 128, FrameRate: 1, Trim: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlanAnimation(tt.info); got != tt.want {
				t.Errorf("PlanAnimation() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
