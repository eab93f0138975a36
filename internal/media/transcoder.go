// Package media derives web assets from downloaded media by running the
// ImageMagick and FFmpeg command line tools.
package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

// Background is the page color that transparent images are flattened onto.
const Background = "#3f2e26"

const (
	maxAnimationSeconds = 10.0
	maxFrameRate        = 10
	animationEdge       = 128
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// ToolTranscoder implements bowtie.Transcoder with convert, ffprobe and ffmpeg.
type ToolTranscoder struct {
	runner  Runner
	logger  bowtie.Logger
	convert string
	ffmpeg  string
	ffprobe string
}

var _ bowtie.Transcoder = (*ToolTranscoder)(nil)

// NewToolTranscoder creates a ToolTranscoder using the configured tool paths.
func NewToolTranscoder(cfg config.MediaConfig, runner Runner, logger bowtie.Logger) *ToolTranscoder {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &ToolTranscoder{
		runner:  runner,
		logger:  logger,
		convert: orDefault(cfg.ConvertPath, "convert"),
		ffmpeg:  orDefault(cfg.FFmpegPath, "ffmpeg"),
		ffprobe: orDefault(cfg.FFprobePath, "ffprobe"),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Transcode derives dstPath from srcPath. The output is written next to
// dstPath first and renamed into place only when the tool succeeds, so a
// failed derivation never leaves a partial file under dstPath.
func (t *ToolTranscoder) Transcode(ctx context.Context, variant bowtie.Variant, srcPath, dstPath string) error {
	ext := filepath.Ext(dstPath)
	tmpPath := strings.TrimSuffix(dstPath, ext) + ".partial" + ext
	defer os.Remove(tmpPath)

	var err error
	switch variant {
	case bowtie.VariantStill256:
		err = t.still(ctx, srcPath, tmpPath, 256)
	case bowtie.VariantIcon128:
		err = t.still(ctx, srcPath, tmpPath, 128)
	case bowtie.VariantAnim128:
		err = t.animation(ctx, srcPath, tmpPath)
	default:
		return fmt.Errorf("unknown variant %q", variant)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return fmt.Errorf("moving derived file into place: %w", err)
	}
	t.logger.Info("derived asset", "variant", string(variant), "source", filepath.Base(srcPath), "destination", filepath.Base(dstPath))
	return nil
}

// still flattens the image onto the page background and shrinks it to fit
// an edge x edge box.
func (t *ToolTranscoder) still(ctx context.Context, src, dst string, edge int) error {
	geometry := fmt.Sprintf("%dx%d>", edge, edge)
	out, err := t.runner.Run(ctx, t.convert,
		src,
		"-background", Background,
		"-flatten",
		"-resize", geometry,
		"-alpha", "off",
		dst,
	)
	if err != nil {
		return fmt.Errorf("convert %s: %w: %s", filepath.Base(src), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// animation scales the clip to fit 128x128, keeps at most the first ten
// seconds and lowers the frame rate of longer clips.
func (t *ToolTranscoder) animation(ctx context.Context, src, dst string) error {
	info, err := t.probe(ctx, src)
	if err != nil {
		return err
	}

	plan := PlanAnimation(info)
	args := []string{"-y", "-v", "error", "-i", src}
	if plan.Trim > 0 {
		args = append(args, "-t", strconv.FormatFloat(plan.Trim, 'f', -1, 64))
	}
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", plan.Width, plan.Height),
		"-r", strconv.Itoa(plan.FrameRate),
		dst,
	)

	out, err := t.runner.Run(ctx, t.ffmpeg, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", filepath.Base(src), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// StreamInfo is the part of an ffprobe report used to plan an animation.
type StreamInfo struct {
	Width    int
	Height   int
	Duration float64 // seconds
}

type probeReport struct {
	Streams []struct {
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Duration string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (t *ToolTranscoder) probe(ctx context.Context, src string) (StreamInfo, error) {
	out, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
		src,
	)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(src), err, strings.TrimSpace(string(out)))
	}
	return ParseProbe(out)
}

// ParseProbe extracts the first video stream's geometry and duration from
// ffprobe JSON output. The container duration is used when the stream
// does not report one.
func ParseProbe(data []byte) (StreamInfo, error) {
	var report probeReport
	if err := json.Unmarshal(data, &report); err != nil {
		return StreamInfo{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	if len(report.Streams) == 0 {
		return StreamInfo{}, fmt.Errorf("ffprobe reported no video stream")
	}

	s := report.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("ffprobe reported invalid size %dx%d", s.Width, s.Height)
	}

	info := StreamInfo{Width: s.Width, Height: s.Height}
	for _, raw := range []string{s.Duration, report.Format.Duration} {
		if d, err := strconv.ParseFloat(raw, 64); err == nil {
			info.Duration = d
			break
		}
	}
	return info, nil
}

// AnimationPlan holds the ffmpeg parameters for one animation.
type AnimationPlan struct {
	Width     int
	Height    int
	FrameRate int
	Trim      float64 // seconds kept; 0 keeps the whole clip
}

// PlanAnimation fits the clip into a 128x128 box without upscaling, trims it
// to ten seconds and spreads about twenty frames over clips longer than two
// seconds, between one and ten frames per second.
func PlanAnimation(info StreamInfo) AnimationPlan {
	w, h := float64(info.Width), float64(info.Height)
	ratio := min(min(animationEdge, w)/w, min(animationEdge, h)/h)

	plan := AnimationPlan{
		Width:     max(1, int(math.Round(ratio*w))),
		Height:    max(1, int(math.Round(ratio*h))),
		FrameRate: maxFrameRate,
	}
	if info.Duration > maxAnimationSeconds {
		plan.Trim = maxAnimationSeconds
	}
	if info.Duration > 2 {
		plan.FrameRate = int(max(min(20/info.Duration, maxFrameRate), 1))
	}
	return plan
}
