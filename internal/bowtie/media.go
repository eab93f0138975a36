package bowtie

import (
	"context"
	"strings"
)

// Variant is a kind of media derivation.
type Variant string

const (
	// VariantStill256 flattens and bounds a still image to 256x256 JPEG.
	VariantStill256 Variant = "256x256jpg"
	// VariantIcon128 flattens and bounds an avatar to 128x128 JPEG.
	VariantIcon128 Variant = "128x128jpg"
	// VariantAnim128 bounds an animation to 128x128 with a capped frame rate and length.
	VariantAnim128 Variant = "128x128gif"
)

// Extension returns the file extension (with dot) of files derived with v.
func (v Variant) Extension() string {
	switch v {
	case VariantAnim128:
		return ".gif"
	default:
		return ".jpg"
	}
}

// IsAnimation reports whether v derives an animation rather than a still.
func (v Variant) IsAnimation() bool {
	return v == VariantAnim128
}

// ClassifyMedia picks the derivation variant for a downloaded media file
// based on its extension. ok is false for media that is not derived.
func ClassifyMedia(ref string) (v Variant, ok bool) {
	switch {
	case strings.HasSuffix(ref, ".jpg"), strings.HasSuffix(ref, ".webp"):
		return VariantStill256, true
	case strings.HasSuffix(ref, ".mp4"), strings.HasSuffix(ref, ".gif"):
		return VariantAnim128, true
	}
	return "", false
}

// Transcoder derives a web asset from a downloaded source file.
// srcPath and dstPath are absolute filesystem paths.
type Transcoder interface {
	Transcode(ctx context.Context, variant Variant, srcPath, dstPath string) error
}
