package archive

import (
	"context"
	"fmt"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/metrics"
)

// resolver maps raw downloads to derived web assets for one rebuild.
type resolver struct {
	b      *Builder
	logger bowtie.Logger
	icons  map[string]string
	sizes  map[string]int64
}

func newResolver(b *Builder, logger bowtie.Logger) *resolver {
	return &resolver{
		b:      b,
		logger: logger,
		icons:  make(map[string]string),
		sizes:  make(map[string]int64),
	}
}

// entryMedia returns the derived icon and photo names of e. Either is empty
// when the entry has none or it could not be derived.
func (r *resolver) entryMedia(ctx context.Context, e *bowtie.Entry) (icon, photo string, err error) {
	if e.Photo != "" {
		if variant, ok := bowtie.ClassifyMedia(e.Photo); ok {
			photo, err = r.resolve(ctx, e.Photo, variant)
			if err != nil {
				return "", "", err
			}
		} else {
			r.logger.Debug("media not derived", "entry", e.ID, "source", e.Photo)
		}
	}

	if e.Icon != "" {
		cached, ok := r.icons[e.Icon]
		if !ok {
			cached, err = r.resolve(ctx, e.Icon, bowtie.VariantIcon128)
			if err != nil {
				return "", "", err
			}
			r.icons[e.Icon] = cached
		}
		icon = cached
	}
	return icon, photo, nil
}

// resolve returns the derived file for source and variant, deriving it when
// the mapping or its file is missing. Derivation problems are logged and
// yield an empty name; store errors are returned.
func (r *resolver) resolve(ctx context.Context, source string, variant bowtie.Variant) (string, error) {
	asset, err := r.b.db.FindAsset(ctx, source, variant)
	if err != nil {
		return "", fmt.Errorf("finding asset for %s: %w", source, err)
	}

	if asset != nil {
		if size, ok := r.stat(asset.Destination); ok {
			r.sizes[asset.Destination] = size
			return asset.Destination, nil
		}
		// The mapping survives the file: derive again into the same name.
		if !r.derive(ctx, source, variant, asset.Destination) {
			return "", nil
		}
		return asset.Destination, nil
	}

	dest := r.b.stems.NewStem() + variant.Extension()
	if !r.derive(ctx, source, variant, dest) {
		return "", nil
	}
	if err := r.b.db.AddAsset(ctx, &bowtie.Asset{Source: source, Variant: variant, Destination: dest}); err != nil {
		return "", fmt.Errorf("recording asset for %s: %w", source, err)
	}
	return dest, nil
}

func (r *resolver) stat(name string) (int64, bool) {
	size, exists, err := r.b.web.Stat(name)
	if err != nil {
		r.logger.Warn("unusable derived file", "file", name, "error", err)
		return 0, false
	}
	return size, exists
}

// derive runs the transcoder and records the size of the result.
func (r *resolver) derive(ctx context.Context, source string, variant bowtie.Variant, dest string) bool {
	logger := r.logger.With("source", source, "variant", string(variant), "dest", dest)

	srcPath, err := r.b.downloads.Path(source)
	if err != nil {
		logger.Warn("invalid media reference", "error", err)
		return false
	}
	if !r.b.downloads.Exists(source) {
		logger.Warn("media source missing")
		return false
	}
	dstPath, err := r.b.web.Path(dest)
	if err != nil {
		logger.Warn("invalid asset name", "error", err)
		return false
	}

	if err := r.b.transcoder.Transcode(ctx, variant, srcPath, dstPath); err != nil {
		metrics.TranscodesTotal.WithLabelValues(string(variant), "error").Inc()
		logger.Warn("derivation failed", "error", err)
		return false
	}
	metrics.TranscodesTotal.WithLabelValues(string(variant), "ok").Inc()

	size, ok := r.stat(dest)
	if !ok {
		logger.Warn("derivation produced no file")
		return false
	}
	r.sizes[dest] = size
	logger.Info("derived asset", "size", size)
	return true
}
