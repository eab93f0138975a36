// Package archive rebuilds the static HTML archive from the newest entries
// and hands the result to the publisher.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/fs"
	"bowtie-go/internal/metrics"
)

const (
	DefaultPageBudget        = 120000
	DefaultWindow            = 100
	DefaultMaxEntriesPerPage = 10
)

// Options configures a Builder. Zero values fall back to the defaults.
type Options struct {
	PageBudget        int64
	Window            int
	MaxEntriesPerPage int
}

// Attachment produces an extra file in the web directory that is published
// together with the pages, such as an encrypted database snapshot.
type Attachment interface {
	Attach(ctx context.Context, web *fs.Dir) (name string, err error)
}

// State is the poll loop's memory of the last rebuild. The zero value
// forces a rebuild on the next poll.
type State struct {
	LastEntryID int64
}

// Result summarizes one rebuild.
type Result struct {
	RunID    string
	Pages    []string
	Files    []string // derived files referenced by the pages, first-seen order
	Uploaded int
}

// Builder renders the newest entries into pages.
type Builder struct {
	db          bowtie.Database
	transcoder  bowtie.Transcoder
	publisher   bowtie.Publisher
	stems       bowtie.StemGenerator
	logger      bowtie.Logger
	downloads   *fs.Dir
	web         *fs.Dir
	opts        Options
	attachments []Attachment
}

// NewBuilder creates a Builder reading raw media from downloads and writing
// pages and derived assets to web.
func NewBuilder(db bowtie.Database, transcoder bowtie.Transcoder, publisher bowtie.Publisher,
	downloads, web *fs.Dir, opts Options, logger bowtie.Logger) *Builder {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	if opts.PageBudget <= 0 {
		opts.PageBudget = DefaultPageBudget
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxEntriesPerPage <= 0 {
		opts.MaxEntriesPerPage = DefaultMaxEntriesPerPage
	}
	return &Builder{
		db:         db,
		transcoder: transcoder,
		publisher:  publisher,
		stems:      bowtie.UUIDStems{},
		logger:     logger,
		downloads:  downloads,
		web:        web,
		opts:       opts,
	}
}

// SetStemGenerator replaces the generator of derived file names.
func (b *Builder) SetStemGenerator(g bowtie.StemGenerator) {
	b.stems = g
}

// AddAttachment registers an extra file to produce and publish on every rebuild.
func (b *Builder) AddAttachment(a Attachment) {
	b.attachments = append(b.attachments, a)
}

// Poll rebuilds the archive when the newest entry differs from the one seen
// by the previous successful rebuild. It reports whether a rebuild ran.
// A failed rebuild resets st so the next poll tries again.
func (b *Builder) Poll(ctx context.Context, st *State) (bool, error) {
	latest, err := b.db.LatestEntry(ctx)
	if err != nil {
		return false, fmt.Errorf("finding latest entry: %w", err)
	}
	if latest == nil || latest.ID == st.LastEntryID {
		return false, nil
	}

	st.LastEntryID = latest.ID
	if _, err := b.Rebuild(ctx); err != nil {
		*st = State{}
		return true, err
	}
	return true, nil
}

// Rebuild regenerates every page from the newest window of entries, writes
// them to the web directory and publishes pages and referenced files.
func (b *Builder) Rebuild(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := ulid.Make().String()
	logger := b.logger.With("run", runID)
	logger.Info("rebuilding archive")

	res, err := b.rebuild(ctx, logger)
	if err != nil {
		metrics.RebuildFailures.Inc()
		logger.Error("rebuild failed", "error", err)
		return nil, err
	}
	res.RunID = runID

	metrics.RebuildsTotal.Inc()
	metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	metrics.PagesWritten.Set(float64(len(res.Pages)))
	logger.Info("rebuild complete", "pages", len(res.Pages), "files", len(res.Files), "uploaded", res.Uploaded)
	return res, nil
}

func (b *Builder) rebuild(ctx context.Context, logger bowtie.Logger) (*Result, error) {
	entries, err := b.db.FindEntries(ctx, b.opts.Window, 0)
	if err != nil {
		return nil, fmt.Errorf("finding entries: %w", err)
	}

	r := newResolver(b, logger)
	blocks := make([]block, 0, len(entries))
	var files []string
	seen := make(map[string]bool)

	for _, e := range entries {
		icon, photo, err := r.entryMedia(ctx, e)
		if err != nil {
			return nil, err
		}

		html, err := encodeLatin1(renderBlock(e, icon, photo))
		if err != nil {
			return nil, fmt.Errorf("encoding entry %d: %w", e.ID, err)
		}

		blk := block{html: html}
		for _, f := range []string{icon, photo} {
			if f == "" {
				continue
			}
			blk.files = append(blk.files, f)
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
		blocks = append(blocks, blk)
	}

	pages := paginate(blocks, r.sizes, b.opts.PageBudget, b.opts.MaxEntriesPerPage)
	names := make([]string, len(pages))
	for n, p := range pages {
		names[n] = PageName(n)
		if err := b.web.Write(names[n], renderPage(p, n, len(pages))); err != nil {
			return nil, fmt.Errorf("writing %s: %w", names[n], err)
		}
		logger.Debug("wrote page", "page", names[n], "entries", len(p.blocks))
	}

	publishSet := append(append([]string(nil), files...), names...)
	for _, a := range b.attachments {
		name, err := a.Attach(ctx, b.web)
		if err != nil {
			logger.Warn("attachment failed", "error", err)
			continue
		}
		publishSet = append(publishSet, name)
	}

	uploaded, err := b.publisher.Publish(ctx, publishSet)
	if err != nil {
		return nil, fmt.Errorf("publishing: %w", err)
	}

	return &Result{Pages: names, Files: files, Uploaded: uploaded}, nil
}
