// Package extract drives the ordered, cancellable extraction pipeline for
// content-archive emission: per-archive header decrypted -> section
// readers built -> per-section emission, run concurrently across archives
// with an errgroup-bounded pool, checking the context at the top of every
// section's read loop so cancellation aborts cleanly without a force-kill
// path.
package extract

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cartkit/nxcart/pkg/corecb"
	"github.com/cartkit/nxcart/pkg/nca"
)

// Target is one content archive ready for section emission: its header has
// already been parsed and key-area decrypted by the caller, establishing
// the ordering the driver relies on.
type Target struct {
	Name   string
	Header *nca.Header
	Reader io.ReaderAt
}

// SectionSink receives one section's decrypted bytes. Implementations
// typically stream into a file, a compressing writer (pkg/ncz), or a
// repackaging PFS0 writer.
type SectionSink func(ctx context.Context, target Target, sectionIndex int, section nca.SectionReader, size int64) error

// Run emits every present section of every target through sink. Targets
// are processed concurrently, bounded by maxConcurrency; within a single
// target, sections are emitted in index order. The context is checked
// before opening each section so a cancellation takes effect between
// sections rather than mid-write.
func Run(ctx context.Context, targets []Target, maxConcurrency int, sink SectionSink) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	for _, target := range targets {
		target := target
		g.Go(func() error {
			return runTarget(gctx, target, sink)
		})
	}
	return g.Wait()
}

func runTarget(ctx context.Context, target Target, sink SectionSink) error {
	for i := range target.Header.FsHeaders {
		if err := ctx.Err(); err != nil {
			return corecb.New(corecb.KindCancelled, "extract.Run", fmt.Errorf("%s: %w", target.Name, err))
		}

		start, end, ok := target.Header.SectionByteRange(i)
		if !ok {
			continue
		}

		section, err := target.Header.OpenSection(target.Reader, i)
		if err != nil {
			return fmt.Errorf("%s section %d: %w", target.Name, i, err)
		}

		// A transient storage error from the sink is retried, up to three
		// attempts in all, waiting 100ms then 200ms between them.
		var sinkErr error
		for attempt := 1; attempt <= 3; attempt++ {
			sinkErr = sink(ctx, target, i, section, end-start)
			if sinkErr == nil || !corecb.IsTransientStorage(sinkErr) || attempt == 3 {
				break
			}
			select {
			case <-ctx.Done():
				return corecb.New(corecb.KindCancelled, "extract.Run", fmt.Errorf("%s: %w", target.Name, ctx.Err()))
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		if sinkErr != nil {
			return fmt.Errorf("%s section %d: %w", target.Name, i, sinkErr)
		}
	}
	return nil
}
