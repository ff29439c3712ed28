package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cvrarchive/lib/scrapers/cvr"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type RunOptions struct {
	// distinct events the cursor may discover, 0 = unbounded
	EventLimit int
	// hard ceiling on events processed regardless of discovery, 0 = unbounded
	MaxRecords int
}

// Summary is the user-facing account of a run.
type Summary struct {
	Attempted int
	Extracted int
}

func (s Summary) Render() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Events attempted", "Events extracted"})
	t.AppendRow(table.Row{s.Attempted, s.Extracted})
	return t.Render()
}

// Run drives the whole pipeline: discover events through the cursor,
// extract each one, feed bundles into the sink, then finalize. Per-record
// failures are logged and skipped; session-level failures end the run, but
// whatever was aggregated so far is still flushed before returning.
func Run(ctx context.Context, gateway Gateway, sink *Sink, opts RunOptions) (Summary, error) {
	ctx, span := tracer.Start(ctx, "archive:Run")
	defer span.End()

	cursor := NewCursor(gateway, opts.EventLimit)
	extractor := NewExtractor(gateway)
	summary := Summary{}

	var fatal error

discovery:
	for {
		batch, err := cursor.Next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "event discovery failed")
			fatal = err
			break
		}
		if batch == nil {
			break
		}

		for _, eventSummary := range batch {
			if opts.MaxRecords > 0 && summary.Attempted >= opts.MaxRecords {
				slog.InfoContext(ctx, "record ceiling reached", "max_records", opts.MaxRecords)
				break discovery
			}
			summary.Attempted++

			slog.InfoContext(ctx, "processing event",
				"event_id", eventSummary.Id, "name", eventSummary.Name)

			bundle, err := extractor.Extract(ctx, eventSummary)
			if errors.Is(err, cvr.ErrSessionExpired) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "session expired")
				fatal = err
				break discovery
			}
			if err != nil {
				slog.ErrorContext(ctx, "skipping event",
					"event_id", eventSummary.Id, "err", err)
				continue
			}

			err = sink.Record(ctx, bundle)
			if err != nil {
				slog.ErrorContext(ctx, "failed to persist event",
					"event_id", eventSummary.Id, "err", err)
				continue
			}
			summary.Extracted++
		}
	}

	span.SetAttributes(
		attribute.Int("attempted", summary.Attempted),
		attribute.Int("extracted", summary.Extracted),
	)

	// flush aggregates even on a fatal error, partial output is kept
	err := sink.Finalize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finalize aggregates")
		if fatal == nil {
			fatal = err
		}
	}

	if fatal != nil {
		return summary, fmt.Errorf("archive run: %w", fatal)
	}
	return summary, nil
}
