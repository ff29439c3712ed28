package archive

import (
	"bytes"
	"context"
	"fmt"

	"cvrarchive/lib/scrapers/cvr"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/archive")

// Gateway is the authenticated fetch capability the pipeline consumes.
type Gateway interface {
	FetchPage(ctx context.Context, path string) ([]byte, error)
}

type cursorState int

const (
	cursorStart cursorState = iota
	cursorFetching
	cursorHasPage
	cursorExhausted
	cursorLimitReached
)

// Cursor walks the archived event listing page by page. It deduplicates
// event ids across the whole run (the upstream listing repeats rows across
// page boundaries) and stops once the configured limit of distinct ids has
// been yielded.
type Cursor struct {
	gateway Gateway
	// 0 means unbounded
	limit int

	state   cursorState
	page    int
	seen    map[string]bool
	yielded int
	// set when the listing reported no further page while a batch was
	// still being yielded, the next call transitions to Exhausted
	drained bool
}

func NewCursor(gateway Gateway, limit int) *Cursor {
	return &Cursor{
		gateway: gateway,
		limit:   limit,
		seen:    map[string]bool{},
	}
}

func listPagePath(page int) string {
	if page <= 1 {
		return "/event/archive/"
	}
	return fmt.Sprintf("/event/archive/?page=%d", page)
}

// Next returns the next batch of not-yet-seen event summaries, or (nil, nil)
// once the listing is exhausted or the limit is reached. Terminal states are
// sticky.
func (c *Cursor) Next(ctx context.Context) ([]cvr.EventSummary, error) {
	ctx, span := tracer.Start(ctx, "cursor:Next")
	defer span.End()

	if c.state == cursorExhausted || c.state == cursorLimitReached {
		return nil, nil
	}
	if c.limit > 0 && c.yielded >= c.limit {
		c.state = cursorLimitReached
		return nil, nil
	}
	if c.drained {
		c.state = cursorExhausted
		return nil, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.state = cursorFetching
		c.page++
		span.SetAttributes(attribute.Int("page", c.page))

		body, err := c.gateway.FetchPage(ctx, listPagePath(c.page))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch list page")
			return nil, fmt.Errorf("list page %d: %w", c.page, err)
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse list page html")
			return nil, fmt.Errorf("list page %d: %w", c.page, err)
		}

		summaries, hasNext := cvr.DecodeEventList(doc)

		var fresh []cvr.EventSummary
		for _, s := range summaries {
			if c.seen[s.Id] {
				continue
			}
			c.seen[s.Id] = true
			fresh = append(fresh, s)
			if c.limit > 0 && c.yielded+len(fresh) == c.limit {
				break
			}
		}
		c.yielded += len(fresh)

		if c.limit > 0 && c.yielded >= c.limit {
			c.state = cursorLimitReached
			span.AddEvent("limit reached")
			return fresh, nil
		}
		if len(fresh) > 0 {
			c.state = cursorHasPage
			c.drained = !hasNext
			return fresh, nil
		}
		if hasNext {
			// every row on this page was a repeat, keep paging
			continue
		}
		c.state = cursorExhausted
		return nil, nil
	}
}
