package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cvrarchive/lib/scrapers/cvr"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Bundle is everything extracted for a single event.
type Bundle struct {
	Detail cvr.EventDetail
	Teams  []cvr.Team
	Agenda []cvr.AgendaItem
	Awards []cvr.Award
}

// Extractor assembles a Bundle for one event. The detail page is
// authoritative: if it cannot be fetched and decoded the record is lost.
// The teams/agenda/awards sub-pages are flakier, each one independently
// degrades to an empty list so a partially scrapeable event is still kept.
type Extractor struct {
	gateway Gateway
}

func NewExtractor(gateway Gateway) Extractor {
	return Extractor{gateway: gateway}
}

func eventPath(id string) string {
	return fmt.Sprintf("/event/%s/", id)
}

func (e Extractor) Extract(ctx context.Context, summary cvr.EventSummary) (Bundle, error) {
	ctx, span := tracer.Start(ctx, "extractor:Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", summary.Id),
		attribute.String("event_name", summary.Name),
	)

	doc, err := e.fetchDoc(ctx, eventPath(summary.Id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch detail page")
		return Bundle{}, fmt.Errorf("extract event %s: %w", summary.Id, err)
	}
	detail, err := cvr.DecodeEventDetail(doc, summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode detail page")
		return Bundle{}, fmt.Errorf("extract event %s: %w", summary.Id, err)
	}

	bundle := Bundle{Detail: detail}

	teamsDoc, err := e.subPage(ctx, summary.Id, "teams")
	if err != nil {
		return Bundle{}, err
	}
	if teamsDoc != nil {
		bundle.Teams = cvr.DecodeTeams(teamsDoc, summary.Id)
	}

	agendaDoc, err := e.subPage(ctx, summary.Id, "agenda")
	if err != nil {
		return Bundle{}, err
	}
	if agendaDoc != nil {
		bundle.Agenda = cvr.DecodeAgenda(agendaDoc, summary.Id)
	}

	awardsDoc, err := e.subPage(ctx, summary.Id, "awards")
	if err != nil {
		return Bundle{}, err
	}
	if awardsDoc != nil {
		bundle.Awards = cvr.DecodeAwards(awardsDoc, summary.Id)
	}

	span.SetAttributes(
		attribute.Int("teams", len(bundle.Teams)),
		attribute.Int("agenda_items", len(bundle.Agenda)),
		attribute.Int("awards", len(bundle.Awards)),
	)
	return bundle, nil
}

// subPage fetches one of the event sub-sections. A nil document with a nil
// error means the sub-page failed in a tolerable way and the caller should
// fall back to an empty list. Session expiry is never tolerable.
func (e Extractor) subPage(ctx context.Context, eventId, section string) (*goquery.Document, error) {
	doc, err := e.fetchDoc(ctx, fmt.Sprintf("/event/%s/%s/", eventId, section))
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, cvr.ErrSessionExpired) {
		return nil, err
	}
	slog.WarnContext(ctx, "sub-page failed, continuing with empty list",
		"event_id", eventId, "section", section, "err", err)
	return nil, nil
}

func (e Extractor) fetchDoc(ctx context.Context, path string) (*goquery.Document, error) {
	body, err := e.gateway.FetchPage(ctx, path)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewBuffer(body))
}
