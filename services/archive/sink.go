package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cvrarchive/lib/scrapers/cvr"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var detailHeader = table.Row{"event_id", "name", "date", "location", "statistics", "robot_game_tables", "judging_pods"}
var teamHeader = table.Row{"event_id", "team_number", "name", "city", "organization"}
var agendaHeader = table.Row{"event_id", "sequence", "time", "description", "additional"}
var awardHeader = table.Row{"event_id", "award_category", "award_name", "team_info", "organization"}

// Sink accumulates per-event bundles into run-wide aggregate tables and
// persists each event's own tables the moment it is recorded. Aggregates are
// append-only and keep processing order, within an event the decoded order.
type Sink struct {
	outputDir string

	details []cvr.EventDetail
	teams   []cvr.Team
	agenda  []cvr.AgendaItem
	awards  []cvr.Award
}

func NewSink(outputDir string) *Sink {
	return &Sink{outputDir: outputDir}
}

func detailRow(d cvr.EventDetail) table.Row {
	return table.Row{d.Id, d.Name, d.Date, d.Location, d.Statistics, d.RobotGameTables, d.JudgingPods}
}

func teamRow(t cvr.Team) table.Row {
	return table.Row{t.EventId, t.TeamNumber, t.Name, t.City, t.Organization}
}

func agendaRow(a cvr.AgendaItem) table.Row {
	return table.Row{a.EventId, a.Sequence, a.Time, a.Description, a.Additional}
}

func awardRow(a cvr.Award) table.Row {
	return table.Row{a.EventId, a.Category, a.Name, a.TeamInfo, a.Organization}
}

func renderCSV(header table.Row, rows []table.Row) []byte {
	t := table.NewWriter()
	// keep column names as-is, the default style shouts them in caps
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(header)
	t.AppendRows(rows)
	return []byte(t.RenderCSV() + "\n")
}

func writeTable(dir, name string, contents []byte) error {
	err := os.WriteFile(filepath.Join(dir, name), contents, 0644)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Record appends the bundle to the run-wide aggregates and writes the
// per-event directory right away, so output survives a later fatal error.
func (s *Sink) Record(ctx context.Context, bundle Bundle) error {
	ctx, span := tracer.Start(ctx, "sink:Record")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", bundle.Detail.Id))

	s.details = append(s.details, bundle.Detail)
	s.teams = append(s.teams, bundle.Teams...)
	s.agenda = append(s.agenda, bundle.Agenda...)
	s.awards = append(s.awards, bundle.Awards...)

	dir := filepath.Join(s.outputDir, "event_"+bundle.Detail.Id)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create event directory")
		return err
	}

	var teamRows, agendaRows, awardRows []table.Row
	for _, t := range bundle.Teams {
		teamRows = append(teamRows, teamRow(t))
	}
	for _, a := range bundle.Agenda {
		agendaRows = append(agendaRows, agendaRow(a))
	}
	for _, a := range bundle.Awards {
		awardRows = append(awardRows, awardRow(a))
	}

	for name, contents := range map[string][]byte{
		"event_details.csv": renderCSV(detailHeader, []table.Row{detailRow(bundle.Detail)}),
		"teams.csv":         renderCSV(teamHeader, teamRows),
		"agenda.csv":        renderCSV(agendaHeader, agendaRows),
		"awards.csv":        renderCSV(awardHeader, awardRows),
	} {
		if err := writeTable(dir, name, contents); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to write event table")
			return err
		}
	}
	return nil
}

// Finalize writes the four run-wide aggregate tables. It is a pure function
// of the recorded state: calling it again without intervening Record calls
// rewrites byte-identical files.
func (s *Sink) Finalize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "sink:Finalize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("events", len(s.details)),
		attribute.Int("teams", len(s.teams)),
		attribute.Int("agenda_items", len(s.agenda)),
		attribute.Int("awards", len(s.awards)),
	)

	err := os.MkdirAll(s.outputDir, 0755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create output directory")
		return err
	}

	var detailRows, teamRows, agendaRows, awardRows []table.Row
	for _, d := range s.details {
		detailRows = append(detailRows, detailRow(d))
	}
	for _, t := range s.teams {
		teamRows = append(teamRows, teamRow(t))
	}
	for _, a := range s.agenda {
		agendaRows = append(agendaRows, agendaRow(a))
	}
	for _, a := range s.awards {
		awardRows = append(awardRows, awardRow(a))
	}

	for name, contents := range map[string][]byte{
		"archived_events.csv": renderCSV(detailHeader, detailRows),
		"all_teams.csv":       renderCSV(teamHeader, teamRows),
		"all_agenda.csv":      renderCSV(agendaHeader, agendaRows),
		"all_awards.csv":      renderCSV(awardHeader, awardRows),
	} {
		if err := writeTable(s.outputDir, name, contents); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to write aggregate table")
			return err
		}
	}
	return nil
}
