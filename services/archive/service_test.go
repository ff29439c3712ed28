package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cvrarchive/lib/scrapers/cvr"
	"cvrarchive/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func detailPageHtml(id string) string {
	return fmt.Sprintf(`<html><body><div class="content">
Location: Gym %s
Statistics: 10 teams
</div></body></html>`, id)
}

func teamsPageHtml(id string, teams int) string {
	html := `<html><body><table><tr><th>#</th><th>Name</th><th>City</th></tr>`
	for i := 0; i < teams; i++ {
		html += fmt.Sprintf(`<tr><td>%d</td><td>Team %d of %s</td><td>City</td></tr>`, i+1, i+1, id)
	}
	return html + `</table></body></html>`
}

func agendaPageHtml() string {
	return `<html><body><div id="agenda-card"><ul>
<li><span>8:00 AM</span><h6>Check-in</h6></li>
<li><span>9:00 AM</span><h6>Matches</h6></li>
</ul></div></body></html>`
}

func awardsPageHtml() string {
	return `<html><body><div id="awards-core-container">
<h3>Teamwork Award</h3><p>Team 1</p>
</div></body></html>`
}

// wholeSite populates a fake gateway with a single-page archive and fully
// working events for every given id.
func wholeSite(ids ...string) *fakeGateway {
	gateway := &fakeGateway{
		pages: map[string]string{"/event/archive/": listPageHtml(ids, false)},
		errs:  map[string]error{},
	}
	for _, id := range ids {
		gateway.pages[fmt.Sprintf("/event/%s/", id)] = detailPageHtml(id)
		gateway.pages[fmt.Sprintf("/event/%s/teams/", id)] = teamsPageHtml(id, 2)
		gateway.pages[fmt.Sprintf("/event/%s/agenda/", id)] = agendaPageHtml()
		gateway.pages[fmt.Sprintf("/event/%s/awards/", id)] = awardsPageHtml()
	}
	return gateway
}

func TestRunHappyPath(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:services/archive/run")
	defer cleanup()
	ctx := context.Background()

	gateway := wholeSite("101", "102")
	dir := t.TempDir()

	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 2, Extracted: 2}, summary)

	require.Equal(t, 2, rowCount(t, filepath.Join(dir, "archived_events.csv")))
	require.Equal(t, 4, rowCount(t, filepath.Join(dir, "all_teams.csv")))
	require.Equal(t, 4, rowCount(t, filepath.Join(dir, "all_agenda.csv")))
	require.Equal(t, 2, rowCount(t, filepath.Join(dir, "all_awards.csv")))
	require.DirExists(t, filepath.Join(dir, "event_101"))
	require.DirExists(t, filepath.Join(dir, "event_102"))
}

func TestRunSkipsRecordWhenDetailFails(t *testing.T) {
	ctx := context.Background()

	gateway := wholeSite("101", "102", "103")
	delete(gateway.pages, "/event/102/")

	dir := t.TempDir()
	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 3, Extracted: 2}, summary)

	contents, readErr := os.ReadFile(filepath.Join(dir, "archived_events.csv"))
	require.NoError(t, readErr)
	require.NotContains(t, string(contents), "102")
	require.NoDirExists(t, filepath.Join(dir, "event_102"))

	// the skipped record contributes zero rows everywhere
	require.Equal(t, 4, rowCount(t, filepath.Join(dir, "all_teams.csv")))
}

func TestRunKeepsRecordWhenSubPageFails(t *testing.T) {
	ctx := context.Background()

	gateway := wholeSite("101")
	delete(gateway.pages, "/event/101/teams/")

	dir := t.TempDir()
	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 1, Extracted: 1}, summary)

	contents, readErr := os.ReadFile(filepath.Join(dir, "archived_events.csv"))
	require.NoError(t, readErr)
	require.Contains(t, string(contents), "101")

	require.Equal(t, 0, rowCount(t, filepath.Join(dir, "all_teams.csv")))
	require.Equal(t, 2, rowCount(t, filepath.Join(dir, "all_agenda.csv")))
}

func TestRunFatalOnSessionExpiry(t *testing.T) {
	ctx := context.Background()

	gateway := wholeSite("101", "102", "103")
	gateway.errs["/event/102/"] = cvr.ErrSessionExpired

	dir := t.TempDir()
	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{})
	require.ErrorIs(t, err, cvr.ErrSessionExpired)
	require.Equal(t, Summary{Attempted: 2, Extracted: 1}, summary)

	// everything aggregated before the failure is still flushed
	require.Equal(t, 1, rowCount(t, filepath.Join(dir, "archived_events.csv")))
	require.Equal(t, 2, rowCount(t, filepath.Join(dir, "all_teams.csv")))
}

func TestRunEventLimit(t *testing.T) {
	ctx := context.Background()

	gateway := wholeSite("101", "102", "103")
	dir := t.TempDir()

	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{EventLimit: 2})
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 2, Extracted: 2}, summary)
	require.Equal(t, 0, gateway.fetchCount("/event/103/"))
}

func TestRunMaxRecordsCeiling(t *testing.T) {
	ctx := context.Background()

	gateway := wholeSite("101", "102", "103")
	dir := t.TempDir()

	summary, err := Run(ctx, gateway, NewSink(dir), RunOptions{MaxRecords: 1})
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 1, Extracted: 1}, summary)
	require.Equal(t, 1, rowCount(t, filepath.Join(dir, "archived_events.csv")))
}

func TestSummaryRender(t *testing.T) {
	out := Summary{Attempted: 5, Extracted: 4}.Render()
	require.Contains(t, out, "5")
	require.Contains(t, out, "4")
}
