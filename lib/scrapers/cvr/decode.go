package cvr

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"cvrarchive/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Decoders are pure: goquery document in, typed rows out, in document order.
// A page missing the structural markers for a sub-entity decodes to an empty
// slice, only the top-level detail decode can fail.

func findTableWithHeaders(doc *goquery.Document, required ...string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := htmlutil.HeaderTexts(table)
		for _, want := range required {
			if !slices.Contains(headers, want) {
				return true
			}
		}
		found = table
		return false
	})
	return found
}

var eventIdPattern = regexp.MustCompile(`/event/(\d+)/`)

// DecodeEventList pulls event summaries off an archive listing page. The
// second return reports whether the page advertises a further page.
func DecodeEventList(doc *goquery.Document) ([]EventSummary, bool) {
	table := findTableWithHeaders(doc, "Name", "Date")
	if table == nil {
		return nil, false
	}

	var events []EventSummary
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		id := ""
		row.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			groups := eventIdPattern.FindStringSubmatch(a.AttrOr("href", ""))
			if len(groups) < 2 {
				return true
			}
			id = groups[1]
			return false
		})
		if id == "" {
			return
		}
		events = append(events, EventSummary{
			Id:   id,
			Name: htmlutil.SelectionText(cells.Eq(0)),
			Date: htmlutil.SelectionText(cells.Eq(1)),
		})
	})

	hasNext := doc.Find(".page-links a.next-btn").Length() > 0
	return events, hasNext
}

// DecodeEventDetail merges listing-level fields with the labeled content
// blocks of the event page. It fails when the page has none of the expected
// structure, which marks the whole record as unextractable.
func DecodeEventDetail(doc *goquery.Document, summary EventSummary) (EventDetail, error) {
	detail := EventDetail{
		Id:   summary.Id,
		Name: summary.Name,
		Date: summary.Date,
	}

	content := doc.Find("div.content")
	if content.Length() == 0 && doc.Find("table").Length() == 0 {
		return EventDetail{}, fmt.Errorf("event %s: detail page has no recognizable content", summary.Id)
	}

	content.Each(func(_ int, div *goquery.Selection) {
		text := div.Text()

		if v := htmlutil.LabeledValue(text, "Location:"); v != "" {
			detail.Location = v
		}
		if v := htmlutil.LabeledValue(text, "Statistics:"); v != "" {
			detail.Statistics = v
		} else if v := htmlutil.LabeledValue(text, "Teams:"); v != "" {
			detail.Statistics = v
		}
		if v := htmlutil.LabeledValue(text, "Robot Game Tables:"); v != "" {
			detail.RobotGameTables = v
		}
		if v := htmlutil.LabeledValue(text, "Judging Pods:"); v != "" {
			detail.JudgingPods = v
		}
	})

	return detail, nil
}

// DecodeTeams reads the team roster table, mapping columns by header
// position since older events lack the Organization column.
func DecodeTeams(doc *goquery.Document, eventId string) []Team {
	table := findTableWithHeaders(doc, "Name", "City")
	if table == nil {
		return nil
	}

	headers := htmlutil.HeaderTexts(table)
	numberIdx := headerIndex(headers, "#", 0)
	nameIdx := headerIndex(headers, "Name", 1)
	cityIdx := headerIndex(headers, "City", 2)
	orgIdx := headerIndex(headers, "Organization", -1)

	var teams []Team
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= max(numberIdx, nameIdx, cityIdx) {
			return
		}
		team := Team{
			EventId:    eventId,
			TeamNumber: htmlutil.SelectionText(cells.Eq(numberIdx)),
			Name:       htmlutil.SelectionText(cells.Eq(nameIdx)),
			City:       htmlutil.SelectionText(cells.Eq(cityIdx)),
		}
		if orgIdx >= 0 && cells.Length() > orgIdx {
			team.Organization = htmlutil.SelectionText(cells.Eq(orgIdx))
		}
		teams = append(teams, team)
	})
	return teams
}

func headerIndex(headers []string, name string, fallback int) int {
	idx := slices.Index(headers, name)
	if idx < 0 {
		return fallback
	}
	return idx
}

// forms like "9:00 AM - Registration" or "9:00-9:30: Opening"
var agendaLinePattern = regexp.MustCompile(`^([\d:]+\s*(?:AM|PM|am|pm)?(?:\s*-\s*[\d:]+\s*(?:AM|PM|am|pm)?)?)\s*[:-]\s*(.*)`)

// DecodeAgenda reads the agenda card list items in source order. Sequence
// numbers are assigned here so downstream tables can preserve it.
func DecodeAgenda(doc *goquery.Document, eventId string) []AgendaItem {
	var items []AgendaItem

	appendItem := func(li *goquery.Selection) {
		var item AgendaItem

		span := li.Find("span").First()
		h6 := li.Find("h6").First()
		if span.Length() > 0 && h6.Length() > 0 {
			item.Time = htmlutil.SelectionText(span)
			item.Description = htmlutil.SelectionText(h6)
			item.Additional = htmlutil.SelectionText(li.Find("small").First())
		} else {
			text := htmlutil.SelectionText(li)
			groups := agendaLinePattern.FindStringSubmatch(text)
			if len(groups) == 3 {
				item.Time = strings.TrimSpace(groups[1])
				item.Description = strings.TrimSpace(groups[2])
			} else {
				item.Description = text
			}
		}

		item.EventId = eventId
		item.Sequence = len(items) + 1
		items = append(items, item)
	}

	card := doc.Find("#agenda-card")
	card.Find("li").Each(func(_ int, li *goquery.Selection) {
		appendItem(li)
	})
	if len(items) > 0 {
		return items
	}

	// no agenda card, look for list items under an agenda/schedule heading
	doc.Find("h2, h3, h4").Each(func(_ int, heading *goquery.Selection) {
		title := strings.ToLower(heading.Text())
		if !strings.Contains(title, "agenda") && !strings.Contains(title, "schedule") {
			return
		}
		section := heading.NextUntil("h2, h3, h4")
		section.Filter("ul").AddSelection(section.Find("ul")).Find("li").Each(func(_ int, li *goquery.Selection) {
			appendItem(li)
		})
	})
	if len(items) > 0 {
		return items
	}

	// last resort, a small Time/Description table
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := htmlutil.HeaderTexts(table)
		if !slices.Contains(headers, "Time") || len(headers) > 3 {
			return true
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			item := AgendaItem{
				EventId:     eventId,
				Sequence:    len(items) + 1,
				Time:        htmlutil.SelectionText(cells.Eq(0)),
				Description: htmlutil.SelectionText(cells.Eq(1)),
			}
			if cells.Length() >= 3 {
				item.Additional = htmlutil.SelectionText(cells.Eq(2))
			}
			items = append(items, item)
		})
		return false
	})

	return items
}

const (
	categoryChampions = "Champions Award"
	categoryCore      = "Core Awards"
	categoryOther     = "Other Awards"
)

var placeMarkers = []string{"1st Place", "2nd Place", "3rd Place"}

func hasPlaceMarker(s string) bool {
	for _, place := range placeMarkers {
		if strings.Contains(s, place) {
			return true
		}
	}
	return false
}

// DecodeAwards reads the three award containers (champions, core, other).
// Pages that predate the container markup fall back to scanning the generic
// awards container for headings.
func DecodeAwards(doc *goquery.Document, eventId string) []Award {
	var awards []Award

	appendAward := func(category, name string, teamEl *goquery.Selection) {
		if teamEl.Length() == 0 {
			return
		}
		organization := ""
		small := teamEl.Find("small").First()
		if small.Length() == 0 {
			small = teamEl.NextFiltered("small").First()
		}
		if small.Length() > 0 {
			organization = htmlutil.SelectionText(small)
		}
		awards = append(awards, Award{
			EventId:      eventId,
			Category:     category,
			Name:         htmlutil.CleanText(name),
			TeamInfo:     htmlutil.SelectionText(teamEl),
			Organization: organization,
		})
	}

	champions := doc.Find("#awards-champions-container")
	if champions.Length() > 0 {
		h2s := champions.Find("h2")
		if h2s.Length() == 1 && !hasPlaceMarker(h2s.Text()) {
			// single category header, the placed awards live in p elements
			// of the form "1st Place - Team 1234 Roboraptors"
			champions.Find("p").Each(func(_ int, p *goquery.Selection) {
				text := htmlutil.SelectionText(p)
				if !hasPlaceMarker(text) {
					return
				}
				name, teamInfo, ok := strings.Cut(text, "-")
				if !ok {
					return
				}
				organization := ""
				small := p.NextFiltered("small").First()
				if small.Length() > 0 {
					organization = htmlutil.SelectionText(small)
				}
				awards = append(awards, Award{
					EventId:      eventId,
					Category:     categoryChampions,
					Name:         strings.TrimSpace(name),
					TeamInfo:     strings.TrimSpace(teamInfo),
					Organization: organization,
				})
			})
		} else {
			h2s.Each(func(_ int, h2 *goquery.Selection) {
				name := htmlutil.SelectionText(h2)
				if name == categoryChampions {
					return
				}
				appendAward(categoryChampions, name, h2.NextAllFiltered("p").First())
			})
		}
	}

	doc.Find("#awards-core-container h3").Each(func(_ int, h3 *goquery.Selection) {
		appendAward(categoryCore, h3.Text(), h3.NextAllFiltered("p").First())
	})
	doc.Find("#awards-other-container h4").Each(func(_ int, h4 *goquery.Selection) {
		appendAward(categoryOther, h4.Text(), h4.NextAllFiltered("p").First())
	})

	if len(awards) > 0 {
		return awards
	}

	// older pages only have a flat awards container
	container := doc.Find("#awards-container")
	if container.Length() == 0 {
		return nil
	}
	container.Find("h2, h3").Each(func(_ int, heading *goquery.Selection) {
		text := heading.Text()
		if strings.Contains(text, "Champions") {
			appendAward(categoryChampions, text, heading.NextAllFiltered("p").First())
		} else if strings.Contains(text, "Award") {
			appendAward(categoryCore, text, heading.NextAllFiltered("p").First())
		}
	})
	container.Find("h4").Each(func(_ int, h4 *goquery.Selection) {
		if strings.Contains(h4.Text(), "Award") {
			appendAward(categoryOther, h4.Text(), h4.NextAllFiltered("p").First())
		}
	})

	return awards
}
