package cvr

// EventSummary is one row of the archived events listing.
type EventSummary struct {
	Id   string
	Name string
	Date string
}

// EventDetail is the full metadata scraped from a single event page,
// merged with the listing-level fields.
type EventDetail struct {
	Id              string
	Name            string
	Date            string
	Location        string
	Statistics      string
	RobotGameTables string
	JudgingPods     string
}

type Team struct {
	EventId      string
	TeamNumber   string
	Name         string
	City         string
	Organization string
}

type AgendaItem struct {
	EventId     string
	Sequence    int
	Time        string
	Description string
	Additional  string
}

type Award struct {
	EventId      string
	Category     string
	Name         string
	TeamInfo     string
	Organization string
}
