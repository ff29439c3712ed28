package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	require.Equal(t, "Winter Classic", CleanText("  Winter \n  Classic\t"))
	require.Equal(t, "", CleanText(" \n\t "))
}

func TestHeaderTexts(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><th> # </th><th>Name</th><th>City</th></tr></table>`))
	require.NoError(t, err)
	require.Equal(t, []string{"#", "Name", "City"}, HeaderTexts(doc.Find("table")))
}

func TestLabeledValue(t *testing.T) {
	text := "Some intro\nLocation: Lincoln High School Gym\nTeams: 24\n"
	require.Equal(t, "Lincoln High School Gym", LabeledValue(text, "Location:"))
	require.Equal(t, "24", LabeledValue(text, "Teams:"))
	require.Equal(t, "", LabeledValue(text, "Judging Pods:"))
}
