package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText collapses inner whitespace, strips non-printable runes and trims
// the result. Page text routinely carries stray newlines and nbsp artifacts,
// decoders should go through this.
func CleanText(s string) string {
	out := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	cleaned := strings.Trim(out.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(cleaned, " ")
}

// SelectionText is CleanText applied to the combined text of a selection.
func SelectionText(sel *goquery.Selection) string {
	return CleanText(sel.Text())
}

// HeaderTexts returns the cleaned text of every th cell inside a table
// selection, in document order.
func HeaderTexts(table *goquery.Selection) []string {
	var headers []string
	table.Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, SelectionText(th))
	})
	return headers
}

// LabeledValue searches a blob of page text for a `Label:` line and returns
// the remainder of that line, or "" when the label is absent.
func LabeledValue(text, label string) string {
	idx := strings.Index(text, label)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(label):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	return CleanText(rest)
}
