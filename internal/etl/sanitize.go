package etl

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTag    = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// StripHTML converts a free-text field that may contain HTML markup into
// plain text. Announcement descriptions on BASE.gov are pasted from rich
// editors and regularly arrive with tags and entities embedded.
func StripHTML(s string) string {
	if s == "" || !htmlTag.MatchString(s) {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(htmlTag.ReplaceAllString(s, " "))
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	text := doc.Text()
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// sanitizeText strips markup from an optional text field in place.
func sanitizeText(s *string) *string {
	if s == nil {
		return nil
	}
	clean := StripHTML(*s)
	if clean == "" {
		return nil
	}
	return &clean
}
