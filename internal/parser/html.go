package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser extracts readable text and reply fragments from HTML mail bodies
type HTMLParser struct {
	whitespaceRegex *regexp.Regexp
	newlineRegex    *regexp.Regexp
}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		newlineRegex:    regexp.MustCompile(`\n{3,}`),
	}
}

// Text converts an HTML body to clean plain text, suitable for a ticket body
func (p *HTMLParser) Text(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	// Remove non-content elements
	doc.Find("script, style, head, meta, link").Remove()

	// Add newlines before block elements
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()

	// Collapse whitespace but preserve line structure
	text = p.whitespaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")
	text = p.newlineRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}

// ReplyParts is the content extracted from a reply draft body: the quoted
// thread below the separator and any inline style block.
type ReplyParts struct {
	Body  string
	Style string
}

// ReplyParts splits a reply draft's HTML into its quoted body and style,
// removing the horizontal separator the mail system inserts above the quote.
func (p *HTMLParser) ReplyParts(html string) (*ReplyParts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	doc.Find("hr").First().Remove()

	body, err := doc.Find("body").Html()
	if err != nil {
		return nil, err
	}

	var style string
	if sel := doc.Find("style").First(); sel.Length() > 0 {
		style = sel.Text()
	}

	return &ReplyParts{Body: body, Style: style}, nil
}
