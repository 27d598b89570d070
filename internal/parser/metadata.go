package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var embeddedJSONRegex = regexp.MustCompile(`(?s)\{.*\}`)

// HasMarker reports whether the HTML head carries a marker meta tag with the
// given name and content. Markers are how the bridge recognizes its own
// outgoing messages when they come back as inbound events.
func HasMarker(html, name, content string) bool {
	if html == "" {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	found := false
	doc.Find("head meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		n, _ := s.Attr("name")
		c, _ := s.Attr("content")
		if n == name && c == content {
			found = true
			return false
		}
		return true
	})
	return found
}

// CommentPayload is the structured payload embedded in a Jira automation
// notification about a new comment.
type CommentPayload struct {
	Issue  string `json:"issue"` // issue key
	ID     string `json:"id"`    // comment id
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
}

// ExtractCommentPayload locates and decodes the JSON payload embedded in an
// automation notification body.
func ExtractCommentPayload(html string) (*CommentPayload, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse body: %w", err)
	}

	raw := embeddedJSONRegex.FindString(doc.Text())
	if raw == "" {
		return nil, fmt.Errorf("no embedded payload found")
	}

	var payload CommentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if payload.Issue == "" || payload.ID == "" {
		return nil, fmt.Errorf("incomplete payload: issue=%q id=%q", payload.Issue, payload.ID)
	}
	return &payload, nil
}

// Domain returns the domain part of a mail address, lowercased. Returns an
// empty string when the address has no domain.
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
