package providers

import (
	"net/url"
	"strings"

	"chatrelay/internal/core"
)

// SourceAccumulator collects grounding citations across one assistant turn,
// de-duplicated by URL. The first-seen title for a URL wins; repeated cited
// text for the same URL is appended once, joined by a blank line.
type SourceAccumulator struct {
	order []string
	byURL map[string]*core.Source
}

// NewSourceAccumulator creates an empty accumulator for one turn.
func NewSourceAccumulator() *SourceAccumulator {
	return &SourceAccumulator{byURL: make(map[string]*core.Source)}
}

// Add merges one citation into the accumulator. Empty URLs are ignored.
// A missing title falls back to the URL's hostname.
func (a *SourceAccumulator) Add(rawURL, title, citedText string) {
	if rawURL == "" {
		return
	}
	if title == "" {
		title = hostnameOf(rawURL)
	}

	existing, ok := a.byURL[rawURL]
	if !ok {
		a.order = append(a.order, rawURL)
		a.byURL[rawURL] = &core.Source{URL: rawURL, Title: title, CitedText: citedText}
		return
	}

	if citedText != "" && !strings.Contains(existing.CitedText, citedText) {
		if existing.CitedText == "" {
			existing.CitedText = citedText
		} else {
			existing.CitedText += "\n\n" + citedText
		}
	}
}

// Len returns the number of distinct sources seen so far.
func (a *SourceAccumulator) Len() int { return len(a.order) }

// List returns the accumulated sources in first-seen order.
func (a *SourceAccumulator) List() []core.Source {
	out := make([]core.Source, 0, len(a.order))
	for _, u := range a.order {
		out = append(out, *a.byURL[u])
	}
	return out
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
