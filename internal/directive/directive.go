// Package directive implements the embedded-directive codec: a fenced,
// labeled JSON block smuggled inside the assistant's natural-language output,
// used by models that cannot emit a second output channel mid-stream. The
// fence-matching regex lives here and nowhere else; the rest of the system
// only ever sees text plus an optional parsed directive.
package directive

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Label is the sentinel that introduces the fenced block.
const Label = "SEARCH_TERMS_JSON"

// The directive legally appears once, at the end of a turn, but the codec
// removes every occurrence anywhere in the text.
var fencePattern = regexp.MustCompile("(?s)```" + Label + `\s*(\{.*?\})\s*` + "```")

// Suggestions is the structured payload carried by a directive.
type Suggestions struct {
	SearchTerms []string
	Confidence  float64
	Reasoning   string
}

// Extract parses the directive block out of text. It returns nil when the
// block is absent, the JSON is malformed, or any required field is missing or
// of the wrong type; partial objects are rejected, never coerced. Extract is
// a pure function and never fails with an error.
func Extract(text string) *Suggestions {
	match := fencePattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	raw := strings.TrimSpace(match[1])
	if !gjson.Valid(raw) {
		return nil
	}

	terms := gjson.Get(raw, "searchTerms")
	confidence := gjson.Get(raw, "confidence")
	reasoning := gjson.Get(raw, "reasoning")

	if !terms.IsArray() || confidence.Type != gjson.Number || reasoning.Type != gjson.String {
		return nil
	}

	out := &Suggestions{
		Confidence: confidence.Float(),
		Reasoning:  reasoning.String(),
	}
	for _, t := range terms.Array() {
		out.SearchTerms = append(out.SearchTerms, t.String())
	}
	return out
}

// Strip removes all directive blocks from text and trims surrounding
// whitespace. Malformed blocks that still match the fence are removed too;
// text without a directive is returned unchanged apart from trimming.
// Strip is idempotent.
func Strip(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}
