package readmodel

import (
	"regexp"

	"github.com/wildkoala/chronicle/conversation"
)

// citationPattern matches inline citation markers of the form [uuid:<id>].
// Malformed markers simply do not match; no attempt is made to repair them.
var citationPattern = regexp.MustCompile(
	`\[uuid:([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\]`,
)

// FilterCitedSources retains only source-attribution entries whose ID is
// actually cited in text. When nothing is cited it returns nil so the
// attribution column is cleared rather than storing an empty list.
func FilterCitedSources(text string, sources []conversation.Source) []conversation.Source {
	if len(sources) == 0 {
		return nil
	}

	cited := map[string]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		cited[m[1]] = true
	}
	if len(cited) == 0 {
		return nil
	}

	var kept []conversation.Source
	for _, s := range sources {
		if cited[s.ID] {
			kept = append(kept, s)
		}
	}
	return kept
}
