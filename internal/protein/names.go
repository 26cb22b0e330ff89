// Package protein extracts protein and gene names from the retrieval
// context returned by the structure-lookup pipeline stage. The patterns are
// best-effort heuristics over formatted text, kept isolated here so they can
// be tested and replaced without touching the conversation logic.
package protein

import "regexp"

var (
	// Primary pattern: names the retrieval stage bolds in markdown.
	boldName = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	// Fallback pattern: "Name (UniProt: P12345)" citations. The name is a
	// capitalized or numeric leading token plus up to three lowercase
	// follow-on tokens, which keeps surrounding prose out of the capture.
	uniprotName = regexp.MustCompile(`([A-Z0-9][A-Za-z0-9_.-]*(?: [a-z0-9][A-Za-z0-9_.-]*){0,3})\s*\(UniProt:`)
)

// ExtractNames returns the entity names found in a retrieval context
// string, in order of first appearance, deduplicated. The bolded-name
// pattern is tried first; the UniProt citation pattern is the fallback.
func ExtractNames(context string) []string {
	names := collect(boldName.FindAllStringSubmatch(context, -1))
	if len(names) == 0 {
		names = collect(uniprotName.FindAllStringSubmatch(context, -1))
	}
	return names
}

func collect(matches [][]string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		name := m[1]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
