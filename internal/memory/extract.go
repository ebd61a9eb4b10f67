package memory

import (
	"regexp"
	"strings"
)

// Fact is a single candidate memory extracted from an utterance.
type Fact struct {
	Kind       string
	Text       string
	Confidence float64
	Metadata   map[string]string
}

const maxFactsPerTurn = 6

// relationshipKeywords maps surface words to canonical relationship types.
var relationshipKeywords = map[string]string{
	"wife":     "spouse",
	"husband":  "spouse",
	"spouse":   "spouse",
	"partner":  "partner",
	"son":      "child",
	"daughter": "child",
	"mom":      "parent",
	"mother":   "parent",
	"dad":      "parent",
	"father":   "parent",
	"brother":  "sibling",
	"sister":   "sibling",
	"friend":   "friend",
	"coworker": "coworker",
	"boss":     "boss",
	"manager":  "manager",
}

var (
	preferencePattern   = regexp.MustCompile(`(?i)\bI (?:really )?(?:like|love|enjoy|adore)\s+([^.!?]+)`)
	dislikePattern      = regexp.MustCompile(`(?i)\bI (?:really )?(?:dislike|hate|can't stand)\s+([^.!?]+)`)
	eventPattern        = regexp.MustCompile(`(?i)\bI (?:just\s+)?(?:went to|visited|traveled to|attended)\s+([^.!?]+)`)
	jobPattern          = regexp.MustCompile(`(?i)\bI (?:work as|work at|am (?:an?|the))\s+([^.!?]+)`)
	relationshipPattern = regexp.MustCompile(`(?i)\bmy\s+(wife|husband|spouse|partner|son|daughter|mom|mother|dad|father|brother|sister|friend|coworker|boss|manager)(?:\s+named)?\s+([A-Za-z][a-zA-Z]+)?`)
)

// ExtractFacts runs the heuristic extractors over one utterance and returns
// at most maxFactsPerTurn normalized facts.
func ExtractFacts(text string) []Fact {
	var results []Fact

	families := []struct {
		pattern    *regexp.Regexp
		kind       string
		confidence float64
		prefix     string
	}{
		{preferencePattern, "preference", 0.8, "Enjoys"},
		{dislikePattern, "preference", 0.75, "Dislikes"},
		{eventPattern, "event", 0.7, "Recently"},
		{jobPattern, "fact", 0.65, "Role"},
	}

	for _, fam := range families {
		for _, m := range fam.pattern.FindAllStringSubmatch(text, -1) {
			obj := cleanFragment(m[1])
			if obj == "" {
				continue
			}
			factText := fam.prefix + " " + obj
			if fam.prefix == "Role" {
				factText = "Role: " + obj
			}
			results = append(results, Fact{Kind: fam.kind, Text: factText, Confidence: fam.confidence})
			if len(results) >= maxFactsPerTurn {
				return results
			}
		}
	}

	for _, m := range relationshipPattern.FindAllStringSubmatch(text, -1) {
		relType, ok := relationshipKeywords[strings.ToLower(m[1])]
		if !ok {
			relType = strings.ToLower(m[1])
		}
		targetName := cleanFragment(m[2])
		factText := "Talks about their " + relType
		if targetName != "" {
			factText = "Mentions " + relType + ": " + targetName
		}
		results = append(results, Fact{
			Kind:       "relationship",
			Text:       factText,
			Confidence: 0.7,
			Metadata: map[string]string{
				"relationship_type": relType,
				"target_name":       targetName,
			},
		})
		if len(results) >= maxFactsPerTurn {
			break
		}
	}

	return results
}

// cleanFragment trims surrounding whitespace and punctuation and caps the
// fragment at 240 characters.
func cleanFragment(value string) string {
	fragment := strings.TrimSpace(value)
	fragment = strings.Trim(fragment, ",.;:!?")
	fragment = strings.TrimSpace(fragment)
	if runes := []rune(fragment); len(runes) > 240 {
		fragment = string(runes[:240])
	}
	return fragment
}

// normalizeText lowercases and collapses whitespace for dedup hashing.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
