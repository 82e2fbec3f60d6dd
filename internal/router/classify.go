package router

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// a full 8 or 10 digit code stands alone; a bare heading.subheading
	// reads like a price, so it needs a cue word in front of it
	htsPattern     = regexp.MustCompile(`\b\d{4}\.\d{2}\.\d{2}(?:\d{2})?\b`)
	htsCuedPattern = regexp.MustCompile(`(?i)\b(?:hts|htsus|heading|subheading|code|tariff)(?:\s+(?:code|number|no\.?))?\s*:?\s*(\d{4}\.\d{2})\b`)
	lanePattern    = regexp.MustCompile(`\b[A-Z]{2}-[A-Z]{2}\b`)
)

var complianceTerms = []string{
	"hts", "tariff", "duty", "duties", "classification", "classify",
	"sanction", "ofac", "entity list", "denied party", "screening",
	"refusal", "refused", "ruling", "cross ruling",
	"customs", "import", "export", "compliance", "trade lane", "lane",
	"snapshot", "risk", "section 301",
}

var interrogatives = map[string]struct{}{
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "is": {}, "are": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "does": {}, "do": {}, "did": {},
	"will": {}, "may": {}, "explain": {},
}

// ExtractHTS returns the first HTS code written in the text.
func ExtractHTS(text string) string {
	if code := htsPattern.FindString(text); code != "" {
		return code
	}
	if m := htsCuedPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// ExtractLane returns the first trade lane written in the text.
func ExtractLane(text string) string {
	return lanePattern.FindString(text)
}

// IsCompliance reports whether a message is about compliance: it mentions a
// compliance term or carries an explicit HTS code or lane.
func IsCompliance(text string) bool {
	if ExtractHTS(text) != "" || ExtractLane(text) != "" {
		return true
	}
	lower := strings.ToLower(text)
	for _, term := range complianceTerms {
		if containsWord(lower, term) {
			return true
		}
	}
	return false
}

// IsQuestion reports whether a message asks something rather than
// requesting a snapshot.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "?") {
		return true
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) == 0 {
		return false
	}
	_, ok := interrogatives[fields[0]]
	return ok
}

// containsWord matches term at word boundaries, allowing a plural suffix.
func containsWord(text, term string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], term)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(term)
		if (start == 0 || !isWordByte(text[start-1])) &&
			(end == len(text) || !isWordByte(text[end]) || (text[end] == 's' && (end+1 == len(text) || !isWordByte(text[end+1])))) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
