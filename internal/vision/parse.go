package vision

import (
	"encoding/json"
	"strings"
)

// labelCandidate is one item of the JSON array the model is asked to
// produce. Unknown fields are ignored; missing ones zero out and get
// filtered by the caller.
type labelCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// decodeLabelArray extracts a JSON array of label candidates from
// free-form model output. The model does not reliably return bare JSON:
// answers arrive wrapped in markdown fences, prefixed with prose, or not
// as JSON at all. Three escalating attempts:
//
//  1. parse the trimmed text as-is,
//  2. strip markdown code fences and parse,
//  3. parse the first [...] substring.
//
// Anything still unparseable yields nil.
func decodeLabelArray(text string) []labelCandidate {
	if cands, ok := tryParse(strings.TrimSpace(text)); ok {
		return cands
	}
	if cands, ok := tryParse(stripFences(text)); ok {
		return cands
	}
	if cands, ok := tryParse(bracketed(text)); ok {
		return cands
	}
	return nil
}

func tryParse(s string) ([]labelCandidate, bool) {
	if s == "" {
		return nil, false
	}
	var cands []labelCandidate
	if err := json.Unmarshal([]byte(s), &cands); err != nil {
		return nil, false
	}
	return cands, true
}

// stripFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// bracketed returns the substring from the first '[' to the last ']',
// the loosest extraction before giving up.
func bracketed(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
