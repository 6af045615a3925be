package tokenizer

import "strings"

// MaxWindow is the longest run of adjacent tokens that becomes a term.
const MaxWindow = 4

// Term is a distinct term of a text with its occurrence count.
type Term struct {
	Term        string
	Occurrences uint64
}

// GenerateTerms returns every window of 1 to MaxWindow adjacent tokens,
// joined by single spaces, in start-then-length order. Duplicate windows
// are kept.
func GenerateTerms(tokens []string) []string {
	terms := make([]string, 0, len(tokens)*MaxWindow)
	for i := range tokens {
		for j := 1; j <= MaxWindow; j++ {
			if i+j > len(tokens) {
				break
			}
			term := strings.Join(tokens[i:i+j], " ")
			if strings.TrimSpace(term) == "" {
				continue
			}
			terms = append(terms, term)
		}
	}
	return terms
}

// Terms canonicalizes text and returns its distinct terms in first-seen
// order. A term's occurrences are the non-overlapping matches of the term
// inside the canonical text, so a short term also counts where it appears
// inside a longer token.
func (c *Canonicalizer) Terms(text string) []Term {
	tokens := c.Canonicalize(text)
	if len(tokens) == 0 {
		return nil
	}
	joined := strings.Join(tokens, " ")

	seen := make(map[string]struct{})
	out := make([]Term, 0)
	for _, term := range GenerateTerms(tokens) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, Term{Term: term, Occurrences: uint64(strings.Count(joined, term))})
	}
	return out
}

// Terms uses Default.
func Terms(text string) []Term {
	return Default.Terms(text)
}
