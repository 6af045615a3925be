// Package parser splits a search string into field-scoped and unscoped
// terms. Double quotes group a phrase; "label:value" scopes a value to a
// label.
package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
)

// NoField labels unscoped terms.
const NoField = ""

// Query maps a label to its terms and phrases, phrases first.
type Query map[string][]string

// Unscoped returns the distinct unscoped terms in order.
func (q Query) Unscoped() []string {
	return dedupe(q[NoField])
}

// Labels returns the field labels used, sorted.
func (q Query) Labels() []string {
	out := make([]string, 0, len(q))
	for label := range q {
		if label != NoField {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// Terms returns every distinct term across all scopes, unscoped first.
func (q Query) Terms() []string {
	all := append([]string(nil), q[NoField]...)
	for _, label := range q.Labels() {
		all = append(all, q[label]...)
	}
	return dedupe(all)
}

// Empty reports whether the query has no terms at all.
func (q Query) Empty() bool {
	for _, terms := range q {
		if len(terms) > 0 {
			return false
		}
	}
	return true
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var (
	// A token is a run of anything but whitespace, commas and quotes, where
	// a closed double-quoted section may appear anywhere in the run.
	tokenPattern = regexp.MustCompile(`(?:[^\s,"]|"(?:\\.|[^"])*")+`)
	fieldPattern = regexp.MustCompile(`(?s)^([^:"]+):(\S.*)$`)
)

type Parser struct {
	canon *tokenizer.Canonicalizer
}

// New returns a Parser; a nil canonicalizer means tokenizer.Default.
func New(canon *tokenizer.Canonicalizer) *Parser {
	if canon == nil {
		canon = tokenizer.Default
	}
	return &Parser{canon: canon}
}

var defaultParser = New(nil)

// Parse uses the default canonicalizer.
func Parse(query string) Query {
	return defaultParser.Parse(query)
}

// Parse never fails; a query with nothing searchable yields an empty Query.
func (p *Parser) Parse(query string) Query {
	tokens := tokenPattern.FindAllString(p.canon.NormalizeQuery(query), -1)

	type scope struct {
		phrases []string
		words   []string
	}
	scopes := make(map[string]*scope)
	var order []string
	get := func(label string) *scope {
		s, ok := scopes[label]
		if !ok {
			s = &scope{}
			scopes[label] = s
			order = append(order, label)
		}
		return s
	}

	for i, tok := range tokens {
		label, value := NoField, tok
		if m := fieldPattern.FindStringSubmatch(tok); m != nil {
			if unbalanced(m[2]) {
				// Not a label after all: keep the rest of the query verbatim.
				s := get(NoField)
				s.phrases = append(s.phrases, strings.Join(tokens[i:], " "))
				break
			}
			label, value = m[1], m[2]
		}
		value = unquote(value)
		s := get(label)
		if strings.ContainsFunc(value, isSpace) {
			if phrase := strings.Join(p.canon.Canonicalize(value), " "); phrase != "" {
				s.phrases = append(s.phrases, phrase)
			}
			continue
		}
		s.words = append(s.words, value)
	}

	q := make(Query, len(scopes))
	for _, label := range order {
		s := scopes[label]
		terms := append([]string{}, s.phrases...)
		if len(s.words) > 0 {
			terms = append(terms, p.canon.Canonicalize(strings.Join(s.words, " "))...)
		}
		q[label] = terms
	}
	return q
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func unbalanced(s string) bool {
	return strings.Count(s, `"`)%2 != 0 || strings.Count(s, "'")%2 != 0
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
