// Package tokenizer turns free text into the canonical tokens and n-gram
// terms the index is keyed on. Canonicalization case-folds, substitutes
// punctuation with spaces, drops English stopwords and applies a Porter2
// stemmer.
package tokenizer

import (
	"strings"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Stemmer reduces a word to its stem. An empty result drops the word.
type Stemmer func(word string) string

// PorterStemmer is the default Stemmer.
func PorterStemmer(word string) string {
	return english.Stem(word, true)
}

// punctuation is replaced with a space before tokenizing.
const punctuation = "|/-–—~,.;:!?"

// querySyntax survives NormalizeQuery so the parser can see field labels
// and phrases.
const querySyntax = `:"`

// Canonicalizer is safe for concurrent use.
type Canonicalizer struct {
	stopwords map[string]struct{}
	stem      Stemmer
}

type Option func(*Canonicalizer)

// WithStopwords replaces the default English stopword set.
func WithStopwords(words []string) Option {
	return func(c *Canonicalizer) {
		c.stopwords = toSet(words)
	}
}

// WithStemmer replaces PorterStemmer.
func WithStemmer(s Stemmer) Option {
	return func(c *Canonicalizer) {
		c.stem = s
	}
}

func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		stopwords: englishStopwords,
		stem:      PorterStemmer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Default uses the English stopword list and PorterStemmer.
var Default = New()

type canonOptions struct {
	keepStopwords bool
	skipStemming  bool
}

// CanonOption adjusts a single Canonicalize call.
type CanonOption func(*canonOptions)

// KeepStopwords disables stopword removal.
func KeepStopwords() CanonOption {
	return func(o *canonOptions) { o.keepStopwords = true }
}

// SkipStemming disables stemming.
func SkipStemming() CanonOption {
	return func(o *canonOptions) { o.skipStemming = true }
}

// Normalize substitutes punctuation with spaces and case-folds the result.
func (c *Canonicalizer) Normalize(s string) string {
	return c.normalize(s, punctuation)
}

// NormalizeQuery is Normalize except that ':' and '"' are kept. Commas are
// still replaced so they separate query tokens.
func (c *Canonicalizer) NormalizeQuery(s string) string {
	strip := strings.Map(func(r rune) rune {
		if strings.ContainsRune(querySyntax, r) {
			return -1
		}
		return r
	}, punctuation)
	return c.normalize(s, strip)
}

func (c *Canonicalizer) normalize(s, chars string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return ' '
		}
		return r
	}, s)
	// cases.Caser keeps state between calls, so it is not shared.
	return cases.Fold().String(norm.NFKC.String(s))
}

// Canonicalize returns the canonical tokens of raw in order.
func (c *Canonicalizer) Canonicalize(raw string, opts ...CanonOption) []string {
	var o canonOptions
	for _, opt := range opts {
		opt(&o)
	}

	words := strings.Fields(c.Normalize(raw))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if !o.keepStopwords {
			if _, isStop := c.stopwords[word]; isStop {
				continue
			}
		}
		if !o.skipStemming {
			word = c.stem(word)
			// Leftovers of field labels and phrase quotes.
			if strings.Trim(word, querySyntax) == "" {
				continue
			}
		}
		if strings.HasPrefix(word, "_") {
			// Stored terms are used as keys, which may not start with '_'.
			word = strings.TrimLeft(word, "_")
			if word == "" {
				continue
			}
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// Normalize uses Default.
func Normalize(s string) string {
	return Default.Normalize(s)
}

// Canonicalize uses Default.
func Canonicalize(raw string, opts ...CanonOption) []string {
	return Default.Canonicalize(raw, opts...)
}
