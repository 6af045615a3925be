package parser

import (
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer/tokenizer"
)

var plain = New(tokenizer.New(
	tokenizer.WithStopwords(nil),
	tokenizer.WithStemmer(func(w string) string { return w }),
))

func TestParseDefault(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Query
	}{
		{
			name:  "unbalanced quote is not a field",
			query: `This:isn't a field`,
			want:  Query{NoField: {"this:isn't a field"}},
		},
		{
			name:  "comma separated fields",
			query: "field:test1, other_field:test2",
			want:  Query{"field": {"test1"}, "other_field": {"test2"}},
		},
		{
			name:  "empty",
			query: "",
			want:  Query{},
		},
		{
			name:  "punctuation only",
			query: "?! ...",
			want:  Query{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.query); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Query
	}{
		{
			name:  "quoted field value",
			query: `This:"is a field"`,
			want:  Query{"this": {"is a field"}},
		},
		{
			name:  "field then unscoped words",
			query: "This:is multiple things",
			want:  Query{"this": {"is"}, NoField: {"multiple", "things"}},
		},
		{
			name:  "phrases before words",
			query: `red "Big Fish", blue`,
			want:  Query{NoField: {"big fish", "red", "blue"}},
		},
		{
			name:  "repeated label accumulates",
			query: `title:"Big Fish" title:cat title:dog`,
			want:  Query{"title": {"big fish", "cat", "dog"}},
		},
		{
			name:  "unclosed quote is ignored",
			query: `say "hello world`,
			want:  Query{NoField: {"say", "hello", "world"}},
		},
		{
			name:  "literal keeps the remainder verbatim",
			query: `cake note:it's "great" really`,
			want:  Query{NoField: {`note:it's "great" really`, "cake"}},
		},
		{
			name:  "colon inside a value",
			query: "url:a:b",
			want:  Query{"url": {"a", "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := plain.Parse(tt.query); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	q := Query{
		NoField:  {"red fish", "red", "red"},
		"title":  {"cat", "red"},
		"author": {"ann"},
	}
	if got := q.Unscoped(); !reflect.DeepEqual(got, []string{"red fish", "red"}) {
		t.Errorf("Unscoped = %q", got)
	}
	if got := q.Labels(); !reflect.DeepEqual(got, []string{"author", "title"}) {
		t.Errorf("Labels = %q", got)
	}
	if got := q.Terms(); !reflect.DeepEqual(got, []string{"red fish", "red", "ann", "cat"}) {
		t.Errorf("Terms = %q", got)
	}
	if q.Empty() {
		t.Error("Empty() = true")
	}
	if !(Query{"x": nil}).Empty() {
		t.Error("query with no terms should be empty")
	}
}
