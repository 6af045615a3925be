package store

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateTerm(t *testing.T) {
	short := "banana split"
	if got := TruncateTerm(short); got != short {
		t.Errorf("short term changed: %q", got)
	}

	ascii := strings.Repeat("a", MaxTermLength+10)
	if got := TruncateTerm(ascii); len(got) != MaxTermLength {
		t.Errorf("len = %d, want %d", len(got), MaxTermLength)
	}

	// 'é' is two bytes, so after the leading 'a' the limit falls inside one.
	wide := "a" + strings.Repeat("é", MaxTermLength)
	got := TruncateTerm(wide)
	if len(got) != MaxTermLength-1 || !utf8.ValidString(got) {
		t.Errorf("truncated to %d bytes, valid=%v", len(got), utf8.ValidString(got))
	}
}

func TestInTransaction(t *testing.T) {
	ctx := context.Background()
	if InTransaction(ctx) {
		t.Fatal("plain context reported in transaction")
	}
	if !InTransaction(WithTransaction(ctx)) {
		t.Fatal("marked context not reported in transaction")
	}
}
