// Package store defines the persistence contract for index records and
// global term counters. Backends live in the memory and postgres
// subpackages; storetest holds the conformance suite both must pass.
package store

import (
	"context"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// MaxTermLength bounds stored terms, in bytes.
const MaxTermLength = 1024

var (
	// ErrConflict is returned by RunInTx when a concurrent transaction
	// changed data this one read. The whole transaction may be retried.
	ErrConflict = apperrors.ErrConflict
	// ErrNotFound is returned for missing counters and index records.
	ErrNotFound = apperrors.ErrNotFound
	// ErrDuplicate is returned when an index record with the same
	// (term, field, owner) already exists.
	ErrDuplicate = apperrors.ErrDuplicate
)

// Owner identifies the record an index entry points back to.
type Owner struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
}

func (o Owner) String() string {
	return o.Collection + "/" + o.Key
}

// IndexRecord says Term occurs Occurrences times in Field of Owner.
type IndexRecord struct {
	Term        string `json:"term"`
	Field       string `json:"field"`
	Occurrences uint64 `json:"occurrences"`
	Owner       Owner  `json:"owner"`
}

// Counter is the global occurrence count of a term across every live index
// record. Version changes on every write and is used by backends that detect
// conflicts optimistically.
type Counter struct {
	Term    string
	Count   uint64
	Version uint64
}

// Filter selects index records. Empty fields do not constrain the result.
type Filter struct {
	Terms      []string
	Owner      *Owner
	Collection string
	Fields     []string
}

// Matches reports whether rec satisfies every non-empty constraint of f.
func (f Filter) Matches(rec IndexRecord) bool {
	if f.Owner != nil && rec.Owner != *f.Owner {
		return false
	}
	if f.Collection != "" && rec.Owner.Collection != f.Collection {
		return false
	}
	if len(f.Terms) > 0 && !contains(f.Terms, rec.Term) {
		return false
	}
	if len(f.Fields) > 0 && !contains(f.Fields, rec.Field) {
		return false
	}
	return true
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Reader is the read half of the store, available both inside and outside a
// transaction.
type Reader interface {
	// GetCounter returns ErrNotFound when no row exists for term.
	GetCounter(ctx context.Context, term string) (Counter, error)
	// GetCounters omits absent terms from the result.
	GetCounters(ctx context.Context, terms []string) (map[string]Counter, error)
	// FindRecords returns matching records in creation order.
	FindRecords(ctx context.Context, f Filter) ([]IndexRecord, error)
	// Terms lists every term with a counter row or an index record, sorted.
	Terms(ctx context.Context) ([]string, error)
}

// Tx is a unit of work. Writes become visible to other readers only when the
// enclosing RunInTx returns nil.
type Tx interface {
	Reader
	CreateRecord(ctx context.Context, rec IndexRecord) error
	// DeleteRecord removes the record with rec's (term, field, owner) and
	// returns ErrNotFound if there is none.
	DeleteRecord(ctx context.Context, rec IndexRecord) error
	PutCounter(ctx context.Context, term string, count uint64) error
	DeleteCounter(ctx context.Context, term string) error
	// AddCounter adds delta to term's count, creating the row if needed, and
	// returns the new count.
	AddCounter(ctx context.Context, term string, delta uint64) (uint64, error)
}

// Store is implemented by every backend.
type Store interface {
	Reader
	// RunInTx runs fn in a transaction, committing when it returns nil. The
	// ctx passed to fn reports true from InTransaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

type txKey struct{}

// WithTransaction marks ctx as running inside a transaction. Backends call
// it for their own transactions; hosts call it when they index records from
// inside a transaction of their own, so indexing is deferred until after
// commit.
func WithTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, true)
}

// InTransaction reports whether ctx was marked by WithTransaction.
func InTransaction(ctx context.Context) bool {
	in, _ := ctx.Value(txKey{}).(bool)
	return in
}

// TruncateTerm cuts term to at most MaxTermLength bytes without splitting a
// UTF-8 sequence.
func TruncateTerm(term string) string {
	if len(term) <= MaxTermLength {
		return term
	}
	cut := MaxTermLength
	for cut > 0 && !utf8.RuneStart(term[cut]) {
		cut--
	}
	return term[:cut]
}
