// Package extract pulls indexable text out of caller records. A Registry
// maps record kinds to extraction strategies; the built-in strategies cover
// key/value maps, Model implementations and plain structs.
package extract

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// Built-in kind tags.
const (
	KindDict   = "dict"
	KindModel  = "model"
	KindValues = "values"
)

// ExtractFunc returns the values of field on rec. Values may be of any type;
// they are converted to text by Texts.
type ExtractFunc func(field string, rec any) ([]any, error)

// Identifiable records know their own owner identity.
type Identifiable interface {
	Owner() store.Owner
}

// Kinded records name the strategy used to extract them.
type Kinded interface {
	Kind() string
}

// Valuer records hand out their field values directly.
type Valuer interface {
	FieldValues(field string) ([]string, error)
}

// Searchable records declare the fields they want indexed.
type Searchable interface {
	SearchFields() []string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ExtractFunc
}

// NewRegistry returns a registry with the dict, model and values
// strategies.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]ExtractFunc)}
	r.Register(KindDict, dictValues)
	r.Register(KindModel, modelValues)
	r.Register(KindValues, valuerValues)
	return r
}

// Register installs fn for kind, replacing any previous strategy.
func (r *Registry) Register(kind string, fn ExtractFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = fn
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KindOf resolves the strategy name for rec.
func KindOf(rec any) (string, error) {
	switch v := rec.(type) {
	case Kinded:
		return v.Kind(), nil
	case Valuer:
		return KindValues, nil
	case map[string]any:
		return KindDict, nil
	case Model:
		return KindModel, nil
	}
	if isStruct(reflect.ValueOf(rec)) {
		return KindModel, nil
	}
	return "", apperrors.Configf("record type %T has no extraction strategy", rec)
}

// Values returns the raw values of field on rec.
func (r *Registry) Values(field string, rec any) ([]any, error) {
	kind, err := KindOf(rec)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	fn, ok := r.funcs[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Configf("no extraction strategy registered for kind %q", kind)
	}
	return fn(field, rec)
}

// Texts returns the values of field on rec as text, skipping nils.
func (r *Registry) Texts(field string, rec any) ([]string, error) {
	values, err := r.Values(field, rec)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := toText(v); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func dictValues(field string, rec any) ([]any, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, apperrors.Configf("dict strategy cannot read %T", rec)
	}
	v, ok := m[field]
	if !ok || v == nil {
		return nil, nil
	}
	if items, ok := iterable(reflect.ValueOf(v)); ok {
		return items, nil
	}
	return []any{v}, nil
}

func valuerValues(field string, rec any) ([]any, error) {
	v, ok := rec.(Valuer)
	if !ok {
		return nil, apperrors.Configf("values strategy cannot read %T", rec)
	}
	texts, err := v.FieldValues(field)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(texts))
	for i, t := range texts {
		out[i] = t
	}
	return out, nil
}

// iterable expands slices and arrays other than byte slices.
func iterable(v reflect.Value) ([]any, bool) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		return toText(rv.Elem().Interface())
	}
	return fmt.Sprint(v), true
}

// splitPath accepts both "author__name" and "author.name".
func splitPath(field string) []string {
	return strings.FieldsFunc(strings.ReplaceAll(field, "__", "."), func(r rune) bool { return r == '.' })
}
