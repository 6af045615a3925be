package extract

import (
	"reflect"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// Model exposes named attributes. Field paths such as "author__name" walk
// through Models one attribute at a time.
type Model interface {
	Attr(name string) (any, error)
}

// Related is a set of records reachable from a Model, such as the
// reverse side of a foreign key.
type Related interface {
	Members() []Model
}

// Attrs is a map-backed Model. Missing attributes read as nil.
type Attrs map[string]any

func (a Attrs) Attr(name string) (any, error) {
	return a[name], nil
}

// RelatedSet is a literal Related.
type RelatedSet []Model

func (r RelatedSet) Members() []Model {
	return r
}

// modelValues walks field through rec. A related set may only appear as the
// second-to-last segment and an iterable only as the last; a nil anywhere on
// the way yields no values.
func modelValues(field string, rec any) ([]any, error) {
	lookups := splitPath(field)
	if len(lookups) == 0 {
		return nil, apperrors.Configf("empty field path")
	}
	last := len(lookups) - 1

	value := rec
	for i, lookup := range lookups {
		if isNil(value) {
			return nil, nil
		}
		m, ok := asModel(value)
		if !ok {
			return nil, apperrors.Configf("cannot read %q of %T in field %q", lookup, value, field)
		}
		next, err := m.Attr(lookup)
		if err != nil {
			return nil, err
		}
		value = next

		if rel, ok := value.(Related); ok {
			if i != last-1 {
				return nil, apperrors.Configf("field %q: only one level of related records can be indexed", field)
			}
			return relatedValues(rel, lookups[last])
		}
		if items, ok := iterable(reflect.ValueOf(value)); ok {
			if i != last {
				return nil, apperrors.Configf("field %q: only one level of iterable can be indexed", field)
			}
			return items, nil
		}
	}
	if isNil(value) {
		return nil, nil
	}
	return []any{value}, nil
}

func relatedValues(rel Related, attr string) ([]any, error) {
	members := rel.Members()
	out := make([]any, 0, len(members))
	for _, m := range members {
		if m == nil {
			continue
		}
		v, err := m.Attr(attr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func asModel(v any) (Model, bool) {
	switch t := v.(type) {
	case Model:
		return t, true
	case map[string]any:
		return Attrs(t), true
	}
	rv := reflect.ValueOf(v)
	if !isStruct(rv) {
		return nil, false
	}
	return structModel{v: reflect.Indirect(rv)}, true
}

func isStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	return v.Kind() == reflect.Struct
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// structModel reads exported struct fields. A field matches an attribute by
// its `search` tag, or by name ignoring case and underscores. Slices of
// structs are treated as related sets.
type structModel struct {
	v reflect.Value
}

func (s structModel) Attr(name string) (any, error) {
	t := s.v.Type()
	want := strings.ReplaceAll(name, "_", "")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("search")
		if tag == name || (tag == "" && strings.EqualFold(f.Name, want)) {
			return wrapRelated(s.v.Field(i)), nil
		}
	}
	return nil, apperrors.Configf("%s has no attribute %q", t, name)
}

func wrapRelated(v reflect.Value) any {
	if v.Kind() == reflect.Slice && !v.IsNil() {
		elem := v.Type().Elem()
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() == reflect.Struct {
			set := make(RelatedSet, 0, v.Len())
			for i := 0; i < v.Len(); i++ {
				item := v.Index(i)
				if item.Kind() == reflect.Pointer {
					if item.IsNil() {
						continue
					}
					item = item.Elem()
				}
				set = append(set, structModel{v: item})
			}
			return set
		}
	}
	return v.Interface()
}
