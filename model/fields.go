package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ListSeparator joins multi-valued fields at the serialization boundary.
const ListSeparator = ", "

// Fields is an insertion-ordered multimap of normalized metadata keys to values.
// A key observed more than once accumulates its values in order; nothing is
// flattened until the record is serialized.
type Fields struct {
	keys   []string
	values map[string][]string
}

// Add appends value under key, keeping the key's first-seen position.
func (f *Fields) Add(key, value string) {
	if f.values == nil {
		f.values = make(map[string][]string)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = append(f.values[key], value)
}

// Set replaces every value stored under key.
func (f *Fields) Set(key string, values ...string) {
	if f.values == nil {
		f.values = make(map[string][]string)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = append([]string(nil), values...)
}

// Get returns the values stored under key.
func (f *Fields) Get(key string) ([]string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns keys in first-seen order.
func (f *Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Len returns the number of distinct keys.
func (f *Fields) Len() int {
	return len(f.keys)
}

// Flatten joins the values of key with ListSeparator.
func (f *Fields) Flatten(key string) string {
	return strings.Join(f.values[key], ListSeparator)
}

// Clone returns a deep copy.
func (f *Fields) Clone() Fields {
	out := Fields{}
	for _, k := range f.keys {
		out.Set(k, f.values[k]...)
	}
	return out
}

// NormalizeLabel turns a metadata-table label such as "Fecha de publicación:"
// into a column key ("fecha.de.publicación"). Colons are dropped, runs of
// whitespace become dots and the result is NFC-normalized and lowercased.
func NormalizeLabel(label string) string {
	s := norm.NFC.String(label)
	s = strings.ReplaceAll(s, ":", "")
	s = strings.Join(strings.Fields(s), ".")
	return cases.Lower(language.Und).String(s)
}

// TruncateRunes cuts s to at most n characters (not bytes).
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
