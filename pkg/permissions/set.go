package permissions

import "sort"

// Key identifies one grantable capability in the catalog
type Key string

// Set is an unordered set of permission keys
type Set map[Key]struct{}

// NewSet builds a set from the given keys
func NewSet(keys ...Key) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is in the set
func (s Set) Has(key Key) bool {
	_, ok := s[key]
	return ok
}

// Add inserts keys into the set
func (s Set) Add(keys ...Key) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Union returns a new set holding the keys of both sets
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Clone returns a copy of the set
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold exactly the same keys
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in lexical order
func (s Set) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Strings returns the keys as sorted strings, for JSON responses and logs
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, k := range sorted {
		out[i] = string(k)
	}
	return out
}

// KeysFromStrings converts raw strings (request bodies, stored JSON) into keys
func KeysFromStrings(values []string) []Key {
	keys := make([]Key, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		keys = append(keys, Key(v))
	}
	return keys
}
