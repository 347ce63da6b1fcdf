package selection

import "slices"

// nameSet is a sorted set of names. Published sets are shared between
// snapshots, so with and without always return a fresh slice.
type nameSet []string

func (s nameSet) has(name string) bool {
	_, found := slices.BinarySearch(s, name)
	return found
}

func (s nameSet) with(name string) nameSet {
	i, found := slices.BinarySearch(s, name)
	if found {
		return s
	}
	out := make(nameSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, name)
	return append(out, s[i:]...)
}

func (s nameSet) without(name string) nameSet {
	i, found := slices.BinarySearch(s, name)
	if !found {
		return s
	}
	out := make(nameSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func (s nameSet) list() []string {
	return slices.Clone([]string(s))
}

func newNameSet(names ...string) nameSet {
	var s nameSet
	for _, n := range names {
		s = s.with(n)
	}
	return s
}
