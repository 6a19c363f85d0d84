package transform

import (
	"strings"
)

// ColumnResolver indexes dataset columns for exact, case-insensitive and
// substring lookup, in that priority order. Built once per dataset.
type ColumnResolver struct {
	columns []string
	exact   map[string]int
	folded  map[string]int
}

// NewColumnResolver builds a resolver over the given column names.
func NewColumnResolver(columns []string) *ColumnResolver {
	r := &ColumnResolver{
		columns: columns,
		exact:   make(map[string]int, len(columns)),
		folded:  make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, ok := r.exact[c]; !ok {
			r.exact[c] = i
		}
		key := foldName(c)
		if _, ok := r.folded[key]; !ok {
			r.folded[key] = i
		}
	}
	return r
}

// Resolve finds a column by name, trying exact match, then
// case-insensitive match, then substring match. Returns false when no
// strategy matches.
func (r *ColumnResolver) Resolve(name string) (int, bool) {
	if idx, ok := r.exact[name]; ok {
		return idx, true
	}
	if idx, ok := r.folded[foldName(name)]; ok {
		return idx, true
	}
	needle := foldName(name)
	for i, c := range r.columns {
		if strings.Contains(foldName(c), needle) {
			return i, true
		}
	}
	return -1, false
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// canonicalName case-folds, trims and underscores a raw header.
func canonicalName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
