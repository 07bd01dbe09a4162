// Package query turns raw request parameters into a normalized query
// specification for the CRUD service.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Spec describes a read. Zero values mean "not set" unless noted.
type Spec struct {
	Conditions domain.Conditions
	// Fields is a projection; "-name" excludes.
	Fields []string
	Sort   []docstore.SortField
	Page   int
	// Limit is nil when the caller did not choose one. A zero limit means
	// unlimited.
	Limit *int
	Skip  int
	// Populate lists reference fields replaced by the referenced record.
	Populate []string
	// Hydrate returns live entities instead of plain documents.
	Hydrate           bool
	PaginationHeaders bool
	ZeroBased         bool
	// Filter is the free-text search term.
	Filter string
	// Query holds the raw parameters consulted for filter fields.
	Query url.Values
	// Single marks lookups of one record, which use the single-record
	// field and populate defaults.
	Single bool
	// WithInactive disables the default soft-delete exclusion.
	WithInactive bool
}

// IntPtr is a convenience for Spec.Limit.
func IntPtr(n int) *int { return &n }

// falsy values of non-pagination keys are treated as absent.
func falsy(v string) bool {
	return v == "" || v == "0" || v == "false"
}

// Parse reads the recognized parameters. Unrecognized keys stay available
// in Spec.Query for filter fields.
func Parse(values url.Values) Spec {
	s := Spec{Query: values}

	if v := values.Get("filter"); !falsy(v) {
		s.Filter = v
	}
	if v := values.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.Limit = &n
		}
	}
	if v := values.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Page = n
		}
	}
	if by := values.Get("sort_by"); !falsy(by) {
		s.Sort = parseSort(by, values.Get("sort_type"))
	}
	if v := values.Get("fields"); !falsy(v) {
		s.Fields = splitList(v)
	}
	if v := values.Get("populate"); !falsy(v) {
		s.Populate = splitList(v)
	}
	s.PaginationHeaders = !falsy(values.Get("pagination_headers"))
	s.ZeroBased = !falsy(values.Get("zero_based_pagination"))
	s.Hydrate = values.Get("lean") == "false"
	return s
}

// parseSort aligns the comma-separated sort_by and sort_type lists.
// A "-name" entry or a type of -1/desc sorts descending.
func parseSort(by, types string) []docstore.SortField {
	keys := strings.Split(by, ",")
	dirs := strings.Split(types, ",")
	out := make([]docstore.SortField, 0, len(keys))
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		f := docstore.SortField{Key: k}
		if strings.HasPrefix(k, "-") {
			f = docstore.SortField{Key: k[1:], Desc: true}
		}
		if i < len(dirs) {
			switch strings.ToLower(strings.TrimSpace(dirs[i])) {
			case "-1", "desc", "descending":
				f.Desc = true
			case "1", "asc", "ascending":
				f.Desc = false
			}
		}
		out = append(out, f)
	}
	return out
}

// ParseSortString reads "-a b" or "-a,b" style declarations.
func ParseSortString(decl string) []docstore.SortField {
	var out []docstore.SortField
	for _, k := range splitList(decl) {
		if strings.HasPrefix(k, "-") {
			out = append(out, docstore.SortField{Key: k[1:], Desc: true})
			continue
		}
		out = append(out, docstore.SortField{Key: k})
	}
	return out
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
}

// SplitList splits comma or space separated declarations.
func SplitList(v string) []string { return splitList(v) }
