package query

import (
	"net/http"
	"strconv"
)

// Pagination counters of a list response.
type Pagination struct {
	TotalCount  int64 `json:"total_count"`
	PageCount   int64 `json:"page_count"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	ZeroBased   bool  `json:"-"`
}

// NewPagination computes counters for total matches of a normalized spec.
func NewPagination(total int64, s Spec) *Pagination {
	limit := 0
	if s.Limit != nil {
		limit = *s.Limit
	}
	pages := int64(1)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	page := s.Page
	if page < 1 {
		page = 1
	}
	return &Pagination{TotalCount: total, PageCount: pages, CurrentPage: page, PerPage: limit, ZeroBased: s.ZeroBased}
}

// Headers renders the X-Pagination-* response headers.
func (p *Pagination) Headers() http.Header {
	h := http.Header{}
	current := p.CurrentPage
	if p.ZeroBased {
		current--
	}
	perPage := "all"
	if p.PerPage > 0 {
		perPage = strconv.Itoa(p.PerPage)
	}
	h.Set("X-Pagination-Total-Count", strconv.FormatInt(p.TotalCount, 10))
	h.Set("X-Pagination-Page-Count", strconv.FormatInt(p.PageCount, 10))
	h.Set("X-Pagination-Current-Page", strconv.Itoa(current))
	h.Set("X-Pagination-Per-Page", perPage)
	return h
}
