package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Params selects one page of a listing. Page is 1-based.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Meta describes the page returned alongside list responses.
type Meta struct {
	CurrentPage  int  `json:"current_page"`
	PageSize     int  `json:"page_size"`
	TotalPages   int  `json:"total_pages"`
	TotalRecords int  `json:"total_records"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

// New returns normalized params.
func New(page, pageSize int) Params {
	p := Params{Page: page, PageSize: pageSize}
	p.Normalize()
	return p
}

// ParseParams reads page and page_size (or limit) from the query string.
func ParseParams(r *http.Request) Params {
	q := r.URL.Query()
	p := Params{Page: DefaultPage, PageSize: DefaultPageSize}

	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		p.Page = v
	}
	size := q.Get("page_size")
	if size == "" {
		size = q.Get("limit")
	}
	if v, err := strconv.Atoi(size); err == nil {
		p.PageSize = v
	}

	p.Normalize()
	return p
}

// Normalize clamps the params into the accepted range.
func (p *Params) Normalize() {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
}

// Offset is the SQL OFFSET for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Meta builds the response metadata for totalRecords matching rows.
func (p Params) Meta(totalRecords int) Meta {
	totalPages := (totalRecords + p.PageSize - 1) / p.PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return Meta{
		CurrentPage:  p.Page,
		PageSize:     p.PageSize,
		TotalPages:   totalPages,
		TotalRecords: totalRecords,
		HasNext:      p.Page < totalPages,
		HasPrevious:  p.Page > 1,
	}
}
