package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads the "limit" and "offset" query parameters. Missing,
// invalid or non-positive values fall back to the defaults; limit is capped
// at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()

	limit = defaultPageLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxPageLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

// paginate returns the page of items selected by the request's query and
// the matching PaginationMeta. The page is never nil, so it encodes as a
// JSON array.
func paginate[T any](r *http.Request, items []T) ([]T, PaginationMeta) {
	limit, offset := parsePagination(r)
	total := len(items)

	start := min(offset, total)
	end := min(start+limit, total)

	page := make([]T, end-start)
	copy(page, items[start:end])
	return page, PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < total,
	}
}
