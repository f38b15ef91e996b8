package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", defaultPageLimit, 0},
		{"custom limit", "limit=50", 50, 0},
		{"custom offset", "offset=10", defaultPageLimit, 10},
		{"both", "limit=25&offset=5", 25, 5},
		{"limit exceeds max", "limit=5000", maxPageLimit, 0},
		{"negative limit uses default", "limit=-1", defaultPageLimit, 0},
		{"negative offset uses zero", "offset=-5", defaultPageLimit, 0},
		{"non-numeric limit", "limit=abc", defaultPageLimit, 0},
		{"zero limit uses default", "limit=0", defaultPageLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/sessions"
			if tt.query != "" {
				url += "?" + tt.query
			}
			limit, offset := parsePagination(httptest.NewRequest("GET", url, nil))
			assert.Equal(t, tt.wantLimit, limit, "limit")
			assert.Equal(t, tt.wantOffset, offset, "offset")
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name     string
		query    string
		want     []string
		wantMore bool
	}{
		{"all", "", []string{"a", "b", "c", "d", "e"}, false},
		{"first page", "limit=2", []string{"a", "b"}, true},
		{"middle page", "limit=2&offset=2", []string{"c", "d"}, true},
		{"last page", "limit=2&offset=4", []string{"e"}, false},
		{"past the end", "offset=10", []string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, meta := paginate(httptest.NewRequest("GET", "/x?"+tt.query, nil), items)
			assert.Equal(t, tt.want, page)
			assert.Equal(t, 5, meta.TotalCount)
			assert.Equal(t, tt.wantMore, meta.HasMore)
		})
	}

	page, meta := paginate[string](httptest.NewRequest("GET", "/x", nil), nil)
	assert.NotNil(t, page)
	assert.Empty(t, page)
	assert.Zero(t, meta.TotalCount)
}
