package common

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPaginationParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  PaginationParams
	}{
		{"defaults", "", PaginationParams{Page: 1, PageSize: 50, Order: "asc"}},
		{"explicit", "?page=3&page_size=10&order=desc", PaginationParams{Page: 3, PageSize: 10, Order: "desc"}},
		{"clamped size", "?page_size=5000", PaginationParams{Page: 1, PageSize: maxPageSize, Order: "asc"}},
		{"garbage ignored", "?page=-2&page_size=x&order=sideways", PaginationParams{Page: 1, PageSize: 50, Order: "asc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/messages"+tt.query, nil)
			assert.Equal(t, tt.want, ExtractPaginationParams(r))
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page := Paginate(items, PaginationParams{Page: 2, PageSize: 2, Order: "asc"})
	assert.Equal(t, []int{3, 4}, page.Items)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNext)
	assert.True(t, page.Pagination.HasPrev)

	desc := Paginate(items, PaginationParams{Page: 1, PageSize: 2, Order: "desc"})
	assert.Equal(t, []int{5, 4}, desc.Items)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)

	past := Paginate(items, PaginationParams{Page: 9, PageSize: 2, Order: "asc"})
	assert.Empty(t, past.Items)
	assert.False(t, past.Pagination.HasNext)
}

func TestContextHelpers(t *testing.T) {
	ctx := EnrichContext(context.Background(), "req-1", "ana")

	id, ok := GetRequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	p, ok := GetParticipantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ana", p)

	_, ok = GetParticipantID(EnrichContext(context.Background(), "req-2", ""))
	assert.False(t, ok)
}
