package common

import (
	"net/http"
	"strconv"
)

const maxPageSize = 200

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Page     int    `json:"page" validate:"min=1"`
	PageSize int    `json:"page_size" validate:"min=1,max=200"`
	Order    string `json:"order,omitempty" validate:"omitempty,oneof=asc desc"`
}

// DefaultPaginationParams returns default pagination parameters. Message
// history reads oldest first by default.
func DefaultPaginationParams() PaginationParams {
	return PaginationParams{
		Page:     1,
		PageSize: 50,
		Order:    "asc",
	}
}

// ExtractPaginationParams extracts pagination parameters from request
func ExtractPaginationParams(r *http.Request) PaginationParams {
	params := DefaultPaginationParams()
	q := r.URL.Query()

	if page := q.Get("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			params.Page = p
		}
	}
	if pageSize := q.Get("page_size"); pageSize != "" {
		if ps, err := strconv.Atoi(pageSize); err == nil && ps > 0 {
			params.PageSize = min(ps, maxPageSize)
		}
	}
	if order := q.Get("order"); order == "asc" || order == "desc" {
		params.Order = order
	}
	return params
}

// CalculateOffset calculates the offset of the first item on the page
func (p PaginationParams) CalculateOffset() int {
	return (p.Page - 1) * p.PageSize
}

// CalculateTotalPages calculates total number of pages
func CalculateTotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize > 0 {
		pages++
	}
	return pages
}

// BuildPaginationMeta builds pagination metadata
func BuildPaginationMeta(page, pageSize, total int) *PaginationInfo {
	totalPages := CalculateTotalPages(total, pageSize)

	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// PaginatedResult represents a paginated result
type PaginatedResult[T any] struct {
	Items      []T             `json:"items"`
	Pagination *PaginationInfo `json:"pagination"`
}

// Paginate returns one page of items, reversed first when the order is desc.
func Paginate[T any](items []T, p PaginationParams) PaginatedResult[T] {
	ordered := items
	if p.Order == "desc" {
		ordered = make([]T, len(items))
		for i, item := range items {
			ordered[len(items)-1-i] = item
		}
	}

	start := min(p.CalculateOffset(), len(ordered))
	end := min(start+p.PageSize, len(ordered))
	page := make([]T, end-start)
	copy(page, ordered[start:end])

	return PaginatedResult[T]{
		Items:      page,
		Pagination: BuildPaginationMeta(p.Page, p.PageSize, len(items)),
	}
}
