package shared

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	// maxPage keeps (page-1)*limit inside int for every accepted limit.
	maxPage = math.MaxInt / maxPageLimit
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	TotalCount  int `json:"totalCount"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	Limit       int `json:"limit"`
}

// PageRequest is the page/limit pair read from a query string.
type PageRequest struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePageRequest reads page and limit, clamping limit to sane bounds. A
// page too large to turn into a row offset is a validation error.
func ParsePageRequest(q url.Values) (PageRequest, error) {
	// Atoi saturates on overflow, so huge inputs land here too.
	page, _ := strconv.Atoi(q.Get("page"))
	if page > maxPage {
		return PageRequest{}, fmt.Errorf("%w: page must be at most %d", ErrValidation, maxPage)
	}
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return PageRequest{Page: page, Limit: limit}, nil
}

// NewPagination computes pagination metadata.
func NewPagination(req PageRequest, total int) Pagination {
	if req.Limit <= 0 {
		req.Limit = defaultPageLimit
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(req.Limit)))
	return Pagination{TotalCount: total, TotalPages: totalPages, CurrentPage: req.Page, Limit: req.Limit}
}
