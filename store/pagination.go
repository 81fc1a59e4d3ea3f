package store

import (
	"math"
	"strings"

	"github.com/hrygo/polystore/internal/storeerr"
)

// PerPageUnbounded requests every matching row in a single page.
const PerPageUnbounded = -1

// DefaultPerPage is used when PerPage is zero.
const DefaultPerPage = 100

// Direction is a sort direction.
type Direction string

const (
	DirectionAsc  Direction = "ASC"
	DirectionDesc Direction = "DESC"
)

// OrderBy selects the sort field of a list call.
type OrderBy struct {
	Field     string
	Direction Direction
}

// PageRequest is the pagination input shared by every list method.
type PageRequest struct {
	// Page is zero-based.
	Page int
	// PerPage is a positive size, PerPageUnbounded, or zero for DefaultPerPage.
	PerPage int
	OrderBy OrderBy
}

// Page is the pagination output shared by every list method.
type Page[T any] struct {
	Items   []T
	Total   int64
	Page    int
	PerPage int
	HasMore bool
}

// normalize validates the request and resolves defaults. allowed lists the
// sortable fields; the first entry and dir are used when none is given.
func (r PageRequest) normalize(op string, allowed []string, dir Direction) (PageRequest, error) {
	if r.Page < 0 {
		return r, storeerr.Userf(op, "page must be a non-negative integer, got %d", r.Page).With("page", r.Page)
	}
	switch {
	case r.PerPage == 0:
		r.PerPage = DefaultPerPage
	case r.PerPage < 0 && r.PerPage != PerPageUnbounded:
		return r, storeerr.Userf(op, "perPage must be positive or unbounded, got %d", r.PerPage).With("perPage", r.PerPage)
	}
	// The end of the page must stay representable.
	if r.PerPage > 0 && r.Page > (math.MaxInt-r.PerPage)/r.PerPage {
		return r, storeerr.Userf(op, "page %d is out of range for perPage %d", r.Page, r.PerPage).
			With("page", r.Page).With("perPage", r.PerPage)
	}
	if r.OrderBy.Field == "" {
		r.OrderBy.Field = allowed[0]
	}
	valid := false
	for _, f := range allowed {
		if f == r.OrderBy.Field {
			valid = true
			break
		}
	}
	if !valid {
		return r, storeerr.Userf(op, "cannot order by %q; expected one of %s", r.OrderBy.Field, strings.Join(allowed, ", ")).
			With("orderBy", r.OrderBy.Field)
	}
	switch Direction(strings.ToUpper(string(r.OrderBy.Direction))) {
	case "":
		r.OrderBy.Direction = dir
	case DirectionAsc:
		r.OrderBy.Direction = DirectionAsc
	case DirectionDesc:
		r.OrderBy.Direction = DirectionDesc
	default:
		return r, storeerr.Userf(op, "invalid sort direction %q", r.OrderBy.Direction).With("direction", string(r.OrderBy.Direction))
	}
	return r, nil
}

// unbounded reports whether the request returns every row.
func (r PageRequest) unbounded() bool {
	return r.PerPage == PerPageUnbounded
}

// limitOffset returns the query window. Unbounded requests ignore the page.
func (r PageRequest) limitOffset() (int, int) {
	if r.unbounded() {
		return 0, 0
	}
	return r.PerPage, r.Page * r.PerPage
}

// orders returns the ORDER BY terms with id ascending as the tie breaker.
func (r PageRequest) orders() []Order {
	orders := []Order{{Field: r.OrderBy.Field, Desc: r.OrderBy.Direction == DirectionDesc}}
	if r.OrderBy.Field != "id" {
		orders = append(orders, Order{Field: "id"})
	}
	return orders
}

func newPage[T any](items []T, total int64, r PageRequest) *Page[T] {
	if items == nil {
		items = []T{}
	}
	hasMore := false
	if !r.unbounded() {
		hasMore = int64((r.Page+1)*r.PerPage) < total
	}
	return &Page[T]{
		Items:   items,
		Total:   total,
		Page:    r.Page,
		PerPage: r.PerPage,
		HasMore: hasMore,
	}
}
