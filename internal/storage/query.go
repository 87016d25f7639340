package storage

import (
	"errors"
	"fmt"
	"regexp"
)

// Query limits
const maxOrders = 2

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrInvalidQuery is returned for queries the remote store cannot express
var ErrInvalidQuery = errors.New("invalid query")

// Filter is an equality filter on one column
type Filter struct {
	Column string
	Value  any
}

// Order is one sort key
type Order struct {
	Column     string
	Descending bool
}

// Query is a row selection against one table: selected columns, at most one
// equality filter, up to two sort keys and an optional row limit.
type Query struct {
	Table   string
	Columns []string
	Filter  *Filter
	Orders  []Order
	Limit   int
}

// From starts a query on a table
func From(table string, columns ...string) Query {
	return Query{Table: table, Columns: columns}
}

// Eq sets the equality filter
func (q Query) Eq(column string, value any) Query {
	q.Filter = &Filter{Column: column, Value: value}
	return q
}

// OrderBy appends a sort key
func (q Query) OrderBy(column string, descending bool) Query {
	orders := make([]Order, len(q.Orders), len(q.Orders)+1)
	copy(orders, q.Orders)
	q.Orders = append(orders, Order{Column: column, Descending: descending})
	return q
}

// WithLimit sets the row limit; zero means unlimited
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Validate checks identifiers and query shape
func (q Query) Validate() error {
	if !identPattern.MatchString(q.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidQuery, q.Table)
	}
	if len(q.Columns) == 0 {
		return fmt.Errorf("%w: no columns selected", ErrInvalidQuery)
	}
	for _, c := range q.Columns {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("%w: column %q", ErrInvalidQuery, c)
		}
	}
	if q.Filter != nil && !identPattern.MatchString(q.Filter.Column) {
		return fmt.Errorf("%w: filter column %q", ErrInvalidQuery, q.Filter.Column)
	}
	if len(q.Orders) > maxOrders {
		return fmt.Errorf("%w: %d sort keys, at most %d", ErrInvalidQuery, len(q.Orders), maxOrders)
	}
	for _, o := range q.Orders {
		if !identPattern.MatchString(o.Column) {
			return fmt.Errorf("%w: order column %q", ErrInvalidQuery, o.Column)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

func validFunction(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: function %q", ErrInvalidQuery, name)
	}
	return nil
}
