package types

import (
	"fmt"
	"strings"
)

// Operator is a filter operator in the host ORM's generic request shape.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpIn        Operator = "in"
	OpNin       Operator = "nin"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpContains  Operator = "contains"  // case-insensitive substring / array membership
	OpNContains Operator = "ncontains" //
	OpContainsS Operator = "containss" // case-sensitive substring
	OpNull      Operator = "null"      // value true: is null; false: is not null
	OpOr        Operator = "or"        // value is [][]WhereClause
)

// WhereClause is one filter clause. For OpOr, Field is empty and Value holds
// nested clause groups ([][]WhereClause) combined as OR-of-ANDs.
type WhereClause struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// SortClause is one sort clause.
type SortClause struct {
	Field      string
	Descending bool
}

// ParseSort parses the host's "field:asc,other:desc" shorthand.
func ParseSort(spec string) ([]SortClause, error) {
	if spec == "" {
		return nil, nil
	}
	var out []SortClause
	for _, part := range strings.Split(spec, ",") {
		field, order := part, "asc"
		if i := strings.IndexByte(part, ':'); i >= 0 {
			field, order = part[:i], part[i+1:]
		}
		switch order {
		case "asc", "ASC":
			out = append(out, SortClause{Field: field})
		case "desc", "DESC":
			out = append(out, SortClause{Field: field, Descending: true})
		default:
			return nil, fmt.Errorf("invalid sort order %q in %q", order, part)
		}
	}
	return out, nil
}

// Params is the generic filter/sort/pagination request consumed from the
// host ORM.
type Params struct {
	Sort  []SortClause
	Start *int
	Limit *int
	Where []WhereClause
	// Search carries a full-text search term; only honored by operations
	// that enable it.
	Search string
}
