package object

import "strings"

// Op is a filter comparison operator.
type Op int

const (
	// OpEqual matches values that are deeply equal.
	OpEqual Op = iota
	// OpNotEqual matches values that are not deeply equal.
	OpNotEqual
	// OpEqualFold matches strings case-insensitively.
	OpEqualFold
	// OpIn matches any of a list of values.
	OpIn
	// OpContains matches array fields containing the value.
	OpContains
)

// Clause is a single field comparison. Field may be a dotted path into
// nested maps.
type Clause struct {
	Field  string
	Op     Op
	Value  any
	Values []any // OpIn only
}

// Filter selects objects in storage. All Clauses must match; when Or is
// non-empty, at least one branch must match as well.
type Filter struct {
	Clauses []Clause
	Or      []Filter
}

// ByID builds a filter matching a single object id.
func ByID(id string) Filter {
	return Filter{}.Eq("objectId", id)
}

// AnyOf builds a disjunction of filters.
func AnyOf(branches ...Filter) Filter {
	return Filter{Or: branches}
}

// Eq appends an equality clause.
func (f Filter) Eq(field string, v any) Filter {
	f.Clauses = append(f.Clauses, Clause{Field: field, Op: OpEqual, Value: v})
	return f
}

// Ne appends an inequality clause.
func (f Filter) Ne(field string, v any) Filter {
	f.Clauses = append(f.Clauses, Clause{Field: field, Op: OpNotEqual, Value: v})
	return f
}

// EqFold appends a case-insensitive string equality clause.
func (f Filter) EqFold(field string, v string) Filter {
	f.Clauses = append(f.Clauses, Clause{Field: field, Op: OpEqualFold, Value: v})
	return f
}

// In appends a membership clause.
func (f Filter) In(field string, values ...any) Filter {
	f.Clauses = append(f.Clauses, Clause{Field: field, Op: OpIn, Values: values})
	return f
}

// Contains appends a clause matching array fields containing v.
func (f Filter) Contains(field string, v any) Filter {
	f.Clauses = append(f.Clauses, Clause{Field: field, Op: OpContains, Value: v})
	return f
}

// IsEmpty reports whether the filter has no constraints at all.
func (f Filter) IsEmpty() bool {
	return len(f.Clauses) == 0 && len(f.Or) == 0
}

// ID returns the object id pinned by an objectId equality clause, if any.
func (f Filter) ID() (string, bool) {
	for _, c := range f.Clauses {
		if c.Field == "objectId" && c.Op == OpEqual {
			id, ok := c.Value.(string)
			return id, ok
		}
	}
	return "", false
}

// Matches evaluates the filter against an object. This is the reference
// semantics; SQL adapters must agree with it.
func (f Filter) Matches(obj Map) bool {
	for _, c := range f.Clauses {
		if !c.matches(obj) {
			return false
		}
	}
	if len(f.Or) > 0 {
		for _, branch := range f.Or {
			if branch.Matches(obj) {
				return true
			}
		}
		return false
	}
	return true
}

func (c Clause) matches(obj Map) bool {
	got, present := Get(obj, c.Field)
	switch c.Op {
	case OpEqual:
		return present && Equal(got, c.Value)
	case OpNotEqual:
		return !present || !Equal(got, c.Value)
	case OpEqualFold:
		want, _ := c.Value.(string)
		s, ok := got.(string)
		return present && ok && strings.EqualFold(s, want)
	case OpIn:
		if !present {
			return false
		}
		for _, v := range c.Values {
			if Equal(got, v) {
				return true
			}
		}
	case OpContains:
		arr, ok := got.([]any)
		if !present || !ok {
			return false
		}
		for _, v := range arr {
			if Equal(v, c.Value) {
				return true
			}
		}
	}
	return false
}
