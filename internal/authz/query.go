package authz

// AspectQuery is one compiled boolean condition.
//
// This is a sealed interface - only types in this package implement it.
// The emitter and the evaluator switch over the concrete types exhaustively;
// a new variant must be added to both.
//
// Variants:
//   - ExistsQuery: aspect holds a non-null value at Path
//   - ArrayNotEmptyQuery: value at Path is a non-empty array
//   - ValueInArrayQuery: array at Path contains Value
//   - WithValueQuery: value at Path compares to Value with Operator
//   - TrueQuery / FalseQuery: unconditional outcomes
type AspectQuery interface {
	aspectQuery()
}

// AspectTarget addresses a location inside one aspect of the current row.
// An empty Path addresses the aspect document itself.
type AspectTarget struct {
	AspectID string
	Path     []string
	Negated  bool
}

// ExistsQuery holds when the aspect has a non-null value at Path.
type ExistsQuery struct {
	AspectTarget
}

// ArrayNotEmptyQuery holds when the value at Path is an array with at
// least one element.
type ArrayNotEmptyQuery struct {
	AspectTarget
}

// ValueInArrayQuery holds when the array at Path has an element equal to
// Value (same JSON type, same value).
type ValueInArrayQuery struct {
	AspectTarget
	Value Value
}

// WithValueQuery compares the value at Path with Value.
//
// ReferenceFirst records operand order from the rule: when false the
// comparison reads "Value Operator reference", which matters for the
// ordering operators.
type WithValueQuery struct {
	AspectTarget
	Value          Value
	Operator       Operator
	ReferenceFirst bool
}

// TrueQuery always holds.
type TrueQuery struct{}

// FalseQuery never holds.
type FalseQuery struct{}

func (ExistsQuery) aspectQuery()        {}
func (ArrayNotEmptyQuery) aspectQuery() {}
func (ValueInArrayQuery) aspectQuery()  {}
func (WithValueQuery) aspectQuery()     {}
func (TrueQuery) aspectQuery()          {}
func (FalseQuery) aspectQuery()         {}

// PredicateGroup is one compiled rule. Queries are joined with AND when
// JoinWithAnd is set (always, for compiled rules) and OR otherwise; the
// whole group is inverted when Negated. Groups of one decision are OR-ed.
type PredicateGroup struct {
	Queries     []AspectQuery
	JoinWithAnd bool
	Negated     bool
}

// unconditional reports whether groups are trivially true: some group is
// a non-negated, AND-joined group containing only TrueQuery values (an
// empty conjunction included).
func unconditional(groups []PredicateGroup) bool {
	for _, g := range groups {
		if g.Negated || !g.JoinWithAnd {
			continue
		}
		allTrue := true
		for _, q := range g.Queries {
			if _, ok := q.(TrueQuery); !ok {
				allTrue = false
				break
			}
		}
		if allTrue {
			return true
		}
	}
	return false
}
