// internal/authz/operators.go
package authz

import (
	"fmt"

	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * Comparison operators.
 *
 * Residual rules use the policy engine's operator symbols. Only the five
 * below are compiled; anything else is ErrUnsupportedOperator.
 *
 * Operators:
 *   - =            equality (the only operator allowed on collections)
 *   - <, <=, >, >= ordering; not symmetric, so WithValue keeps track of
 *                  which side the reference was on
 */

// Operator is a comparison operator of a two-operand expression.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEq
	OpLt
	OpLte
	OpGt
	OpGte
)

// ParseOperator maps a policy engine operator symbol to an Operator.
func ParseOperator(symbol string) (Operator, error) {
	switch symbol {
	case "=":
		return OpEq, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLte, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGte, nil
	default:
		return OpUnspecified, fmt.Errorf("%w: %q", types.ErrUnsupportedOperator, symbol)
	}
}

// SQL returns the SQL comparison symbol.
func (op Operator) SQL() string {
	switch op {
	case OpEq:
		return "="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?op?"
	}
}

func (op Operator) String() string {
	return op.SQL()
}

// holds reports whether a three-way comparison result (-1/0/1) of
// left vs right satisfies "left op right".
func (op Operator) holds(cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}
