// internal/authz/compile.go
package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * Decision compilation.
 *
 * Compiles a types.AuthDecision into an OR of PredicateGroups, one group per
 * residual rule. Pure: the same decision and prefixes always produce the
 * same tree, in the same order.
 *
 * Compilation workflow:
 *   1. Decision: unconditional result -> single True/False group,
 *      otherwise one group per residual rule (possibly none)
 *   2. Rule: compile expressions in order, negate the group when the rule
 *      concludes a falsy value (see groupNegated)
 *   3. Expression: dispatch on operand count
 *        1 operand  -> Exists / ArrayNotEmpty
 *        2 operands -> WithValue / ValueInArray
 *        more       -> ErrTooManyOperands
 *
 * The first error aborts the whole decision. Partial predicates are never
 * returned because dropping one conjunct widens access.
 */

// CompileError carries the context of a compilation failure. Unwrap
// exposes the sentinel error from internal/types for errors.Is.
type CompileError struct {
	Rule       string // rule name, empty for decision-level errors
	Expression int    // expression index within the rule, -1 if not applicable
	Operator   string // operator symbol of the failing expression
	Operands   []types.ConciseOperand
	Err        error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("compile decision")
	if e.Rule != "" {
		fmt.Fprintf(&b, ": rule %q", e.Rule)
	}
	if e.Expression >= 0 {
		fmt.Fprintf(&b, ": expression %d", e.Expression)
		if e.Operator != "" {
			fmt.Fprintf(&b, " (operator %q)", e.Operator)
		}
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// CompileDecision compiles a decision into predicate groups to be OR-ed.
// A nil decision compiles like an absent result: a single False group.
func CompileDecision(decision *types.AuthDecision, prefixes Prefixes) ([]PredicateGroup, error) {
	if decision == nil || !decision.HasResidualRules {
		var result any
		if decision != nil {
			result = decision.Result
		}
		var q AspectQuery = FalseQuery{}
		if IsTruthy(result) {
			q = TrueQuery{}
		}
		return []PredicateGroup{{Queries: []AspectQuery{q}, JoinWithAnd: true}}, nil
	}

	if len(decision.ResidualRules) > types.MaxResidualRules {
		return nil, &CompileError{
			Expression: -1,
			Err:        fmt.Errorf("%w: %d > %d", types.ErrTooManyRules, len(decision.ResidualRules), types.MaxResidualRules),
		}
	}

	groups := make([]PredicateGroup, 0, len(decision.ResidualRules))
	for i := range decision.ResidualRules {
		g, err := CompileRule(&decision.ResidualRules[i], prefixes)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// CompileRule compiles one residual rule into an AND group.
// Errors are *CompileError values naming the rule and expression.
func CompileRule(rule *types.ConciseRule, prefixes Prefixes) (PredicateGroup, error) {
	queries := make([]AspectQuery, 0, len(rule.Expressions))
	for i, expr := range rule.Expressions {
		q, err := CompileExpression(expr, prefixes)
		if err != nil {
			return PredicateGroup{}, &CompileError{
				Rule:       ruleName(rule),
				Expression: i,
				Operator:   expr.Operator,
				Operands:   expr.Operands,
				Err:        err,
			}
		}
		queries = append(queries, q)
	}

	return PredicateGroup{
		Queries:     queries,
		JoinWithAnd: true,
		Negated:     groupNegated(rule.Value),
	}, nil
}

func ruleName(rule *types.ConciseRule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.FullName
}

// CompileExpression compiles one normalized expression into an AspectQuery.
func CompileExpression(expr types.ConciseExpression, prefixes Prefixes) (AspectQuery, error) {
	switch len(expr.Operands) {
	case 0:
		return nil, fmt.Errorf("%w: expression has no operands", types.ErrUnsupportedExpressionShape)
	case 1:
		return compileUnary(expr, prefixes)
	case 2:
		return compileBinary(expr, prefixes)
	default:
		return nil, fmt.Errorf("%w: %d operands", types.ErrTooManyOperands, len(expr.Operands))
	}
}

// compileUnary handles existence checks: the single operand must be a
// reference.
func compileUnary(expr types.ConciseExpression, prefixes Prefixes) (AspectQuery, error) {
	ref, err := OperandReference(expr.Operands[0], prefixes)
	if err != nil {
		return nil, err
	}

	target := AspectTarget{AspectID: ref.AspectID, Path: ref.Path, Negated: expr.Negated}
	if ref.IsCollection {
		return ArrayNotEmptyQuery{AspectTarget: target}, nil
	}
	return ExistsQuery{AspectTarget: target}, nil
}

// compileBinary handles comparisons between exactly one reference and one
// literal. Operand order is preserved in ReferenceFirst.
func compileBinary(expr types.ConciseExpression, prefixes Prefixes) (AspectQuery, error) {
	first, second := expr.Operands[0], expr.Operands[1]
	if first.IsRef == second.IsRef {
		kind := "literals"
		if first.IsRef {
			kind = "references"
		}
		return nil, fmt.Errorf("%w: both operands are %s", types.ErrUnsupportedExpressionShape, kind)
	}

	refOperand, litOperand, refFirst := first, second, true
	if !first.IsRef {
		refOperand, litOperand, refFirst = second, first, false
	}

	ref, err := OperandReference(refOperand, prefixes)
	if err != nil {
		return nil, err
	}
	value, err := OperandValue(litOperand)
	if err != nil {
		return nil, err
	}

	target := AspectTarget{AspectID: ref.AspectID, Path: ref.Path, Negated: expr.Negated}

	if ref.IsCollection {
		op, err := ParseOperator(expr.Operator)
		if err != nil || op != OpEq {
			return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedOperatorForCollection, expr.Operator)
		}
		return ValueInArrayQuery{AspectTarget: target, Value: value}, nil
	}

	op, err := ParseOperator(expr.Operator)
	if err != nil {
		return nil, err
	}
	return WithValueQuery{
		AspectTarget:   target,
		Value:          value,
		Operator:       op,
		ReferenceFirst: refFirst,
	}, nil
}

// IsCompileError reports whether err came from decision compilation.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
