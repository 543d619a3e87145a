package types

import "errors"

// Sentinel errors for decision compilation. Any of them aborts compilation
// of the whole decision; callers must deny.
var (
	// ErrInvalidReference indicates a reference operand is not a string or
	// cannot be resolved into an aspect path.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrUnsupportedValueType indicates a literal that is not a string,
	// boolean or number.
	ErrUnsupportedValueType = errors.New("unsupported value type")

	// ErrInvalidOperandUsage indicates a reference used where a literal is
	// required, or a literal used where a reference is required.
	ErrInvalidOperandUsage = errors.New("invalid operand usage")

	// ErrUnsupportedExpressionShape indicates an expression whose operands
	// are both references or both literals, or that has no operands.
	ErrUnsupportedExpressionShape = errors.New("unsupported expression shape")

	// ErrUnsupportedOperator indicates an unknown comparison operator.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnsupportedOperatorForCollection indicates a non-membership
	// operator applied to a collection reference.
	ErrUnsupportedOperatorForCollection = errors.New("unsupported operator for collection reference")

	// ErrTooManyOperands indicates an expression with more than two operands.
	ErrTooManyOperands = errors.New("too many operands")

	// ErrCrossNamespaceOperation indicates a move/copy between two aspects.
	ErrCrossNamespaceOperation = errors.New("cross-aspect operation not supported")

	// ErrTooManyRules indicates a decision exceeding MaxResidualRules.
	ErrTooManyRules = errors.New("decision has too many residual rules")
)

// Store errors.
var (
	// ErrRecordNotFound indicates a record lookup missed.
	ErrRecordNotFound = errors.New("record not found")

	// ErrAspectTooLarge indicates an aspect document exceeds MaxAspectSize.
	ErrAspectTooLarge = errors.New("aspect exceeds maximum size")

	// ErrInvalidAspect indicates an aspect document that is not valid JSON.
	ErrInvalidAspect = errors.New("aspect is not valid JSON")

	// ErrInvalidID indicates a malformed tenant, record or API key id.
	ErrInvalidID = errors.New("invalid id")
)
