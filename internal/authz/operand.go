// internal/authz/operand.go
package authz

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * Operand classification.
 *
 * A concise operand is either a reference (dotted path into the record) or
 * a literal. Each accessor enforces its own precondition and fails fast:
 * asking a reference for its literal value, or a literal for its reference,
 * is ErrInvalidOperandUsage.
 *
 * Literal typing:
 *   - JSON string  -> StringValue
 *   - JSON boolean -> BoolValue
 *   - JSON number  -> NumericValue (decimal text, never through float64)
 *   - anything else (object, array, null) -> ErrUnsupportedValueType
 *
 * Numbers arrive as json.Number when decoded with types.ParseDecision. A
 * float64 (document decoded elsewhere) is accepted and formatted with the
 * shortest round-trip representation.
 */

// ValueKind distinguishes typed literal values.
type ValueKind int

const (
	KindString ValueKind = iota
	KindBool
	KindNumeric
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindNumeric:
		return "numeric"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is a typed literal. Sealed: only the types below implement it.
type Value interface {
	Kind() ValueKind
	valueNode()
}

// StringValue is a string literal.
type StringValue string

// BoolValue is a boolean literal.
type BoolValue bool

// NumericValue is a decimal literal kept as validated decimal text.
type NumericValue struct {
	Decimal string
}

func (StringValue) Kind() ValueKind  { return KindString }
func (BoolValue) Kind() ValueKind    { return KindBool }
func (NumericValue) Kind() ValueKind { return KindNumeric }

func (StringValue) valueNode()  {}
func (BoolValue) valueNode()    {}
func (NumericValue) valueNode() {}

// Dec returns the decimal as an apd.Decimal.
// The text was validated at construction, so parse errors cannot occur.
func (n NumericValue) Dec() *apd.Decimal {
	d, _, err := apd.NewFromString(n.Decimal)
	if err != nil {
		return apd.New(0, 0)
	}
	return d
}

// NewNumericValue validates decimal text. NaN and infinities are rejected.
func NewNumericValue(text string) (NumericValue, error) {
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return NumericValue{}, fmt.Errorf("%w: number %q: %v", types.ErrUnsupportedValueType, text, err)
	}
	if d.Form != apd.Finite {
		return NumericValue{}, fmt.Errorf("%w: number %q is not finite", types.ErrUnsupportedValueType, text)
	}
	return NumericValue{Decimal: text}, nil
}

// LiteralValue converts a decoded JSON literal into a typed Value.
func LiteralValue(v any) (Value, error) {
	switch x := v.(type) {
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case json.Number:
		return NewNumericValue(x.String())
	case float64:
		return NewNumericValue(strconv.FormatFloat(x, 'g', -1, 64))
	case int:
		return NewNumericValue(strconv.Itoa(x))
	case int64:
		return NewNumericValue(strconv.FormatInt(x, 10))
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnsupportedValueType, v)
	}
}

// OperandValue returns the typed literal of a non-reference operand.
func OperandValue(op types.ConciseOperand) (Value, error) {
	if op.IsRef {
		return nil, fmt.Errorf("%w: reference %v used as literal", types.ErrInvalidOperandUsage, op.Value)
	}
	return LiteralValue(op.Value)
}

// OperandReference resolves a reference operand against prefixes.
func OperandReference(op types.ConciseOperand, prefixes Prefixes) (Reference, error) {
	if !op.IsRef {
		return Reference{}, fmt.Errorf("%w: literal %v used as reference", types.ErrInvalidOperandUsage, op.Value)
	}
	ref, ok := op.Value.(string)
	if !ok {
		return Reference{}, fmt.Errorf("%w: reference value is %T, want string", types.ErrInvalidReference, op.Value)
	}
	return ResolveReference(ref, prefixes)
}
