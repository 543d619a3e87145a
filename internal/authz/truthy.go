package authz

import (
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// IsTruthy reports JSON truthiness as used by residual rule values and
// unconditional results. Falsy: false, null, "", numeric zero, [].
// Objects are always truthy, including the empty object.
func IsTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		return !isZeroDecimal(x.String())
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

// isZeroDecimal treats unparseable text as non-zero; json.Number text from
// the decoder is always a valid number.
func isZeroDecimal(text string) bool {
	d, _, err := apd.NewFromString(text)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		return ferr == nil && f == 0
	}
	return d.IsZero()
}

// groupNegated derives a compiled rule group's negation from the rule's
// concluding value. A falsy conclusion means the rule's expressions carve
// rows OUT of the result, so the group is inverted.
func groupNegated(ruleValue any) bool {
	return !IsTruthy(ruleValue)
}
