// internal/authz/evaluate.go
package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * In-memory evaluation.
 *
 * Evaluates compiled predicate groups against one record with the same
 * semantics as the emitted SQL, so a single record can be checked without
 * a database round trip.
 *
 * Evaluation flow:
 *   1. Decode each aspect once (json.Number keeps numeric precision)
 *   2. OR groups (short-circuit on first match)
 *   3. AND queries (short-circuit on first non-match), group negation last
 *   4. Per query: find aspect -> resolve path -> type check -> compare
 *
 * Missing data:
 *   - Absent aspect or path: the probe finds no row, the query is false
 *     (true when the query itself is negated)
 *   - JSON null counts as absent for Exists
 *   - A value of another JSON type than the literal never compares equal
 *     or ordered
 *
 * Path segments only traverse objects. Arrays are reached as whole values
 * by ArrayNotEmpty and ValueInArray.
 */

// Evaluate reports whether record passes the filter described by groups.
func Evaluate(groups []PredicateGroup, record *types.Record) (bool, error) {
	docs, err := decodeAspects(record)
	if err != nil {
		return false, err
	}

	for _, g := range groups {
		matched, err := evaluateGroup(g, docs)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func decodeAspects(record *types.Record) (map[string]any, error) {
	docs := make(map[string]any)
	if record == nil {
		return docs, nil
	}
	for id, data := range record.Aspects {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: aspect %q: %v", types.ErrInvalidAspect, id, err)
		}
		docs[id] = doc
	}
	return docs, nil
}

// evaluateGroup applies the group's join and negation.
func evaluateGroup(g PredicateGroup, docs map[string]any) (bool, error) {
	result := g.JoinWithAnd
	for _, q := range g.Queries {
		matched, err := evaluateQuery(q, docs)
		if err != nil {
			return false, err
		}
		if g.JoinWithAnd && !matched {
			result = false
			break
		}
		if !g.JoinWithAnd && matched {
			result = true
			break
		}
	}
	if g.Negated {
		return !result, nil
	}
	return result, nil
}

func evaluateQuery(q AspectQuery, docs map[string]any) (bool, error) {
	switch q := q.(type) {
	case TrueQuery:
		return true, nil
	case FalseQuery:
		return false, nil
	case ExistsQuery:
		return probe(q.AspectTarget, docs, func(v any) bool {
			return v != nil
		}), nil
	case ArrayNotEmptyQuery:
		return probe(q.AspectTarget, docs, func(v any) bool {
			arr, ok := v.([]any)
			return ok && len(arr) > 0
		}), nil
	case ValueInArrayQuery:
		return probe(q.AspectTarget, docs, func(v any) bool {
			arr, ok := v.([]any)
			if !ok {
				return false
			}
			for _, elem := range arr {
				if cmp, ok := compareJSON(elem, q.Value); ok && cmp == 0 {
					return true
				}
			}
			return false
		}), nil
	case WithValueQuery:
		return probe(q.AspectTarget, docs, func(v any) bool {
			cmp, ok := compareJSON(v, q.Value)
			if !ok {
				return false
			}
			if !q.ReferenceFirst {
				cmp = -cmp
			}
			return q.Operator.holds(cmp)
		}), nil
	default:
		return false, fmt.Errorf("%w: predicate %T", types.ErrUnsupportedExpressionShape, q)
	}
}

// probe resolves the target and applies cond, honoring target negation.
func probe(t AspectTarget, docs map[string]any, cond func(v any) bool) bool {
	matched := false
	if doc, ok := docs[t.AspectID]; ok {
		if v, found := resolvePath(doc, t.Path); found {
			matched = cond(v)
		}
	}
	if t.Negated {
		return !matched
	}
	return matched
}

// resolvePath follows object keys. Returns found=false when a key is
// missing or an intermediate value is not an object.
func resolvePath(doc any, path []string) (any, bool) {
	current := doc
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compareJSON compares a decoded JSON value with a literal of the same
// JSON type. ok is false when the types differ.
func compareJSON(v any, lit Value) (cmp int, ok bool) {
	switch lit := lit.(type) {
	case StringValue:
		s, isString := v.(string)
		if !isString {
			return 0, false
		}
		return strings.Compare(s, string(lit)), true

	case BoolValue:
		b, isBool := v.(bool)
		if !isBool {
			return 0, false
		}
		return compareBool(b, bool(lit)), true

	case NumericValue:
		d, isNumber := jsonDecimal(v)
		if !isNumber {
			return 0, false
		}
		return d.Cmp(lit.Dec()), true

	default:
		return 0, false
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func jsonDecimal(v any) (*apd.Decimal, bool) {
	var text string
	switch n := v.(type) {
	case json.Number:
		text = n.String()
	case float64:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(n); err != nil {
			return nil, false
		}
		return d, true
	default:
		return nil, false
	}
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return nil, false
	}
	return d, true
}
