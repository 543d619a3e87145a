// internal/types/decision.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

/*
 * Decision document types.
 *
 * Mirror the "concise" residual-rule format returned by the policy engine's
 * decision endpoint. Values are kept as decoded JSON (any) because operand
 * values, rule values and unconditional results are untyped in the wire
 * format; internal/authz classifies them.
 *
 * Key types:
 *   - AuthDecision: unconditional result OR list of residual rules
 *   - ConciseRule: conjunction of expressions plus concluding value
 *   - ConciseExpression: optional operator over 1 or 2 operands
 *   - ConciseOperand: reference path or literal
 *
 * Numbers decode as json.Number (ParseDecision uses UseNumber) so numeric
 * literals keep their full decimal precision.
 */

// AuthDecision is the policy engine's answer for one operation.
// When HasResidualRules is false, Result carries the unconditional outcome.
type AuthDecision struct {
	HasResidualRules bool          `json:"hasResidualRules"`
	Result           any           `json:"result,omitempty"`
	ResidualRules    []ConciseRule `json:"residualRules,omitempty"`
	HasWarns         bool          `json:"hasWarns"`
	Warnings         []string      `json:"warnings,omitempty"`
	Unknowns         []string      `json:"unknowns,omitempty"`
}

// ConciseRule is one residual rule: AND of Expressions, concluding Value.
type ConciseRule struct {
	Default     bool                `json:"default"`
	Value       any                 `json:"value"`
	FullName    string              `json:"fullName"`
	Name        string              `json:"name"`
	Expressions []ConciseExpression `json:"expressions"`
}

// ConciseExpression is one boolean term of a rule.
// Operator is empty for single-operand (existence) expressions.
type ConciseExpression struct {
	Negated  bool             `json:"negated"`
	Operator string           `json:"operator,omitempty"`
	Operands []ConciseOperand `json:"operands"`
}

// ConciseOperand is either a dotted reference path (IsRef) or a literal.
type ConciseOperand struct {
	IsRef bool `json:"isRef"`
	Value any  `json:"value"`
}

// ParseDecision decodes a decision document preserving numeric precision.
// Trailing data after the document is rejected.
func ParseDecision(data []byte) (*AuthDecision, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var d AuthDecision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode decision: unexpected data after document")
	}
	return &d, nil
}
