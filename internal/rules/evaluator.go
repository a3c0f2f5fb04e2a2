// Package rules evaluates visibility and execution conditions against the
// current form values. Evaluation is pure: no I/O, no mutation of inputs,
// cheap enough to run on every keystroke of the live preview.
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/proposehq/formbff/model"
)

// UnknownOperatorPolicy controls how an unrecognized operator evaluates.
type UnknownOperatorPolicy int

const (
	// FailClosed treats an unknown operator as false: the field stays
	// hidden, the operation does not run.
	FailClosed UnknownOperatorPolicy = iota
	// FailOpen treats an unknown operator as true. This reproduces the
	// legacy builder behavior for configs that predate operator checking.
	FailOpen
)

// ParsePolicy maps a configuration string to a policy. The empty string
// defaults to fail_closed.
func ParsePolicy(s string) (UnknownOperatorPolicy, error) {
	switch s {
	case "", "fail_closed":
		return FailClosed, nil
	case "fail_open":
		return FailOpen, nil
	default:
		return FailClosed, fmt.Errorf("unknown operator policy %q (supported: fail_closed, fail_open)", s)
	}
}

// Evaluator decides condition outcomes against a value snapshot.
// The zero value fails closed on unknown operators.
type Evaluator struct {
	UnknownOperator UnknownOperatorPolicy
}

// Evaluate returns the conjunctive AND over all conditions. An empty or nil
// list evaluates true: the field is always visible, the operation always
// runs.
func (e Evaluator) Evaluate(conds []model.Condition, values map[string]any) bool {
	for _, c := range conds {
		if !e.evaluateOne(c, values) {
			return false
		}
	}
	return true
}

// EvaluateWithLogic combines conditions with the given logic. Entity
// operations may opt into OR; field visibility is always AND.
func (e Evaluator) EvaluateWithLogic(conds []model.Condition, logic model.ConditionLogic, values map[string]any) bool {
	if len(conds) == 0 {
		return true
	}
	if logic != model.LogicOr {
		return e.Evaluate(conds, values)
	}
	for _, c := range conds {
		if e.evaluateOne(c, values) {
			return true
		}
	}
	return false
}

func (e Evaluator) evaluateOne(c model.Condition, values map[string]any) bool {
	actual := values[c.TargetFieldID]

	switch c.Operator.Normalize() {
	case model.OpEquals:
		return stringify(actual) == c.Value.Text()
	case model.OpNotEquals:
		return stringify(actual) != c.Value.Text()
	case model.OpContains:
		return strings.Contains(stringify(actual), c.Value.Text())
	case model.OpNotContains:
		return !strings.Contains(stringify(actual), c.Value.Text())
	case model.OpIsEmpty:
		return isEmpty(actual)
	case model.OpIsNotEmpty:
		return !isEmpty(actual)
	case model.OpGreaterThan:
		a, b, ok := numericOperands(actual, c.Value)
		return ok && a > b
	case model.OpLessThan:
		a, b, ok := numericOperands(actual, c.Value)
		return ok && a < b
	}

	return e.UnknownOperator == FailOpen
}

// isEmpty mirrors what the builder UI treats as "no answer yet": a missing
// field, an empty string, an unchecked checkbox, a numeric zero, or an empty
// collection.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case json.Number:
		n, err := t.Float64()
		return err == nil && n == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// stringify renders a form value for string comparison. Missing values
// render as the empty string rather than a sentinel word, so a deleted
// target field compares like an unanswered one. Multi-select answers join
// with a comma, so contains matches individual selections.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = stringify(el)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// numericOperands coerces both sides of a numeric comparison. Either side
// failing to coerce fails the comparison closed.
func numericOperands(actual any, value model.ConditionValue) (a, b float64, ok bool) {
	b, ok = value.Number()
	if !ok {
		return 0, 0, false
	}
	a, ok = toNumber(actual)
	if !ok {
		return 0, 0, false
	}
	return a, b, true
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	}
	return 0, false
}
