package exec

import (
	"fmt"
	"regexp"
	"strings"
)

// Assertion is a single check against command results. Field selects
// what is inspected, Operator how, Value the expectation.
type Assertion struct {
	Field    string `json:"field"`    // stdout, exec_status, device_name
	Operator string `json:"operator"` // eq, neq, contains, not_contains, matches, not_matches
	Value    string `json:"value"`
}

// AssertionDetail is the outcome of one assertion against one result.
type AssertionDetail struct {
	Assertion  Assertion `json:"assertion"`
	DeviceName string    `json:"device_name"`
	Command    string    `json:"command"`
	Pass       bool      `json:"pass"`
	Message    string    `json:"message,omitempty"`
}

// AssertionOutcome aggregates assertion evaluation over a result set.
type AssertionOutcome struct {
	Pass    bool              `json:"pass"`
	Details []AssertionDetail `json:"details,omitempty"`
}

var assertionFields = map[string]bool{
	"stdout": true, "exec_status": true, "device_name": true,
}

// EvaluateAssertions checks every assertion against every result. An
// assertion passes only when it holds on all results.
func EvaluateAssertions(results []CommandResult, assertions []Assertion) (AssertionOutcome, error) {
	outcome := AssertionOutcome{Pass: true}
	for _, a := range assertions {
		field := a.Field
		if field == "" {
			field = "stdout"
		}
		if !assertionFields[field] {
			return AssertionOutcome{}, fmt.Errorf("unknown assertion field %q", a.Field)
		}
		var re *regexp.Regexp
		if a.Operator == "matches" || a.Operator == "not_matches" {
			var err error
			if re, err = regexp.Compile(a.Value); err != nil {
				return AssertionOutcome{}, fmt.Errorf("assertion pattern %q: %w", a.Value, err)
			}
		}

		for _, r := range results {
			actual := assertionActual(r, field)
			detail := evaluateAssertion(a, field, actual, re)
			detail.DeviceName = r.DeviceName
			detail.Command = r.Command
			outcome.Details = append(outcome.Details, detail)
			if !detail.Pass {
				outcome.Pass = false
			}
		}
	}
	return outcome, nil
}

func assertionActual(r CommandResult, field string) string {
	switch field {
	case "exec_status":
		return r.ExecStatus
	case "device_name":
		return r.DeviceName
	default:
		return r.Output
	}
}

func evaluateAssertion(a Assertion, field, actual string, re *regexp.Regexp) AssertionDetail {
	pass := false
	switch a.Operator {
	case "eq", "":
		pass = actual == a.Value
	case "neq":
		pass = actual != a.Value
	case "contains":
		pass = strings.Contains(actual, a.Value)
	case "not_contains":
		pass = !strings.Contains(actual, a.Value)
	case "matches":
		pass = re.MatchString(actual)
	case "not_matches":
		pass = !re.MatchString(actual)
	default:
		return AssertionDetail{
			Assertion: a, Pass: false,
			Message: fmt.Sprintf("unsupported operator %q", a.Operator),
		}
	}

	msg := ""
	if !pass {
		msg = fmt.Sprintf("%s: %s %q failed", field, operatorOrDefault(a.Operator), truncate(a.Value, 80))
	}
	return AssertionDetail{Assertion: a, Pass: pass, Message: msg}
}

func operatorOrDefault(op string) string {
	if op == "" {
		return "eq"
	}
	return op
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
