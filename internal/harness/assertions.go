package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s", event.Seq, event.Action, event.Outcome)
			if len(event.Args) > 0 {
				fmt.Fprintf(&buf, " %v", event.Args)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// matchesStep reports whether the event ran action and, if outcome is set,
// ended with outcome.
func matchesStep(event TraceEvent, action, outcome string) bool {
	if event.Action != action {
		return false
	}
	return outcome == "" || event.Outcome == outcome
}

// assertTraceContains checks that a step with the action (and outcome) ran.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchesStep(event, assertion.Action, assertion.Outcome) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("step %s with outcome %q", assertion.Action, assertion.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that outcomes appear in the specified order.
// Outcomes don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Outcomes) && event.Outcome == assertion.Outcomes[next] {
			next++
		}
	}
	if next == len(assertion.Outcomes) {
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("outcomes in order: %v", assertion.Outcomes),
		Actual:   fmt.Sprintf("matched %d of %d, missing %q", next, len(assertion.Outcomes), assertion.Outcomes[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that the step appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesStep(event, assertion.Action, assertion.Outcome) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s (outcome %q)", assertion.Count, assertion.Action, assertion.Outcome),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertSubset checks every expected field against actual (subset semantics).
// Expecting nil asserts that the field is absent.
func assertSubset(kind, subject string, actual, expect map[string]any) error {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := expect[key]
		actualValue, exists := actual[key]
		if expectedValue == nil {
			if exists {
				return &AssertionError{
					Type:     kind,
					Expected: fmt.Sprintf("%s: field %q absent", subject, key),
					Actual:   fmt.Sprintf("field %q = %v", key, actualValue),
				}
			}
			continue
		}
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s: field %q = %v", subject, key, expectedValue),
				Actual:   fmt.Sprintf("field %q not present in %v", key, sortedKeys(actual)),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s: field %q = %v (type %T)", subject, key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// assertFinalState checks the state summary.
func assertFinalState(result *Result, assertion Assertion) error {
	return assertSubset(AssertFinalState, "state", result.State, assertion.Expect)
}

// assertRecord checks one record.
func assertRecord(result *Result, assertion Assertion) error {
	rec, ok := result.Record(assertion.Record)
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %d", assertion.Record),
			Actual:   fmt.Sprintf("record not found among %d records", len(result.Records)),
		}
	}
	return assertSubset(AssertRecord, fmt.Sprintf("record %d", assertion.Record), rec, assertion.Expect)
}

// assertNotified checks that a notification with the title was posted.
func assertNotified(result *Result, assertion Assertion) error {
	for _, title := range result.Notifications {
		if title == assertion.Title {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertNotified,
		Expected: fmt.Sprintf("notification %q", assertion.Title),
		Actual:   fmt.Sprintf("posted: %q", result.Notifications),
	}
}

// stateValuesEqual compares expected and actual values.
// YAML decodes integers as int while the state holds int and int64.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	if e, ok := toInt64(expected); ok {
		a, ok := toInt64(actual)
		return ok && e == a
	}

	switch exp := expected.(type) {
	case string:
		actualStr, ok := actual.(string)
		return ok && exp == actualStr
	case bool:
		actualBool, ok := actual.(bool)
		return ok && exp == actualBool
	}

	return reflect.DeepEqual(expected, actual)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertRecord:
			err = assertRecord(result, assertion)
		case AssertNotified:
			err = assertNotified(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
