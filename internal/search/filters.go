// Package search parses the constrained profile-filter query language.
//
// The grammar accepted here is a narrow subset of a general search syntax:
// whitespace-separated `key=value` equality terms over a fixed allow-list of
// profile attribute keys. Ranges, negation, boolean combinators and free-text
// tokens are rejected. Parsing is fail-fast: the first violation is surfaced
// and nothing partial is returned.
package search

import "fmt"

// FilterSet maps allow-listed filter keys to their values. Values are kept
// exactly as given: no type coercion, no case folding.
type FilterSet map[string]string

// QueryError reports a malformed or forbidden filter query. It is
// user-correctable and surfaced to the caller as a 400.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// profileFilters is the fixed allow-list of profile attribute keys eligible
// for equality filtering.
var profileFilters = map[string]bool{
	"android_api_level":      true,
	"device_classification":  true,
	"device_locale":          true,
	"device_manufacturer":    true,
	"device_model":           true,
	"device_os_build_number": true,
	"device_os_name":         true,
	"device_os_version":      true,
	"platform":               true,
	"transaction_name":       true,
	"version":                true,
}

// ParseProfileFilters turns a raw query string into a FilterSet, or returns a
// *QueryError describing the first violation found.
//
// A key repeated with an identical value is accepted idempotently; any
// occurrence that differs from the first-seen value for that key is a
// conflict.
func ParseProfileFilters(query string) (FilterSet, error) {
	terms, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	filters := make(FilterSet, len(terms))

	for _, t := range terms {
		if t.text != "" || t.negated {
			return nil, &QueryError{Message: "Invalid query: Unknown filter"}
		}
		if t.op != "=" {
			return nil, &QueryError{Message: "Invalid query: Illegal operator"}
		}
		if !profileFilters[t.key] {
			return nil, &QueryError{Message: fmt.Sprintf("Invalid query: %s is not supported", t.key)}
		}
		if prev, ok := filters[t.key]; ok && prev != t.value {
			return nil, &QueryError{Message: fmt.Sprintf("Invalid query: Multiple filters for %s", t.key)}
		}
		filters[t.key] = t.value
	}

	return filters, nil
}
