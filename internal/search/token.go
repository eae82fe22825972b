package search

import (
	"fmt"
	"strings"
	"unicode"
)

// term is one tokenized unit of a filter query. A filter term carries key,
// op and value; a free-text token carries text only.
type term struct {
	key     string
	op      string
	value   string
	negated bool
	text    string // non-empty for free-text tokens
	column  int    // 1-based column of the term start
}

// operators lists the comparison operators the grammar recognizes. Anything
// else between a key and a value is a grammar-level failure.
var operators = map[string]bool{
	"=": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
}

func parseErrorf(rule string, column int) *QueryError {
	return &QueryError{Message: fmt.Sprintf("Parse error: %s (column %d)", rule, column)}
}

// tokenize splits a raw query into terms. Terms are separated by whitespace;
// a bare "and" between terms is accepted as a separator and dropped. Values
// may be double-quoted to contain spaces. Grammar failures return a
// *QueryError naming the failed rule and the column.
func tokenize(query string) ([]term, error) {
	runes := []rune(query)
	n := len(runes)
	var terms []term

	i := 0
	for i < n {
		for i < n && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= n {
			break
		}

		start := i
		t := term{column: start + 1}

		if runes[i] == '!' && i+1 < n && isKeyRune(runes[i+1]) {
			t.negated = true
			i++
		}

		keyStart := i
		for i < n && isKeyRune(runes[i]) {
			i++
		}
		t.key = string(runes[keyStart:i])

		opStart := i
		for i < n && isOperatorRune(runes[i]) {
			i++
		}
		t.op = string(runes[opStart:i])

		if t.key == "" || t.op == "" {
			// No key=value shape here: consume the rest of the token as free text.
			for i < n && !unicode.IsSpace(runes[i]) {
				i++
			}
			t = term{text: string(runes[start:i]), column: start + 1}
			if strings.EqualFold(t.text, "and") {
				continue // term separator
			}
			terms = append(terms, t)
			continue
		}

		if !operators[t.op] {
			return nil, parseErrorf("operator", opStart+1)
		}

		if i >= n || unicode.IsSpace(runes[i]) {
			return nil, parseErrorf("value", i+1)
		}
		if runes[i] == '"' {
			i++
			valueStart := i
			for i < n && runes[i] != '"' {
				i++
			}
			if i >= n {
				return nil, parseErrorf("quoted_value", valueStart)
			}
			t.value = string(runes[valueStart:i])
			i++
		} else {
			valueStart := i
			for i < n && !unicode.IsSpace(runes[i]) {
				i++
			}
			t.value = string(runes[valueStart:i])
		}

		terms = append(terms, t)
	}

	return terms, nil
}

func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}

func isOperatorRune(r rune) bool {
	return r == '=' || r == '!' || r == '<' || r == '>'
}
