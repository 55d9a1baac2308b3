package lql

import (
	"fmt"
	"strconv"
	"strings"
)

// bodyMessageKey is the body field predicates with no explicit key match
// against: the normalized event message.
const bodyMessageKey = "event_message"

// Compile parses a query string and compiles it to DNF in one step. This is
// the form source.Rule and source.Source cache at load time so evaluation
// never re-parses per event.
func Compile(query string) (*DNF, error) {
	expr, err := Parse(query)
	if err != nil {
		return nil, err
	}
	dnf := ToDNF(expr)
	return &dnf, nil
}

// Match reports whether body satisfies the compiled expression.
func Match(dnf *DNF, body map[string]any) bool {
	if dnf == nil {
		return false
	}
	for _, branch := range dnf.Branches {
		if matchBranch(&branch, body) {
			return true
		}
	}
	return false
}

func matchBranch(branch *Conjunction, body map[string]any) bool {
	for _, p := range branch.Positive {
		if !evalPredicate(p, body) {
			return false
		}
	}
	for _, p := range branch.Negative {
		if evalPredicate(p, body) {
			return false
		}
	}
	return true
}

func evalPredicate(pred *PredicateExpr, body map[string]any) bool {
	switch pred.Kind {
	case PredToken:
		return strings.Contains(strings.ToLower(stringify(body[bodyMessageKey])), strings.ToLower(pred.Value))

	case PredKV:
		if v, ok := lookupKey(body, pred.Key); ok {
			return strings.EqualFold(stringify(v), pred.Value)
		}
		return false

	case PredKeyExists:
		_, ok := lookupKey(body, pred.Key)
		return ok

	case PredValueExists:
		for _, v := range body {
			if strings.EqualFold(stringify(v), pred.Value) {
				return true
			}
		}
		return false

	case PredRegex:
		return pred.Pattern != nil && pred.Pattern.MatchString(stringify(body[bodyMessageKey]))

	case PredGlob:
		if pred.Key != "" {
			v, ok := lookupKey(body, pred.Key)
			return ok && pred.ValuePat != nil && pred.ValuePat.MatchString(stringify(v))
		}
		return pred.ValuePat != nil && pred.ValuePat.MatchString(stringify(body[bodyMessageKey]))

	default:
		return false
	}
}

func lookupKey(body map[string]any, key string) (any, bool) {
	if v, ok := body[key]; ok {
		return v, true
	}
	for k, v := range body {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// stringify renders a JSON-like body value (string, number, bool, nil, or
// nested structure) as a comparable string. Nested maps/slices fall back to
// fmt.Sprint since predicates never need to match into them directly.
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
	default:
		return fmt.Sprint(t)
	}
}
