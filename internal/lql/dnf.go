package lql

import "slices"

// Conjunction is a single AND clause in Disjunctive Normal Form.
type Conjunction struct {
	Positive []*PredicateExpr
	Negative []*PredicateExpr
}

// DNF is a query in Disjunctive Normal Form: the query matches if ANY
// conjunction matches.
type DNF struct {
	Branches []Conjunction
}

// ToDNF converts a boolean expression to Disjunctive Normal Form. Same
// recursive distribution the router/filter language uses.
func ToDNF(expr Expr) DNF {
	return DNF{Branches: toDNFBranches(expr)}
}

func toDNFBranches(expr Expr) []Conjunction {
	switch e := expr.(type) {
	case *PredicateExpr:
		return []Conjunction{{Positive: []*PredicateExpr{e}}}
	case *NotExpr:
		return toDNFNot(e.Term)
	case *AndExpr:
		return toDNFAnd(e.Terms)
	case *OrExpr:
		return toDNFOr(e.Terms)
	default:
		return nil
	}
}

func toDNFNot(expr Expr) []Conjunction {
	switch e := expr.(type) {
	case *PredicateExpr:
		return []Conjunction{{Negative: []*PredicateExpr{e}}}
	case *NotExpr:
		return toDNFBranches(e.Term)
	case *AndExpr:
		var result []Conjunction
		for _, term := range e.Terms {
			result = append(result, toDNFNot(term)...)
		}
		return result
	case *OrExpr:
		negated := make([][]Conjunction, len(e.Terms))
		for i, term := range e.Terms {
			negated[i] = toDNFNot(term)
		}
		return crossProduct(negated)
	default:
		return nil
	}
}

func toDNFAnd(terms []Expr) []Conjunction {
	if len(terms) == 0 {
		return []Conjunction{{}}
	}
	branches := make([][]Conjunction, len(terms))
	for i, term := range terms {
		branches[i] = toDNFBranches(term)
	}
	return crossProduct(branches)
}

func toDNFOr(terms []Expr) []Conjunction {
	var result []Conjunction
	for _, term := range terms {
		result = append(result, toDNFBranches(term)...)
	}
	return result
}

func crossProduct(lists [][]Conjunction) []Conjunction {
	if len(lists) == 0 {
		return []Conjunction{{}}
	}
	result := lists[0]
	for i := 1; i < len(lists); i++ {
		result = combineLists(result, lists[i])
	}
	return result
}

func combineLists(a, b []Conjunction) []Conjunction {
	var result []Conjunction
	for _, ca := range a {
		for _, cb := range b {
			result = append(result, mergeConjunctions(ca, cb))
		}
	}
	return result
}

func mergeConjunctions(a, b Conjunction) Conjunction {
	return Conjunction{
		Positive: slices.Concat(a.Positive, b.Positive),
		Negative: slices.Concat(a.Negative, b.Negative),
	}
}

func (c *Conjunction) IsEmpty() bool {
	return len(c.Positive) == 0 && len(c.Negative) == 0
}
