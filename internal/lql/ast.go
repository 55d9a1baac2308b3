// Package lql is a boolean predicate language for matching log events
// against drop filters and routing rules. It parses query strings into an
// AST and converts them to Disjunctive Normal Form for evaluation: an
// expression matches when any one branch has all of its predicates hold.
//
// This package is parsing and evaluation only. It has no knowledge of
// sources, adaptors, or the supervisor — it matches a string-keyed row
// against a compiled expression and returns a bool.
package lql

import (
	"fmt"
	"regexp"
	"strings"
)

// Expr is the interface for all AST nodes.
type Expr interface {
	expr()
	String() string
}

// AndExpr represents logical AND of multiple expressions. len(Terms) >= 2.
type AndExpr struct {
	Terms []Expr
}

func (AndExpr) expr() {}

func (a *AndExpr) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// OrExpr represents logical OR of multiple expressions. len(Terms) >= 2.
type OrExpr struct {
	Terms []Expr
}

func (OrExpr) expr() {}

func (o *OrExpr) String() string {
	parts := make([]string, len(o.Terms))
	for i, t := range o.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// NotExpr represents logical negation.
type NotExpr struct {
	Term Expr
}

func (NotExpr) expr() {}

func (n *NotExpr) String() string {
	return "NOT " + n.Term.String()
}

// PredicateExpr is a leaf predicate. Which fields are set depends on
// Kind: Value always holds the literal text (value, token, glob or regex
// source); ValuePat is set alongside it for PredGlob and Pattern for
// PredRegex. The parser never sets KeyPat.
type PredicateExpr struct {
	Kind PredicateKind

	Key    string         // exact key, for PredKV/PredKeyExists and key=glob
	KeyPat *regexp.Regexp // compiled glob key pattern, alternative to Key

	Value    string         // exact value or token literal
	ValuePat *regexp.Regexp // compiled glob value pattern, only for PredGlob
	Pattern  *regexp.Regexp // compiled regex, only for PredRegex
}

func (PredicateExpr) expr() {}

func (p *PredicateExpr) String() string {
	switch p.Kind {
	case PredToken:
		return fmt.Sprintf("token(%s)", p.Value)
	case PredKV:
		return fmt.Sprintf("%s=%s", p.Key, p.Value)
	case PredKeyExists:
		return fmt.Sprintf("%s=*", p.Key)
	case PredValueExists:
		return fmt.Sprintf("*=%s", p.Value)
	case PredRegex:
		return fmt.Sprintf("regex(/%s/)", p.Value)
	case PredGlob:
		return fmt.Sprintf("glob(%s)", p.Value)
	default:
		return fmt.Sprintf("unknown(%d)", p.Kind)
	}
}

func flattenAnd(left, right Expr) Expr {
	var terms []Expr
	if a, ok := left.(*AndExpr); ok {
		terms = append(terms, a.Terms...)
	} else {
		terms = append(terms, left)
	}
	if a, ok := right.(*AndExpr); ok {
		terms = append(terms, a.Terms...)
	} else {
		terms = append(terms, right)
	}
	return &AndExpr{Terms: terms}
}

func flattenOr(left, right Expr) Expr {
	var terms []Expr
	if o, ok := left.(*OrExpr); ok {
		terms = append(terms, o.Terms...)
	} else {
		terms = append(terms, left)
	}
	if o, ok := right.(*OrExpr); ok {
		terms = append(terms, o.Terms...)
	} else {
		terms = append(terms, right)
	}
	return &OrExpr{Terms: terms}
}
