package conditions

import (
	"strings"

	"github.com/tardoc-pauschale-server/internal/domain"
)

// Token kinds of the infix condition stream. Atoms carry the index of the
// condition row whose truth value they stand for.
type tokenKind int

const (
	tokAtom tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	atom int
}

// structure is the parsed form of one package's condition rows: the RPN
// token stream plus the per-group atom indexes used by the fallback
// semantics. Structures are immutable once built and shared process-wide.
type structure struct {
	rpn      []token
	groups   [][]int
	hasInfix bool
}

// operator precedence: not binds tighter than and, and tighter than or.
var precedence = map[tokenKind]int{
	tokNot: 3,
	tokAnd: 2,
	tokOr:  1,
}

// parseOperator splits a row operator into its binary connective and an
// optional negation of the following atom. German synonyms are accepted.
func parseOperator(op string) (tokenKind, bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "AND", "UND":
		return tokAnd, false, true
	case "OR", "ODER":
		return tokOr, false, true
	case "AND NOT", "UND NICHT":
		return tokAnd, true, true
	case "OR NOT", "ODER NICHT":
		return tokOr, true, true
	}
	return 0, false, false
}

// buildStructure parses the ordered condition rows. Rows in the same group
// are parenthesised together; each row's operator separates it from the
// next atom. When no row carries both a group id and an operator, only the
// fallback grouping is available.
func buildStructure(rows []domain.ConditionRow) *structure {
	s := &structure{}

	groupIndex := make(map[int]int)
	for i, row := range rows {
		gi, ok := groupIndex[row.Gruppe]
		if !ok {
			gi = len(s.groups)
			groupIndex[row.Gruppe] = gi
			s.groups = append(s.groups, nil)
		}
		s.groups[gi] = append(s.groups[gi], i)
	}

	for _, row := range rows {
		if _, _, ok := parseOperator(row.Operator); ok && row.Gruppe != 0 {
			s.hasInfix = true
			break
		}
	}
	if !s.hasInfix {
		return s
	}

	var infix []token
	for i, row := range rows {
		newGroup := i == 0 || row.Gruppe != rows[i-1].Gruppe
		if newGroup {
			if i > 0 {
				// A negating operator at a group boundary negates the
				// whole following group.
				infix = append(infix, token{kind: tokRParen})
				connective, neg, ok := parseOperator(rows[i-1].Operator)
				if !ok {
					connective, neg = tokAnd, false
				}
				infix = append(infix, token{kind: connective})
				if neg {
					infix = append(infix, token{kind: tokNot})
				}
			}
			infix = append(infix, token{kind: tokLParen})
		} else {
			connective, neg, ok := parseOperator(rows[i-1].Operator)
			if !ok {
				connective, neg = tokAnd, false
			}
			infix = append(infix, token{kind: connective})
			if neg {
				infix = append(infix, token{kind: tokNot})
			}
		}
		infix = append(infix, token{kind: tokAtom, atom: i})
	}
	infix = append(infix, token{kind: tokRParen})

	s.rpn = toRPN(infix)
	return s
}

// toRPN converts the infix stream to Reverse-Polish via shunting-yard.
// not is unary and right-associative.
func toRPN(infix []token) []token {
	var out, ops []token
	for _, t := range infix {
		switch t.kind {
		case tokAtom:
			out = append(out, t)
		case tokNot:
			ops = append(ops, t)
		case tokAnd, tokOr:
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top.kind == tokLParen || precedence[top.kind] < precedence[t.kind] {
					break
				}
				out = append(out, top)
				ops = ops[:len(ops)-1]
			}
			ops = append(ops, t)
		case tokLParen:
			ops = append(ops, t)
		case tokRParen:
			for len(ops) > 0 && ops[len(ops)-1].kind != tokLParen {
				out = append(out, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) > 0 {
				ops = ops[:len(ops)-1]
			}
		}
	}
	for len(ops) > 0 {
		if ops[len(ops)-1].kind != tokLParen {
			out = append(out, ops[len(ops)-1])
		}
		ops = ops[:len(ops)-1]
	}
	return out
}

// evalRPN evaluates the RPN stream over the per-atom truth values.
func evalRPN(rpn []token, atoms []bool) bool {
	var stack []bool
	for _, t := range rpn {
		switch t.kind {
		case tokAtom:
			stack = append(stack, atoms[t.atom])
		case tokNot:
			if len(stack) < 1 {
				return false
			}
			stack[len(stack)-1] = !stack[len(stack)-1]
		case tokAnd, tokOr:
			if len(stack) < 2 {
				return false
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-1]
			if t.kind == tokAnd {
				stack[len(stack)-1] = a && b
			} else {
				stack[len(stack)-1] = a || b
			}
		}
	}
	if len(stack) != 1 {
		return false
	}
	return stack[0]
}

// evalFallback applies the implicit semantics: AND within a group, OR
// across groups.
func evalFallback(groups [][]int, atoms []bool) bool {
	for _, group := range groups {
		all := true
		for _, idx := range group {
			if !atoms[idx] {
				all = false
				break
			}
		}
		if all && len(group) > 0 {
			return true
		}
	}
	return false
}
