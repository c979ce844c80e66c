package rules

import (
	"fmt"
	"strconv"
	"unicode"
)

// logicProgram is a parsed boolean expression over condition indices, e.g.
// "(0 and 1) or not 2". The grammar is restricted to integer leaves, not,
// and, or, and parentheses; anything else is refused at load time.
type logicProgram struct {
	root logicNode
	// necessary holds the indices whose truth is required for the whole
	// expression to be true: the union of children for and, the
	// intersection for or, the leaf itself for a leaf. A not subtree
	// contributes nothing.
	necessary map[int]struct{}
}

// eval computes the expression over the results known so far, treating
// unevaluated indices as false. Because results only ever flip from unknown
// to known, a true outcome mid-evaluation is used as an early exit.
func (p *logicProgram) eval(known map[int]bool) bool {
	return p.root.eval(known)
}

type logicNode interface {
	eval(known map[int]bool) bool
	necessary() map[int]struct{}
}

type leafNode int

func (n leafNode) eval(known map[int]bool) bool { return known[int(n)] }

func (n leafNode) necessary() map[int]struct{} {
	return map[int]struct{}{int(n): {}}
}

type notNode struct{ child logicNode }

func (n notNode) eval(known map[int]bool) bool { return !n.child.eval(known) }

func (n notNode) necessary() map[int]struct{} { return nil }

type andNode struct{ left, right logicNode }

func (n andNode) eval(known map[int]bool) bool {
	return n.left.eval(known) && n.right.eval(known)
}

func (n andNode) necessary() map[int]struct{} {
	out := map[int]struct{}{}
	for i := range n.left.necessary() {
		out[i] = struct{}{}
	}
	for i := range n.right.necessary() {
		out[i] = struct{}{}
	}
	return out
}

type orNode struct{ left, right logicNode }

func (n orNode) eval(known map[int]bool) bool {
	return n.left.eval(known) || n.right.eval(known)
}

func (n orNode) necessary() map[int]struct{} {
	out := map[int]struct{}{}
	right := n.right.necessary()
	for i := range n.left.necessary() {
		if _, ok := right[i]; ok {
			out[i] = struct{}{}
		}
	}
	return out
}

type logicTokenKind int

const (
	tokInt logicTokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type logicToken struct {
	kind  logicTokenKind
	value int
	text  string
}

func lexLogic(expr string) ([]logicToken, error) {
	var tokens []logicToken
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, logicToken{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, logicToken{kind: tokRParen, text: ")"})
			i++
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			text := string(runes[i:j])
			v, err := strconv.Atoi(text)
			if err != nil {
				return nil, fmt.Errorf("bad index %q", text)
			}
			tokens = append(tokens, logicToken{kind: tokInt, value: v, text: text})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && unicode.IsLetter(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			switch word {
			case "and":
				tokens = append(tokens, logicToken{kind: tokAnd, text: word})
			case "or":
				tokens = append(tokens, logicToken{kind: tokOr, text: word})
			case "not":
				tokens = append(tokens, logicToken{kind: tokNot, text: word})
			default:
				return nil, fmt.Errorf("unexpected word %q", word)
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	return tokens, nil
}

type logicParser struct {
	tokens []logicToken
	pos    int
	// numConds bounds the valid leaf range.
	numConds int
}

// parseLogic compiles expr against a rule with numConds conditions.
func parseLogic(expr string, numConds int) (*logicProgram, error) {
	tokens, err := lexLogic(expr)
	if err != nil {
		return nil, fmt.Errorf("logic expression %q: %w", expr, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("logic expression is empty")
	}
	p := &logicParser{tokens: tokens, numConds: numConds}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("logic expression %q: %w", expr, err)
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("logic expression %q: trailing %q", expr, p.tokens[p.pos].text)
	}
	return &logicProgram{root: root, necessary: root.necessary()}, nil
}

func (p *logicParser) peek() (logicToken, bool) {
	if p.pos >= len(p.tokens) {
		return logicToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *logicParser) parseOr() (logicNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
}

func (p *logicParser) parseAnd() (logicNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
}

func (p *logicParser) parseUnary() (logicNode, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokNot {
		p.pos++
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	}
	return p.parsePrimary()
}

func (p *logicParser) parsePrimary() (logicNode, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch tok.kind {
	case tokInt:
		p.pos++
		if tok.value >= p.numConds {
			return nil, fmt.Errorf("index %d out of range, rule has %d conditions", tok.value, p.numConds)
		}
		return leafNode(tok.value), nil
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %q", tok.text)
	}
}
