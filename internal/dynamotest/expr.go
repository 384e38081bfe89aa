package dynamotest

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tokenize splits a DynamoDB expression into tokens.
func tokenize(expr string) ([]string, error) {
	var tokens []string
	for i := 0; i < len(expr); {
		c := rune(expr[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case strings.ContainsRune("(),.=", c):
			tokens = append(tokens, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(expr) && (expr[i+1] == '=' || (c == '<' && expr[i+1] == '>')) {
				tokens = append(tokens, expr[i:i+2])
				i += 2
			} else {
				tokens = append(tokens, string(c))
				i++
			}
		case c == '#' || c == ':' || c == '_' || unicode.IsLetter(c):
			j := i + 1
			for j < len(expr) && (expr[j] == '_' || unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j]))) {
				j++
			}
			if j == i+1 && (c == '#' || c == ':') {
				return nil, fmt.Errorf("empty placeholder at offset %d", i)
			}
			tokens = append(tokens, expr[i:j])
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return tokens, nil
}

// evaluator is a recursive-descent evaluator for the subset of condition,
// filter and key condition expressions the store writes.
type evaluator struct {
	tokens []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

// evaluate reports whether item satisfies expr.
func evaluate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	e := &evaluator{tokens: tokens, names: names, values: values, item: item}
	ok, err := e.or()
	if err != nil {
		return false, err
	}
	if e.pos != len(e.tokens) {
		return false, fmt.Errorf("unexpected token %q", e.tokens[e.pos])
	}
	return ok, nil
}

func (e *evaluator) peek() string {
	if e.pos < len(e.tokens) {
		return e.tokens[e.pos]
	}
	return ""
}

func (e *evaluator) next() string {
	t := e.peek()
	e.pos++
	return t
}

func (e *evaluator) expect(want string) error {
	if got := e.next(); got != want {
		return fmt.Errorf("expected %q, got %q", want, got)
	}
	return nil
}

func (e *evaluator) or() (bool, error) {
	left, err := e.and()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "OR") {
		e.next()
		right, err := e.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (e *evaluator) and() (bool, error) {
	left, err := e.not()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "AND") {
		e.next()
		right, err := e.not()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (e *evaluator) not() (bool, error) {
	if strings.EqualFold(e.peek(), "NOT") {
		e.next()
		v, err := e.not()
		return !v, err
	}
	return e.primary()
}

func (e *evaluator) primary() (bool, error) {
	if e.peek() == "(" {
		e.next()
		v, err := e.or()
		if err != nil {
			return false, err
		}
		return v, e.expect(")")
	}

	if e.pos+1 < len(e.tokens) && e.tokens[e.pos+1] == "(" {
		return e.function()
	}

	left, err := e.operand()
	if err != nil {
		return false, err
	}
	op := e.next()
	right, err := e.operand()
	if err != nil {
		return false, err
	}
	switch op {
	case "=":
		return left != nil && right != nil && equal(left, right), nil
	case "<>":
		return left != nil && right != nil && !equal(left, right), nil
	default:
		return false, fmt.Errorf("unsupported comparator %q", op)
	}
}

func (e *evaluator) function() (bool, error) {
	name := strings.ToLower(e.next())
	if err := e.expect("("); err != nil {
		return false, err
	}

	switch name {
	case "attribute_exists", "attribute_not_exists":
		v, err := e.path()
		if err != nil {
			return false, err
		}
		if err := e.expect(")"); err != nil {
			return false, err
		}
		return (v != nil) == (name == "attribute_exists"), nil

	case "contains", "begins_with":
		haystack, err := e.path()
		if err != nil {
			return false, err
		}
		if err := e.expect(","); err != nil {
			return false, err
		}
		needle, err := e.operand()
		if err != nil {
			return false, err
		}
		if err := e.expect(")"); err != nil {
			return false, err
		}
		if name == "contains" {
			return contains(haystack, needle), nil
		}
		h, ok1 := haystack.(*types.AttributeValueMemberS)
		n, ok2 := needle.(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.HasPrefix(h.Value, n.Value), nil

	default:
		return false, fmt.Errorf("unsupported function %q", name)
	}
}

func (e *evaluator) operand() (types.AttributeValue, error) {
	if strings.HasPrefix(e.peek(), ":") {
		tok := e.next()
		v, ok := e.values[tok]
		if !ok {
			return nil, fmt.Errorf("value %s is not defined", tok)
		}
		return v, nil
	}
	return e.path()
}

// path resolves a dotted document path against the item. A missing attribute
// resolves to nil.
func (e *evaluator) path() (types.AttributeValue, error) {
	name, err := e.segment()
	if err != nil {
		return nil, err
	}
	var v types.AttributeValue = e.item[name]
	for e.peek() == "." {
		e.next()
		name, err := e.segment()
		if err != nil {
			return nil, err
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			v = nil
			continue
		}
		v = m.Value[name]
	}
	return v, nil
}

func (e *evaluator) segment() (string, error) {
	tok := e.next()
	switch {
	case tok == "":
		return "", fmt.Errorf("unexpected end of expression")
	case strings.HasPrefix(tok, "#"):
		name, ok := e.names[tok]
		if !ok {
			return "", fmt.Errorf("name %s is not defined", tok)
		}
		return name, nil
	case strings.HasPrefix(tok, ":") || strings.ContainsAny(tok, "(),.=<>"):
		return "", fmt.Errorf("expected attribute name, got %q", tok)
	default:
		return tok, nil
	}
}

func equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return reflect.DeepEqual(a, b)
	}
}

func contains(haystack, needle types.AttributeValue) bool {
	switch h := haystack.(type) {
	case *types.AttributeValueMemberL:
		for _, v := range h.Value {
			if equal(v, needle) {
				return true
			}
		}
	case *types.AttributeValueMemberSS:
		if n, ok := needle.(*types.AttributeValueMemberS); ok {
			for _, v := range h.Value {
				if v == n.Value {
					return true
				}
			}
		}
	case *types.AttributeValueMemberS:
		if n, ok := needle.(*types.AttributeValueMemberS); ok {
			return strings.Contains(h.Value, n.Value)
		}
	}
	return false
}

// placeholders returns the #name and :value tokens used across exprs.
func placeholders(exprs ...*string) (map[string]bool, error) {
	used := map[string]bool{}
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		tokens, err := tokenize(*expr)
		if err != nil {
			return nil, err
		}
		for _, t := range tokens {
			if strings.HasPrefix(t, "#") || strings.HasPrefix(t, ":") {
				used[t] = true
			}
		}
	}
	return used, nil
}
