package filter

import (
	"github.com/hrygo/polystore/internal/storeerr"
)

// Emitter builds the native representation of a predicate for one backend.
// Condition implementations dispatch on Value.Kind and must reject kinds they
// cannot express rather than coerce them.
type Emitter[T any] interface {
	// Empty is the backend's canonical "no filter" value.
	Empty() T
	Condition(c *Condition) (T, error)
	And(children []T) (T, error)
	Or(children []T) (T, error)
	Not(child T) (T, error)
	Nor(children []T) (T, error)
}

const translateOp = "filter.translate"

// Translate validates f, checks it against the backend's operator support and
// emits the native representation.
func Translate[T any](f Filter, support OperatorSupport, e Emitter[T]) (T, error) {
	node, err := Parse(f)
	if err != nil {
		var zero T
		return zero, err
	}
	return TranslateNode(node, support, e)
}

// TranslateNode translates an already parsed predicate. A nil node yields the
// emitter's empty value.
func TranslateNode[T any](node Node, support OperatorSupport, e Emitter[T]) (T, error) {
	if node == nil {
		return e.Empty(), nil
	}
	if err := CheckSupport(node, support); err != nil {
		var zero T
		return zero, err
	}
	return emit(node, e)
}

// CheckSupport rejects the first operator outside the backend's declared set.
func CheckSupport(node Node, support OperatorSupport) error {
	switch n := node.(type) {
	case *Logical:
		if !support.Supports(n.Op) {
			return storeerr.Userf(translateOp, "unsupported logical operator %s", n.Op).With("operator", string(n.Op))
		}
		for _, child := range n.Children {
			if err := CheckSupport(child, support); err != nil {
				return err
			}
		}
	case *Condition:
		if !support.Supports(n.Op) {
			msg := "unsupported operator %s for field %s"
			if _, known := operatorCategories[n.Op]; !known {
				msg = "unknown operator %s for field %s"
			}
			return storeerr.Userf(translateOp, msg, n.Op, n.Field).With("operator", string(n.Op)).With("field", n.Field)
		}
	}
	return nil
}

func emit[T any](node Node, e Emitter[T]) (T, error) {
	var zero T
	switch n := node.(type) {
	case *Condition:
		return e.Condition(n)
	case *Logical:
		children := make([]T, 0, len(n.Children))
		for _, child := range n.Children {
			out, err := emit(child, e)
			if err != nil {
				return zero, err
			}
			children = append(children, out)
		}
		switch n.Op {
		case OpAnd:
			return e.And(children)
		case OpOr:
			return e.Or(children)
		case OpNor:
			return e.Nor(children)
		case OpNot:
			if len(children) != 1 {
				return zero, storeerr.System(translateOp, "$not must have exactly one child", nil)
			}
			return e.Not(children[0])
		}
		return zero, storeerr.Userf(translateOp, "unsupported logical operator %s", n.Op).With("operator", string(n.Op))
	}
	return zero, storeerr.System(translateOp, "unknown predicate node", nil)
}

// UnsupportedKind is the error emitters return for an operand kind they
// cannot express for an operator.
func UnsupportedKind(c *Condition) error {
	return storeerr.Userf(translateOp, "operator %s on field %s does not accept %s values", c.Op, c.Field, c.Value.Kind).
		With("operator", string(c.Op)).With("field", c.Field)
}

// UnsupportedOperator is the error emitters return for an operator that passed
// the support check but has no native rendering.
func UnsupportedOperator(c *Condition) error {
	return storeerr.Userf(translateOp, "unsupported operator %s for field %s", c.Op, c.Field).
		With("operator", string(c.Op)).With("field", c.Field)
}
