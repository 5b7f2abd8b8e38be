package filter

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// SlotPrefix marks a literal as a stored-query placeholder.
const SlotPrefix = "$"

// ErrUnsupportedNode is returned when a tree contains a nil or unknown node.
var ErrUnsupportedNode = errors.New("filter: unsupported node")

// LiteralFunc maps a copied literal to its replacement. It receives a fresh
// copy and may modify and return it.
type LiteralFunc func(*Literal) (*Literal, error)

// Rewrite deep-copies op, passing every literal through fn. The result shares
// no slices, maps or geometries with op.
func Rewrite(op Operator, fn LiteralFunc) (Operator, error) {
	r := rewriter{fn: fn}
	return r.operator(op)
}

// RewriteExpression is Rewrite for a single expression.
func RewriteExpression(e Expression, fn LiteralFunc) (Expression, error) {
	r := rewriter{fn: fn}
	return r.expression(e)
}

// Clone returns a structurally independent copy of op.
func Clone(op Operator) (Operator, error) {
	return Rewrite(op, nil)
}

// CloneExpression returns a structurally independent copy of e.
func CloneExpression(e Expression) (Expression, error) {
	return RewriteExpression(e, nil)
}

// CloneSort copies sort criteria, including namespace bindings.
func CloneSort(props []SortProperty) []SortProperty {
	if props == nil {
		return nil
	}
	out := make([]SortProperty, len(props))
	for i, p := range props {
		out[i] = SortProperty{
			Property: *cloneValueReference(&p.Property),
			Order:    p.Order,
		}
	}
	return out
}

type rewriter struct {
	fn LiteralFunc
}

func (r rewriter) operator(op Operator) (Operator, error) {
	switch o := op.(type) {
	case *Logical:
		if o == nil {
			break
		}
		children := make([]Operator, len(o.Children))
		for i, child := range o.Children {
			c, err := r.operator(child)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", o.Op, i, err)
			}
			children[i] = c
		}
		return &Logical{Op: o.Op, Children: children}, nil

	case *Not:
		if o == nil {
			break
		}
		child, err := r.operator(o.Child)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Not{Child: child}, nil

	case *Comparison:
		if o == nil {
			break
		}
		left, err := r.expression(o.Left)
		if err != nil {
			return nil, err
		}
		right, err := r.expression(o.Right)
		if err != nil {
			return nil, err
		}
		return &Comparison{
			Op:          o.Op,
			Left:        left,
			Right:       right,
			MatchCase:   o.MatchCase,
			MatchAction: o.MatchAction,
		}, nil

	case *Between:
		if o == nil {
			break
		}
		expr, err := r.expression(o.Expr)
		if err != nil {
			return nil, err
		}
		lower, err := r.expression(o.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := r.expression(o.Upper)
		if err != nil {
			return nil, err
		}
		return &Between{
			Expr:        expr,
			Lower:       lower,
			Upper:       upper,
			MatchCase:   o.MatchCase,
			MatchAction: o.MatchAction,
		}, nil

	case *Like:
		if o == nil {
			break
		}
		expr, err := r.expression(o.Expr)
		if err != nil {
			return nil, err
		}
		pattern, err := r.expression(o.Pattern)
		if err != nil {
			return nil, err
		}
		return &Like{
			Expr:        expr,
			Pattern:     pattern,
			Wildcard:    o.Wildcard,
			SingleChar:  o.SingleChar,
			Escape:      o.Escape,
			MatchCase:   o.MatchCase,
			MatchAction: o.MatchAction,
		}, nil

	case *IsNull:
		if o == nil {
			break
		}
		expr, err := r.expression(o.Expr)
		if err != nil {
			return nil, err
		}
		return &IsNull{Expr: expr, MatchAction: o.MatchAction}, nil

	case *Spatial:
		if o == nil {
			break
		}
		// Geometries are never slot-substituted, only detached from the template.
		out := &Spatial{Op: o.Op}
		if o.Target != nil {
			target, err := CloneExpression(o.Target)
			if err != nil {
				return nil, err
			}
			out.Target = target
		}
		if o.Geometry != nil {
			out.Geometry = orb.Clone(o.Geometry)
		}
		if o.GeometryRef != nil {
			out.GeometryRef = cloneValueReference(o.GeometryRef)
		}
		if o.Distance != nil {
			d := *o.Distance
			out.Distance = &d
		}
		if out.Geometry == nil && out.GeometryRef == nil {
			return nil, fmt.Errorf("%w: %s without geometry", ErrUnsupportedNode, o.Op)
		}
		return out, nil

	case *IDFilter:
		if o == nil {
			break
		}
		return &IDFilter{IDs: slices.Clone(o.IDs)}, nil
	}
	return nil, fmt.Errorf("%w: operator %T", ErrUnsupportedNode, op)
}

func (r rewriter) expression(e Expression) (Expression, error) {
	switch x := e.(type) {
	case *Literal:
		if x == nil {
			break
		}
		lit := &Literal{Value: cloneValue(x.Value), Type: x.Type}
		if r.fn == nil {
			return lit, nil
		}
		out, err := r.fn(lit)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("%w: literal rewritten to nil", ErrUnsupportedNode)
		}
		return out, nil

	case *ValueReference:
		if x == nil {
			break
		}
		return cloneValueReference(x), nil

	case *Arithmetic:
		if x == nil {
			break
		}
		left, err := r.expression(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := r.expression(x.Right)
		if err != nil {
			return nil, err
		}
		return &Arithmetic{Op: x.Op, Left: left, Right: right}, nil

	case *Function:
		if x == nil {
			break
		}
		args := make([]Expression, len(x.Args))
		for i, arg := range x.Args {
			a, err := r.expression(arg)
			if err != nil {
				return nil, fmt.Errorf("%s arg %d: %w", x.Name, i, err)
			}
			args[i] = a
		}
		return &Function{Name: x.Name, Args: args}, nil
	}
	return nil, fmt.Errorf("%w: expression %T", ErrUnsupportedNode, e)
}

func cloneValueReference(v *ValueReference) *ValueReference {
	return &ValueReference{Path: v.Path, Namespaces: maps.Clone(v.Namespaces)}
}

// cloneValue copies the composite literal values the JSON codec produces.
func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Walk visits op and every nested operator and expression in pre-order.
// Returning false from visit skips the node's children.
func Walk(op Operator, visit func(node any) bool) {
	if op == nil || !visit(op) {
		return
	}
	switch o := op.(type) {
	case *Logical:
		for _, child := range o.Children {
			Walk(child, visit)
		}
	case *Not:
		Walk(o.Child, visit)
	case *Comparison:
		walkExpression(o.Left, visit)
		walkExpression(o.Right, visit)
	case *Between:
		walkExpression(o.Expr, visit)
		walkExpression(o.Lower, visit)
		walkExpression(o.Upper, visit)
	case *Like:
		walkExpression(o.Expr, visit)
		walkExpression(o.Pattern, visit)
	case *IsNull:
		walkExpression(o.Expr, visit)
	case *Spatial:
		walkExpression(o.Target, visit)
		if o.GeometryRef != nil {
			walkExpression(o.GeometryRef, visit)
		}
	}
}

func walkExpression(e Expression, visit func(node any) bool) {
	if e == nil || !visit(e) {
		return
	}
	switch x := e.(type) {
	case *Arithmetic:
		walkExpression(x.Left, visit)
		walkExpression(x.Right, visit)
	case *Function:
		for _, arg := range x.Args {
			walkExpression(arg, visit)
		}
	}
}

// Contains reports whether any operator in the tree satisfies match.
func Contains(op Operator, match func(Operator) bool) bool {
	found := false
	Walk(op, func(node any) bool {
		if found {
			return false
		}
		if o, ok := node.(Operator); ok && match(o) {
			found = true
		}
		return !found
	})
	return found
}

// SlotName returns the placeholder name of a "$name" literal.
func SlotName(lit *Literal) (string, bool) {
	if lit == nil {
		return "", false
	}
	s, ok := lit.Value.(string)
	if !ok || !strings.HasPrefix(s, SlotPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, SlotPrefix), true
}

// Placeholders lists the distinct slot names referenced by op, sorted.
func Placeholders(op Operator) []string {
	seen := map[string]bool{}
	Walk(op, func(node any) bool {
		if lit, ok := node.(*Literal); ok {
			if name, ok := SlotName(lit); ok {
				seen[name] = true
			}
		}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
