package query

import (
	"fmt"
	"reflect"
	"time"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

// Builder accumulates filter expressions in a fluent manner.
type Builder struct {
	expr filter.Operator
}

// NewBuilder returns an empty Builder instance.
func NewBuilder() *Builder {
	return &Builder{}
}

// Where sets the expression if none exists or ANDs it with the current expression.
func (b *Builder) Where(expr filter.Operator) *Builder {
	if expr == nil {
		return b
	}
	if b.expr == nil {
		b.expr = expr
		return b
	}
	b.expr = filter.And(b.expr, expr)
	return b
}

// And adds multiple expressions combined with logical AND.
func (b *Builder) And(exprs ...filter.Operator) *Builder {
	return b.combine(filter.OpAnd, exprs)
}

// Or combines the current expression with the provided ones using logical OR.
func (b *Builder) Or(exprs ...filter.Operator) *Builder {
	return b.combine(filter.OpOr, exprs)
}

func (b *Builder) combine(op filter.LogicalOp, exprs []filter.Operator) *Builder {
	args := make([]filter.Operator, 0, len(exprs)+1)
	if b.expr != nil {
		args = append(args, b.expr)
	}
	for _, expr := range exprs {
		if expr != nil {
			args = append(args, expr)
		}
	}
	switch len(args) {
	case 0:
		return b
	case 1:
		b.expr = args[0]
	default:
		b.expr = &filter.Logical{Op: op, Children: args}
	}
	return b
}

// Not negates the current expression.
func (b *Builder) Not() *Builder {
	if b.expr == nil {
		return b
	}
	b.expr = filter.Negate(b.expr)
	return b
}

// Filter returns the built expression, nil when nothing was added.
func (b *Builder) Filter() filter.Operator {
	return b.expr
}

// Must returns the built expression or panics if it is empty.
func (b *Builder) Must() filter.Operator {
	if b.expr == nil {
		panic("query builder: expression is empty")
	}
	return b.expr
}

// Query wraps the built expression in a Query with the given window.
func (b *Builder) Query(start, maxRecords int, typeNames ...string) *Query {
	return &Query{
		Filter:        b.expr,
		TypeNames:     typeNames,
		StartPosition: start,
		MaxRecords:    maxRecords,
	}
}

// Property constructs a property expression builder.
func Property(name string) PropertyExpression {
	return PropertyExpression{property: filter.Property(name)}
}

// PropertyExpression exposes fluent helpers for comparisons.
type PropertyExpression struct {
	property *filter.ValueReference
}

func (p PropertyExpression) compare(op filter.ComparisonOp, value any) filter.Operator {
	return &filter.Comparison{
		Op:          op,
		Left:        p.ref(),
		Right:       toLiteral(value),
		MatchCase:   true,
		MatchAction: filter.MatchAny,
	}
}

// ref hands out a fresh reference so built trees never share nodes.
func (p PropertyExpression) ref() *filter.ValueReference {
	return filter.Property(p.property.Path)
}

// Eq creates an equality predicate. Nil values generate an isNull expression.
func (p PropertyExpression) Eq(value any) filter.Operator {
	if value == nil {
		return p.IsNull()
	}
	return p.compare(filter.OpEqual, value)
}

// Neq creates an inequality predicate. Nil values generate a negated isNull expression.
func (p PropertyExpression) Neq(value any) filter.Operator {
	if value == nil {
		return p.IsNotNull()
	}
	return p.compare(filter.OpNotEqual, value)
}

// Lt creates a less-than predicate.
func (p PropertyExpression) Lt(value any) filter.Operator {
	return p.compare(filter.OpLessThan, value)
}

// Lte creates a less-than-or-equal predicate.
func (p PropertyExpression) Lte(value any) filter.Operator {
	return p.compare(filter.OpLessOrEqual, value)
}

// Gt creates a greater-than predicate.
func (p PropertyExpression) Gt(value any) filter.Operator {
	return p.compare(filter.OpGreaterThan, value)
}

// Gte creates a greater-than-or-equal predicate.
func (p PropertyExpression) Gte(value any) filter.Operator {
	return p.compare(filter.OpGreaterOrEqual, value)
}

// Like creates a case-insensitive pattern match predicate.
func (p PropertyExpression) Like(pattern string) filter.Operator {
	return &filter.Like{
		Expr:        p.ref(),
		Pattern:     filter.Lit(pattern),
		MatchAction: filter.MatchAny,
	}
}

// In creates a set membership predicate as a disjunction of equalities.
func (p PropertyExpression) In(values ...any) filter.Operator {
	if len(values) == 1 {
		if slice, ok := maybeSlice(values[0]); ok {
			values = slice
		}
	}
	children := make([]filter.Operator, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		children = append(children, p.compare(filter.OpEqual, v))
	}
	if len(children) == 1 {
		return children[0]
	}
	return filter.Or(children...)
}

// Between constrains the property between the provided bounds (inclusive).
func (p PropertyExpression) Between(low, high any) filter.Operator {
	return &filter.Between{
		Expr:        p.ref(),
		Lower:       toLiteral(low),
		Upper:       toLiteral(high),
		MatchCase:   true,
		MatchAction: filter.MatchAny,
	}
}

// IsNull creates an isNull predicate for the property.
func (p PropertyExpression) IsNull() filter.Operator {
	return &filter.IsNull{Expr: p.ref(), MatchAction: filter.MatchAny}
}

// IsNotNull creates a negated isNull predicate for the property.
func (p PropertyExpression) IsNotNull() filter.Operator {
	return filter.Negate(p.IsNull())
}

// Slot creates an equality against a "$name" placeholder, for stored queries.
func (p PropertyExpression) Slot(name string) filter.Operator {
	return p.compare(filter.OpEqual, filter.Slot(name))
}

// BBox builds a bounding box predicate on the ows:BoundingBox property.
func BBox(minLon, minLat, maxLon, maxLat float64) filter.Operator {
	return filter.BBox("ows:BoundingBox", minLon, minLat, maxLon, maxLat)
}

// Modified constrains the record modification date to [start, end].
func Modified(start, end time.Time) filter.Operator {
	return Between("dct:modified", start, end)
}

// Between constrains a temporal property between the provided instants (inclusive).
func Between(property string, start, end time.Time) filter.Operator {
	start, end = normalizeTimes(start, end)
	return Property(property).Between(start, end)
}

func toLiteral(value any) filter.Expression {
	switch v := value.(type) {
	case filter.Expression:
		return v
	case PropertyExpression:
		return v.ref()
	case string:
		return filter.Lit(v)
	case time.Time:
		return filter.Lit(v.UTC().Format(time.RFC3339))
	case fmt.Stringer:
		return filter.Lit(v.String())
	case bool:
		return filter.Lit(v)
	case float64:
		return filter.Lit(v)
	case float32:
		return filter.Lit(float64(v))
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return filter.Lit(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return filter.Lit(float64(rv.Uint()))
	default:
		return filter.Lit(fmt.Sprint(value))
	}
}

func normalizeTimes(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = start
	}
	if start.IsZero() {
		start = end
	}
	if end.Before(start) {
		start, end = end, start
	}
	return start.UTC(), end.UTC()
}

func maybeSlice(value any) ([]any, bool) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	length := rv.Len()
	out := make([]any, 0, length)
	for i := 0; i < length; i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out, true
}
