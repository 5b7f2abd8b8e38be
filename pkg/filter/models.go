// pkg/filter/models.go

package filter

import (
	"strings"

	"github.com/paulmach/orb"
)

// Operator is a boolean predicate node of a filter tree.
//
// The set of operators is closed: the unexported marker method keeps other
// packages from adding kinds that Rewrite and the stores would not know about.
type Operator interface {
	OperatorType() string
	operator()
}

// Expression is a value-producing node used as an operand of an Operator.
type Expression interface {
	ExpressionType() string
	expression()
}

// MatchAction controls how multi-valued properties are compared.
type MatchAction string

const (
	MatchAny MatchAction = "Any"
	MatchAll MatchAction = "All"
	MatchOne MatchAction = "One"
)

// ComparisonOp names a binary comparison.
type ComparisonOp string

const (
	OpEqual          ComparisonOp = "="
	OpNotEqual       ComparisonOp = "<>"
	OpLessThan       ComparisonOp = "<"
	OpLessOrEqual    ComparisonOp = "<="
	OpGreaterThan    ComparisonOp = ">"
	OpGreaterOrEqual ComparisonOp = ">="
)

// LogicalOp names an n-ary logical operator.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// SpatialOp names a spatial predicate.
type SpatialOp string

const (
	OpBBox       SpatialOp = "bbox"
	OpWithin     SpatialOp = "s_within"
	OpIntersects SpatialOp = "s_intersects"
	OpContains   SpatialOp = "s_contains"
	OpCrosses    SpatialOp = "s_crosses"
	OpDisjoint   SpatialOp = "s_disjoint"
	OpTouches    SpatialOp = "s_touches"
	OpOverlaps   SpatialOp = "s_overlaps"
	OpEquals     SpatialOp = "s_equals"
	OpBeyond     SpatialOp = "beyond"
	OpDWithin    SpatialOp = "dwithin"
)

// IsDistance reports whether the operator requires a Measure.
func (op SpatialOp) IsDistance() bool {
	return op == OpBeyond || op == OpDWithin
}

// ArithmeticOp names a binary arithmetic expression.
type ArithmeticOp string

const (
	OpAdd ArithmeticOp = "+"
	OpSub ArithmeticOp = "-"
	OpMul ArithmeticOp = "*"
	OpDiv ArithmeticOp = "/"
)

// SortOrder is the direction of a sort criterion.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// Logical Operators

type Logical struct {
	Op       LogicalOp  `json:"op"`
	Children []Operator `json:"children"`
}

func (l *Logical) OperatorType() string { return string(l.Op) }
func (*Logical) operator()              {}

type Not struct {
	Child Operator `json:"child"`
}

func (*Not) OperatorType() string { return "not" }
func (*Not) operator()            {}

// Comparison Operators

type Comparison struct {
	Op          ComparisonOp `json:"op"`
	Left        Expression   `json:"left"`
	Right       Expression   `json:"right"`
	MatchCase   bool         `json:"matchCase"`
	MatchAction MatchAction  `json:"matchAction,omitempty"`
}

func (c *Comparison) OperatorType() string { return string(c.Op) }
func (*Comparison) operator()              {}

type Between struct {
	Expr        Expression  `json:"expr"`
	Lower       Expression  `json:"lower"`
	Upper       Expression  `json:"upper"`
	MatchCase   bool        `json:"matchCase"`
	MatchAction MatchAction `json:"matchAction,omitempty"`
}

func (*Between) OperatorType() string { return "between" }
func (*Between) operator()            {}

// Like matches Expr against Pattern. Empty Wildcard, SingleChar and Escape
// fall back to "%", "_" and "\".
type Like struct {
	Expr        Expression  `json:"expr"`
	Pattern     Expression  `json:"pattern"`
	Wildcard    string      `json:"wildcard,omitempty"`
	SingleChar  string      `json:"singleChar,omitempty"`
	Escape      string      `json:"escape,omitempty"`
	MatchCase   bool        `json:"matchCase"`
	MatchAction MatchAction `json:"matchAction,omitempty"`
}

func (*Like) OperatorType() string { return "like" }
func (*Like) operator()            {}

type IsNull struct {
	Expr        Expression  `json:"expr"`
	MatchAction MatchAction `json:"matchAction,omitempty"`
}

func (*IsNull) OperatorType() string { return "isNull" }
func (*IsNull) operator()            {}

// Spatial Operators

// Spatial compares Target against either a literal Geometry or a named
// geometry reference. BBOX carries an orb.Bound as its Geometry.
type Spatial struct {
	Op          SpatialOp       `json:"op"`
	Target      Expression      `json:"target"`
	Geometry    orb.Geometry    `json:"-"`
	GeometryRef *ValueReference `json:"geometryRef,omitempty"`
	Distance    *Measure        `json:"distance,omitempty"`
}

func (s *Spatial) OperatorType() string { return string(s.Op) }
func (*Spatial) operator()              {}

// Measure is a distance with a unit of measure, e.g. 10 "m".
type Measure struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// MetresPerDegree approximates one degree of arc at the equator.
const MetresPerDegree = 111_320.0

// Degrees converts the measure to coordinate degrees. Metric units are
// scaled by MetresPerDegree. The second result is false for unknown units.
func (m *Measure) Degrees() (float64, bool) {
	switch strings.ToLower(m.Units) {
	case "", "deg", "degree", "degrees":
		return m.Value, true
	case "m", "metre", "metres", "meter", "meters":
		return m.Value / MetresPerDegree, true
	case "km", "kilometre", "kilometres", "kilometer", "kilometers":
		return m.Value * 1000 / MetresPerDegree, true
	}
	return 0, false
}

// Identifier selection

type IDFilter struct {
	IDs []string `json:"ids"`
}

func (*IDFilter) OperatorType() string { return "id" }
func (*IDFilter) operator()            {}

// Expressions

// Literal is a constant operand. Type optionally names the literal's schema
// type (e.g. "xs:string").
type Literal struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

func (*Literal) ExpressionType() string { return "literal" }
func (*Literal) expression()            {}

// ValueReference points at a record property, optionally with the namespace
// bindings needed to resolve a qualified path.
type ValueReference struct {
	Path       string            `json:"property"`
	Namespaces map[string]string `json:"namespaces,omitempty"`
}

func (*ValueReference) ExpressionType() string { return "property" }
func (*ValueReference) expression()            {}

type Arithmetic struct {
	Op    ArithmeticOp `json:"op"`
	Left  Expression   `json:"left"`
	Right Expression   `json:"right"`
}

func (a *Arithmetic) ExpressionType() string { return string(a.Op) }
func (*Arithmetic) expression()              {}

type Function struct {
	Name string       `json:"function"`
	Args []Expression `json:"args"`
}

func (f *Function) ExpressionType() string { return f.Name }
func (*Function) expression()              {}

// Sorting

// SortProperty is one sort criterion of a query.
type SortProperty struct {
	Property ValueReference `json:"property"`
	Order    SortOrder      `json:"order"`
}
