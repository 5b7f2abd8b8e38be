// pkg/filter/builder.go

package filter

import (
	"github.com/paulmach/orb"
)

// Property creates a value reference to a record property.
func Property(path string) *ValueReference {
	return &ValueReference{Path: path}
}

// Lit creates an untyped literal.
func Lit(value any) *Literal {
	return &Literal{Value: value}
}

// Slot creates the "$name" placeholder literal used in stored query templates.
func Slot(name string) *Literal {
	return &Literal{Value: SlotPrefix + name}
}

func compare(op ComparisonOp, property string, value any) *Comparison {
	return &Comparison{
		Op:          op,
		Left:        Property(property),
		Right:       toExpression(value),
		MatchCase:   true,
		MatchAction: MatchAny,
	}
}

// Eq creates property = value.
func Eq(property string, value any) *Comparison { return compare(OpEqual, property, value) }

// Neq creates property <> value.
func Neq(property string, value any) *Comparison { return compare(OpNotEqual, property, value) }

// Lt creates property < value.
func Lt(property string, value any) *Comparison { return compare(OpLessThan, property, value) }

// Lte creates property <= value.
func Lte(property string, value any) *Comparison { return compare(OpLessOrEqual, property, value) }

// Gt creates property > value.
func Gt(property string, value any) *Comparison { return compare(OpGreaterThan, property, value) }

// Gte creates property >= value.
func Gte(property string, value any) *Comparison { return compare(OpGreaterOrEqual, property, value) }

// BetweenOf creates lower <= property <= upper.
func BetweenOf(property string, lower, upper any) *Between {
	return &Between{
		Expr:        Property(property),
		Lower:       toExpression(lower),
		Upper:       toExpression(upper),
		MatchCase:   true,
		MatchAction: MatchAny,
	}
}

// LikeOf creates a case-insensitive pattern match using the default
// "%" / "_" / "\" wildcards.
func LikeOf(property, pattern string) *Like {
	return &Like{
		Expr:        Property(property),
		Pattern:     Lit(pattern),
		MatchAction: MatchAny,
	}
}

// Null creates property IS NULL.
func Null(property string) *IsNull {
	return &IsNull{Expr: Property(property), MatchAction: MatchAny}
}

// And combines operators with logical AND.
func And(children ...Operator) *Logical {
	return &Logical{Op: OpAnd, Children: children}
}

// Or combines operators with logical OR.
func Or(children ...Operator) *Logical {
	return &Logical{Op: OpOr, Children: children}
}

// Negate wraps an operator in NOT.
func Negate(child Operator) *Not {
	return &Not{Child: child}
}

// BBox creates a bounding-box predicate against property.
func BBox(property string, minX, minY, maxX, maxY float64) *Spatial {
	return &Spatial{
		Op:       OpBBox,
		Target:   Property(property),
		Geometry: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
	}
}

// SpatialOf creates a binary spatial predicate against a literal geometry.
func SpatialOf(op SpatialOp, property string, geom orb.Geometry) *Spatial {
	return &Spatial{Op: op, Target: Property(property), Geometry: geom}
}

// DistanceOf creates a DWithin or Beyond predicate.
func DistanceOf(op SpatialOp, property string, geom orb.Geometry, distance float64, units string) *Spatial {
	return &Spatial{
		Op:       op,
		Target:   Property(property),
		Geometry: geom,
		Distance: &Measure{Value: distance, Units: units},
	}
}

// IDs creates an identifier selection.
func IDs(ids ...string) *IDFilter {
	return &IDFilter{IDs: ids}
}

// Sort creates a sort criterion.
func Sort(property string, order SortOrder) SortProperty {
	return SortProperty{Property: ValueReference{Path: property}, Order: order}
}

// toExpression wraps plain Go values in a Literal and passes expressions through.
func toExpression(value any) Expression {
	switch v := value.(type) {
	case Expression:
		return v
	case int:
		return Lit(float64(v))
	case int32:
		return Lit(float64(v))
	case int64:
		return Lit(float64(v))
	case float32:
		return Lit(float64(v))
	default:
		return Lit(v)
	}
}
