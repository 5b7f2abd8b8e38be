package filter

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	ogc "github.com/planetlabs/go-ogc/filter"
)

// ErrNotExpressible is returned by ToCQL2 and Text for constructs the target
// encoding has no equivalent for.
var ErrNotExpressible = errors.New("filter: construct not expressible")

// ToCQL2 converts op into a go-ogc CQL2 filter, suitable for forwarding a
// constraint to an OGC API or STAC search endpoint.
func ToCQL2(op Operator) (*ogc.Filter, error) {
	expr, err := toBoolean(op)
	if err != nil {
		return nil, err
	}
	return &ogc.Filter{Expression: expr}, nil
}

var cql2Comparisons = map[ComparisonOp]string{
	OpEqual:          ogc.Equals,
	OpNotEqual:       ogc.NotEquals,
	OpLessThan:       ogc.LessThan,
	OpLessOrEqual:    ogc.LessThanOrEquals,
	OpGreaterThan:    ogc.GreaterThan,
	OpGreaterOrEqual: ogc.GreaterThanOrEquals,
}

var cql2Spatial = map[SpatialOp]string{
	OpBBox:       ogc.GeometryIntersects,
	OpIntersects: ogc.GeometryIntersects,
	OpWithin:     ogc.GeometryWithin,
	OpContains:   ogc.GeometryContains,
	OpCrosses:    ogc.GeometryCrosses,
	OpDisjoint:   ogc.GeometryDisjoint,
	OpTouches:    ogc.GeometryTouches,
	OpOverlaps:   ogc.GeometryOverlaps,
	OpEquals:     ogc.GeometryEquals,
}

func toBoolean(op Operator) (ogc.BooleanExpression, error) {
	switch o := op.(type) {
	case *Logical:
		args := make([]ogc.BooleanExpression, len(o.Children))
		for i, child := range o.Children {
			a, err := toBoolean(child)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		if o.Op == OpOr {
			return &ogc.Or{Args: args}, nil
		}
		return &ogc.And{Args: args}, nil

	case *Not:
		arg, err := toBoolean(o.Child)
		if err != nil {
			return nil, err
		}
		return &ogc.Not{Arg: arg}, nil

	case *Comparison:
		if err := checkMatchAction(o.MatchAction); err != nil {
			return nil, err
		}
		left, err := toScalar(o.Left)
		if err != nil {
			return nil, err
		}
		right, err := toScalar(o.Right)
		if err != nil {
			return nil, err
		}
		return &ogc.Comparison{Name: cql2Comparisons[o.Op], Left: left, Right: right}, nil

	case *Between:
		if err := checkMatchAction(o.MatchAction); err != nil {
			return nil, err
		}
		value, err := toNumeric(o.Expr)
		if err != nil {
			return nil, err
		}
		low, err := toNumeric(o.Lower)
		if err != nil {
			return nil, err
		}
		high, err := toNumeric(o.Upper)
		if err != nil {
			return nil, err
		}
		return &ogc.Between{Value: value, Low: low, High: high}, nil

	case *Like:
		if err := checkMatchAction(o.MatchAction); err != nil {
			return nil, err
		}
		if !defaultWildcards(o) {
			return nil, fmt.Errorf("%w: like with custom wildcards", ErrNotExpressible)
		}
		value, err := toOGCExpression(o.Expr)
		if err != nil {
			return nil, err
		}
		cv, ok := value.(ogc.CharacterExpression)
		if !ok {
			return nil, fmt.Errorf("%w: like value %T", ErrNotExpressible, o.Expr)
		}
		pattern, err := toOGCExpression(o.Pattern)
		if err != nil {
			return nil, err
		}
		pv, ok := pattern.(ogc.PatternExpression)
		if !ok {
			return nil, fmt.Errorf("%w: like pattern %T", ErrNotExpressible, o.Pattern)
		}
		return &ogc.Like{Value: cv, Pattern: pv}, nil

	case *IsNull:
		value, err := toOGCExpression(o.Expr)
		if err != nil {
			return nil, err
		}
		return &ogc.IsNull{Value: value}, nil

	case *Spatial:
		name, ok := cql2Spatial[o.Op]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotExpressible, o.Op)
		}
		var left ogc.SpatialExpression = &ogc.Property{Name: "geometry"}
		if o.Target != nil {
			ref, ok := o.Target.(*ValueReference)
			if !ok {
				return nil, fmt.Errorf("%w: spatial target %T", ErrNotExpressible, o.Target)
			}
			left = &ogc.Property{Name: ref.Path}
		}
		right, err := toSpatial(o)
		if err != nil {
			return nil, err
		}
		return &ogc.SpatialComparison{Name: name, Left: left, Right: right}, nil

	case *IDFilter:
		return nil, fmt.Errorf("%w: identifier selection", ErrNotExpressible)

	default:
		return nil, fmt.Errorf("%w: operator %T", ErrUnsupportedNode, op)
	}
}

func toSpatial(s *Spatial) (ogc.SpatialExpression, error) {
	switch {
	case s.GeometryRef != nil:
		return &ogc.Property{Name: s.GeometryRef.Path}, nil
	case s.Geometry == nil:
		return nil, fmt.Errorf("%w: %s without geometry", ErrUnsupportedNode, s.Op)
	}
	if b, ok := s.Geometry.(orb.Bound); ok {
		return &ogc.BoundingBox{Extent: []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}}, nil
	}
	return &ogc.Geometry{Value: geojson.NewGeometry(s.Geometry)}, nil
}

func toOGCExpression(e Expression) (ogc.Expression, error) {
	switch x := e.(type) {
	case *ValueReference:
		return &ogc.Property{Name: x.Path}, nil
	case *Literal:
		switch v := x.Value.(type) {
		case string:
			return &ogc.String{Value: v}, nil
		case float64:
			return &ogc.Number{Value: v}, nil
		case int:
			return &ogc.Number{Value: float64(v)}, nil
		case bool:
			return &ogc.Boolean{Value: v}, nil
		}
		return nil, fmt.Errorf("%w: literal of type %T", ErrNotExpressible, x.Value)
	case *Arithmetic:
		return nil, fmt.Errorf("%w: arithmetic", ErrNotExpressible)
	case *Function:
		return nil, fmt.Errorf("%w: function %s", ErrNotExpressible, x.Name)
	default:
		return nil, fmt.Errorf("%w: expression %T", ErrUnsupportedNode, e)
	}
}

func toScalar(e Expression) (ogc.ScalarExpression, error) {
	v, err := toOGCExpression(e)
	if err != nil {
		return nil, err
	}
	s, ok := v.(ogc.ScalarExpression)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not scalar", ErrNotExpressible, e)
	}
	return s, nil
}

func toNumeric(e Expression) (ogc.NumericExpression, error) {
	v, err := toOGCExpression(e)
	if err != nil {
		return nil, err
	}
	n, ok := v.(ogc.NumericExpression)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not numeric", ErrNotExpressible, e)
	}
	return n, nil
}

func checkMatchAction(action MatchAction) error {
	if action != "" && action != MatchAny {
		return fmt.Errorf("%w: matchAction %s", ErrNotExpressible, action)
	}
	return nil
}

func defaultWildcards(l *Like) bool {
	return (l.Wildcard == "" || l.Wildcard == "%") &&
		(l.SingleChar == "" || l.SingleChar == "_") &&
		(l.Escape == "" || l.Escape == `\`)
}
