// pkg/filter/serializer.go

package filter

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Serialize encodes op as a JSON filter document that Parse accepts.
func Serialize(op Operator) ([]byte, error) {
	wrapper, err := operatorToWrapper(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapper)
}

// SerializeIndent is Serialize with indentation, for humans.
func SerializeIndent(op Operator) ([]byte, error) {
	wrapper, err := operatorToWrapper(op)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(wrapper, "", "  ")
}

func operatorToWrapper(op Operator) (map[string]any, error) {
	switch e := op.(type) {
	case *Logical:
		args := make([]any, len(e.Children))
		for i, child := range e.Children {
			w, err := operatorToWrapper(child)
			if err != nil {
				return nil, err
			}
			args[i] = w
		}
		return map[string]any{"op": string(e.Op), "args": args}, nil

	case *Not:
		child, err := operatorToWrapper(e.Child)
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": "not", "args": []any{child}}, nil

	case *Comparison:
		args, err := expressionsToWrappers(e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return withMatch(map[string]any{"op": string(e.Op), "args": args}, e.MatchCase, e.MatchAction), nil

	case *Between:
		args, err := expressionsToWrappers(e.Expr, e.Lower, e.Upper)
		if err != nil {
			return nil, err
		}
		return withMatch(map[string]any{"op": "between", "args": args}, e.MatchCase, e.MatchAction), nil

	case *Like:
		args, err := expressionsToWrappers(e.Expr, e.Pattern)
		if err != nil {
			return nil, err
		}
		w := withMatch(map[string]any{"op": "like", "args": args}, e.MatchCase, e.MatchAction)
		if e.Wildcard != "" {
			w["wildcard"] = e.Wildcard
		}
		if e.SingleChar != "" {
			w["singleChar"] = e.SingleChar
		}
		if e.Escape != "" {
			w["escape"] = e.Escape
		}
		return w, nil

	case *IsNull:
		args, err := expressionsToWrappers(e.Expr)
		if err != nil {
			return nil, err
		}
		return withMatch(map[string]any{"op": "isNull", "args": args}, true, e.MatchAction), nil

	case *Spatial:
		var target any
		if e.Target != nil {
			t, err := expressionToWrapper(e.Target)
			if err != nil {
				return nil, err
			}
			target = t
		}
		var geom any
		switch {
		case e.GeometryRef != nil:
			ref, err := expressionToWrapper(e.GeometryRef)
			if err != nil {
				return nil, err
			}
			geom = ref
		case e.Geometry != nil:
			g, err := geometryToWrapper(e.Op, e.Geometry)
			if err != nil {
				return nil, err
			}
			geom = g
		default:
			return nil, fmt.Errorf("%w: %s without geometry", ErrUnsupportedNode, e.Op)
		}
		w := map[string]any{"op": string(e.Op), "args": []any{target, geom}}
		if e.Distance != nil {
			w["distance"] = e.Distance
		}
		return w, nil

	case *IDFilter:
		return map[string]any{"op": "id", "ids": e.IDs}, nil

	default:
		return nil, fmt.Errorf("%w: operator %T", ErrUnsupportedNode, op)
	}
}

func withMatch(w map[string]any, matchCase bool, action MatchAction) map[string]any {
	if !matchCase {
		w["matchCase"] = false
	}
	if action != "" && action != MatchAny {
		w["matchAction"] = string(action)
	}
	return w
}

func geometryToWrapper(op SpatialOp, g orb.Geometry) (any, error) {
	if b, ok := g.(orb.Bound); ok && op == OpBBox {
		return map[string]any{"bbox": []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}}, nil
	}
	if b, ok := g.(orb.Bound); ok {
		g = b.ToPolygon()
	}
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func expressionsToWrappers(exprs ...Expression) ([]any, error) {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		w, err := expressionToWrapper(e)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func expressionToWrapper(expr Expression) (any, error) {
	switch e := expr.(type) {
	case *Literal:
		switch e.Value.(type) {
		case map[string]any, []any:
			return map[string]any{"literal": e.Value, "type": e.Type}, nil
		}
		if e.Type != "" {
			return map[string]any{"literal": e.Value, "type": e.Type}, nil
		}
		return e.Value, nil

	case *ValueReference:
		w := map[string]any{"property": e.Path}
		if len(e.Namespaces) > 0 {
			w["namespaces"] = e.Namespaces
		}
		return w, nil

	case *Arithmetic:
		args, err := expressionsToWrappers(e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": string(e.Op), "args": args}, nil

	case *Function:
		args, err := expressionsToWrappers(e.Args...)
		if err != nil {
			return nil, err
		}
		return map[string]any{"function": e.Name, "args": args}, nil

	default:
		return nil, fmt.Errorf("%w: expression %T", ErrUnsupportedNode, expr)
	}
}
