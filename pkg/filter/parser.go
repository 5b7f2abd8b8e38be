// pkg/filter/parser.go

package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// rawNode is the decoded shape of an operator or arithmetic object.
type rawNode struct {
	Op          string            `json:"op"`
	Args        []json.RawMessage `json:"args"`
	MatchCase   *bool             `json:"matchCase"`
	MatchAction MatchAction       `json:"matchAction"`
	Wildcard    string            `json:"wildcard"`
	SingleChar  string            `json:"singleChar"`
	Escape      string            `json:"escape"`
	Distance    *Measure          `json:"distance"`
	IDs         []string          `json:"ids"`
}

// Parse decodes a JSON filter document into an Operator.
func Parse(data []byte) (Operator, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errors.New("filter: empty document")
	}
	return parseOperator(data)
}

func parseOperator(data json.RawMessage) (Operator, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid operator: %w", err)
	}
	if raw.Op == "" {
		return nil, errors.New("missing or invalid 'op' field")
	}
	op := strings.ToLower(raw.Op)

	switch op {
	case "and", "or":
		if len(raw.Args) == 0 {
			return nil, fmt.Errorf("'args' must be a non-empty array for '%s'", op)
		}
		children := make([]Operator, 0, len(raw.Args))
		for i, arg := range raw.Args {
			child, err := parseOperator(arg)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
			}
			children = append(children, child)
		}
		return &Logical{Op: LogicalOp(op), Children: children}, nil

	case "not":
		if len(raw.Args) != 1 {
			return nil, errors.New("'args' must be an array with one element for 'not'")
		}
		child, err := parseOperator(raw.Args[0])
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Not{Child: child}, nil

	case "=", "<>", "<", "<=", ">", ">=":
		args, err := parseArgs(raw, op, 2)
		if err != nil {
			return nil, err
		}
		return &Comparison{
			Op:          ComparisonOp(op),
			Left:        args[0],
			Right:       args[1],
			MatchCase:   matchCase(raw),
			MatchAction: matchAction(raw),
		}, nil

	case "between":
		args, err := parseArgs(raw, op, 3)
		if err != nil {
			return nil, err
		}
		return &Between{
			Expr:        args[0],
			Lower:       args[1],
			Upper:       args[2],
			MatchCase:   matchCase(raw),
			MatchAction: matchAction(raw),
		}, nil

	case "like":
		args, err := parseArgs(raw, op, 2)
		if err != nil {
			return nil, err
		}
		return &Like{
			Expr:        args[0],
			Pattern:     args[1],
			Wildcard:    raw.Wildcard,
			SingleChar:  raw.SingleChar,
			Escape:      raw.Escape,
			MatchCase:   matchCase(raw),
			MatchAction: matchAction(raw),
		}, nil

	case "isnull":
		args, err := parseArgs(raw, "isNull", 1)
		if err != nil {
			return nil, err
		}
		return &IsNull{Expr: args[0], MatchAction: matchAction(raw)}, nil

	case "id":
		if len(raw.IDs) == 0 {
			return nil, errors.New("operator 'id' requires a non-empty 'ids' array")
		}
		return &IDFilter{IDs: raw.IDs}, nil
	}

	if sop, ok := spatialOps[op]; ok {
		return parseSpatial(raw, sop)
	}
	return nil, fmt.Errorf("unsupported or unknown operator: %s", raw.Op)
}

var spatialOps = map[string]SpatialOp{
	"bbox":         OpBBox,
	"s_within":     OpWithin,
	"s_intersects": OpIntersects,
	"s_contains":   OpContains,
	"s_crosses":    OpCrosses,
	"s_disjoint":   OpDisjoint,
	"s_touches":    OpTouches,
	"s_overlaps":   OpOverlaps,
	"s_equals":     OpEquals,
	"beyond":       OpBeyond,
	"dwithin":      OpDWithin,
}

func parseSpatial(raw rawNode, op SpatialOp) (Operator, error) {
	if len(raw.Args) != 2 {
		return nil, fmt.Errorf("operator '%s' requires exactly two arguments", op)
	}
	s := &Spatial{Op: op}
	if !isNull(raw.Args[0]) {
		target, err := parseExpression(raw.Args[0])
		if err != nil {
			return nil, fmt.Errorf("%s target: %w", op, err)
		}
		s.Target = target
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Args[1], &fields); err != nil {
		return nil, fmt.Errorf("second argument of '%s' must be a geometry object", op)
	}
	switch {
	case fields["bbox"] != nil && fields["type"] == nil:
		var extent []float64
		if err := json.Unmarshal(fields["bbox"], &extent); err != nil {
			return nil, fmt.Errorf("invalid bbox: %w", err)
		}
		bound, err := boundFromExtent(extent)
		if err != nil {
			return nil, err
		}
		s.Geometry = bound
	case fields["property"] != nil:
		ref, err := parseExpression(raw.Args[1])
		if err != nil {
			return nil, err
		}
		s.GeometryRef = ref.(*ValueReference)
	default:
		g, err := geojson.UnmarshalGeometry(raw.Args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid geometry for '%s': %w", op, err)
		}
		s.Geometry = g.Geometry()
	}

	if op.IsDistance() {
		if raw.Distance == nil {
			return nil, fmt.Errorf("operator '%s' requires a 'distance'", op)
		}
		d := *raw.Distance
		s.Distance = &d
	}
	return s, nil
}

func boundFromExtent(extent []float64) (orb.Bound, error) {
	switch len(extent) {
	case 4:
		return orb.Bound{Min: orb.Point{extent[0], extent[1]}, Max: orb.Point{extent[2], extent[3]}}, nil
	case 6:
		return orb.Bound{Min: orb.Point{extent[0], extent[1]}, Max: orb.Point{extent[3], extent[4]}}, nil
	default:
		return orb.Bound{}, fmt.Errorf("bbox must have 4 or 6 numbers, got %d", len(extent))
	}
}

func parseArgs(raw rawNode, op string, n int) ([]Expression, error) {
	if len(raw.Args) != n {
		return nil, fmt.Errorf("operator '%s' requires exactly %d arguments", op, n)
	}
	out := make([]Expression, n)
	for i, arg := range raw.Args {
		e, err := parseExpression(arg)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", op, i, err)
		}
		out[i] = e
	}
	return out, nil
}

func parseExpression(data json.RawMessage) (Expression, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return &Literal{Value: v}, nil
	}

	if _, ok := obj["property"]; ok {
		var ref ValueReference
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("invalid property reference: %w", err)
		}
		if ref.Path == "" {
			return nil, errors.New("'property' field must be a non-empty string")
		}
		return &ref, nil
	}

	if _, ok := obj["literal"]; ok {
		var lit struct {
			Literal any    `json:"literal"`
			Type    string `json:"type"`
		}
		if err := json.Unmarshal(data, &lit); err != nil {
			return nil, err
		}
		return &Literal{Value: lit.Literal, Type: lit.Type}, nil
	}

	if name, ok := obj["function"].(string); ok {
		var fn struct {
			Args []json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(data, &fn); err != nil {
			return nil, err
		}
		args := make([]Expression, len(fn.Args))
		for i, arg := range fn.Args {
			a, err := parseExpression(arg)
			if err != nil {
				return nil, fmt.Errorf("function %s arg %d: %w", name, i, err)
			}
			args[i] = a
		}
		return &Function{Name: name, Args: args}, nil
	}

	if op, ok := obj["op"].(string); ok {
		switch ArithmeticOp(op) {
		case OpAdd, OpSub, OpMul, OpDiv:
			var raw rawNode
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, err
			}
			args, err := parseArgs(raw, op, 2)
			if err != nil {
				return nil, err
			}
			return &Arithmetic{Op: ArithmeticOp(op), Left: args[0], Right: args[1]}, nil
		}
		return nil, fmt.Errorf("operator '%s' is not a value expression", op)
	}

	return nil, errors.New("unrecognized expression object")
}

func matchCase(raw rawNode) bool {
	if raw.MatchCase == nil {
		return true
	}
	return *raw.MatchCase
}

func matchAction(raw rawNode) MatchAction {
	switch strings.ToLower(string(raw.MatchAction)) {
	case "all":
		return MatchAll
	case "one":
		return MatchOne
	default:
		return MatchAny
	}
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
