package filter

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Text renders op in the CQL text form accepted by ParseText, so that
// ParseText(Text(op)) yields an equal tree. Numbers come back as float64,
// timestamps in UTC and an empty match action as MatchAny. Constructs the
// grammar cannot carry, such as typed literals or namespace bindings, return
// ErrNotExpressible instead of a lossy rendering.
func Text(op Operator) (string, error) {
	if op == nil {
		return "", fmt.Errorf("cannot serialize nil operator")
	}
	return textOperator(op, 0)
}

func notText(format string, args ...any) error {
	return fmt.Errorf("%w as CQL text: %s", ErrNotExpressible, fmt.Sprintf(format, args...))
}

func textOperator(op Operator, parentPrecedence int) (string, error) {
	switch e := op.(type) {
	case *Logical:
		prec := logicalPrecedence(e.Op)
		if prec == 0 {
			return "", notText("logical operator %q", e.Op)
		}
		if len(e.Children) < 2 {
			return "", notText("%s with %d children", e.Op, len(e.Children))
		}
		parts := make([]string, len(e.Children))
		for i, child := range e.Children {
			s, err := textOperator(child, prec)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		result := strings.Join(parts, " "+strings.ToUpper(string(e.Op))+" ")
		if parentPrecedence > 0 {
			result = "(" + result + ")"
		}
		return result, nil

	case *Not:
		if e.Child == nil {
			return "", fmt.Errorf("%w: not without child", ErrUnsupportedNode)
		}
		inner, err := textOperator(e.Child, 3)
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil

	case *Comparison:
		if !validComparison(e.Op) {
			return "", notText("comparison %q", e.Op)
		}
		prefix, err := textAction(e.MatchAction)
		if err != nil {
			return "", err
		}
		left, err := textExpression(e.Left, false)
		if err != nil {
			return "", err
		}
		right, err := textExpression(e.Right, false)
		if err != nil {
			return "", err
		}
		return prefix + left + " " + string(e.Op) + " " + right + textCase(e.MatchCase), nil

	case *Between:
		prefix, err := textAction(e.MatchAction)
		if err != nil {
			return "", err
		}
		v, err := textExpression(e.Expr, false)
		if err != nil {
			return "", err
		}
		lo, err := textExpression(e.Lower, false)
		if err != nil {
			return "", err
		}
		hi, err := textExpression(e.Upper, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%s BETWEEN %s AND %s%s", prefix, v, lo, hi, textCase(e.MatchCase)), nil

	case *Like:
		prefix, err := textAction(e.MatchAction)
		if err != nil {
			return "", err
		}
		v, err := textExpression(e.Expr, false)
		if err != nil {
			return "", err
		}
		p, err := textExpression(e.Pattern, false)
		if err != nil {
			return "", err
		}
		kw := "LIKE"
		if !e.MatchCase {
			kw = "ILIKE"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s%s %s %s", prefix, v, kw, p)
		if e.Wildcard != "" {
			b.WriteString(" WILDCARD " + quote(e.Wildcard))
		}
		if e.SingleChar != "" {
			b.WriteString(" SINGLECHAR " + quote(e.SingleChar))
		}
		if e.Escape != "" {
			b.WriteString(" ESCAPE " + quote(e.Escape))
		}
		return b.String(), nil

	case *IsNull:
		prefix, err := textAction(e.MatchAction)
		if err != nil {
			return "", err
		}
		v, err := textExpression(e.Expr, false)
		if err != nil {
			return "", err
		}
		return prefix + v + " IS NULL", nil

	case *Spatial:
		return spatialText(e)

	case *IDFilter:
		if len(e.IDs) == 0 {
			return "", notText("empty identifier selection")
		}
		quoted := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			quoted[i] = quote(id)
		}
		return fmt.Sprintf("ID(%s)", strings.Join(quoted, ", ")), nil

	default:
		return "", fmt.Errorf("%w: operator %T", ErrUnsupportedNode, op)
	}
}

func validComparison(op ComparisonOp) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual:
		return true
	}
	return false
}

func textAction(a MatchAction) (string, error) {
	switch a {
	case "", MatchAny:
		return "", nil
	case MatchAll:
		return "ALL ", nil
	case MatchOne:
		return "ONE ", nil
	}
	return "", notText("match action %q", a)
}

func textCase(matchCase bool) string {
	if matchCase {
		return ""
	}
	return " NOCASE"
}

func spatialText(s *Spatial) (string, error) {
	name, ok := textSpatialNames[s.Op]
	if !ok {
		return "", notText("spatial operator %q", s.Op)
	}
	args := make([]string, 0, 4)
	if s.Target != nil {
		ref, ok := s.Target.(*ValueReference)
		if !ok {
			return "", notText("spatial target %T", s.Target)
		}
		t, err := textReference(ref)
		if err != nil {
			return "", err
		}
		args = append(args, t)
	}

	switch g := s.Geometry.(type) {
	case nil:
		if s.GeometryRef == nil {
			return "", fmt.Errorf("%w: %s without geometry", ErrUnsupportedNode, s.Op)
		}
		ref, err := textReference(s.GeometryRef)
		if err != nil {
			return "", err
		}
		args = append(args, ref)
	case orb.Bound:
		if s.Op == OpBBox {
			args = append(args, formatFloat(g.Min.X()), formatFloat(g.Min.Y()),
				formatFloat(g.Max.X()), formatFloat(g.Max.Y()))
		} else {
			args = append(args, fmt.Sprintf("ENVELOPE(%s, %s, %s, %s)",
				formatFloat(g.Min.X()), formatFloat(g.Max.X()),
				formatFloat(g.Max.Y()), formatFloat(g.Min.Y())))
		}
	default:
		if err := textGeometryOK(g); err != nil {
			return "", err
		}
		args = append(args, wkt.MarshalString(g))
	}
	if s.Geometry != nil && s.GeometryRef != nil {
		return "", notText("spatial operator with both a geometry and a reference")
	}

	if s.Distance != nil {
		if s.Target == nil && s.GeometryRef != nil {
			// OP(ref, d) would read back as a target followed by a geometry.
			return "", notText("distance on a geometry reference without a target")
		}
		args = append(args, formatFloat(s.Distance.Value))
		if s.Distance.Units != "" {
			if !textIdent(s.Distance.Units) {
				return "", notText("distance units %q", s.Distance.Units)
			}
			args = append(args, s.Distance.Units)
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")), nil
}

// textGeometryOK accepts the geometry kinds ParseText reads back.
func textGeometryOK(g orb.Geometry) error {
	switch g := g.(type) {
	case orb.Point:
		return nil
	case orb.LineString:
		if len(g) > 0 {
			return nil
		}
	case orb.Polygon:
		if polygonOK(g) {
			return nil
		}
	case orb.MultiPolygon:
		if len(g) == 0 {
			break
		}
		for _, p := range g {
			if !polygonOK(p) {
				return notText("empty polygon in multipolygon")
			}
		}
		return nil
	default:
		return notText("geometry %s", g.GeoJSONType())
	}
	return notText("empty %s", g.GeoJSONType())
}

func polygonOK(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, r := range p {
		if len(r) == 0 {
			return false
		}
	}
	return true
}

// textExpression renders an operand. Nested arithmetic is parenthesized so
// the left-associative grammar rebuilds the same tree.
func textExpression(expr Expression, nested bool) (string, error) {
	switch e := expr.(type) {
	case *ValueReference:
		return textReference(e)
	case *Literal:
		if e.Type != "" {
			return "", notText("typed literal %q", e.Type)
		}
		return textLiteral(e.Value)
	case *Arithmetic:
		switch e.Op {
		case OpAdd, OpSub, OpMul, OpDiv:
		default:
			return "", notText("arithmetic operator %q", e.Op)
		}
		left, err := textExpression(e.Left, true)
		if err != nil {
			return "", err
		}
		right, err := textExpression(e.Right, true)
		if err != nil {
			return "", err
		}
		s := left + " " + string(e.Op) + " " + right
		if nested {
			s = "(" + s + ")"
		}
		return s, nil
	case *Function:
		if !textIdent(e.Name) || strings.EqualFold(e.Name, "ID") {
			return "", notText("function name %q", e.Name)
		}
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := textExpression(a, false)
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", ")), nil
	default:
		return "", fmt.Errorf("%w: expression %T", ErrUnsupportedNode, expr)
	}
}

func textReference(v *ValueReference) (string, error) {
	if len(v.Namespaces) > 0 {
		return "", notText("namespace bindings on %s", v.Path)
	}
	if !textIdent(v.Path) {
		return "", notText("property name %q", v.Path)
	}
	return v.Path, nil
}

var (
	identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_:.]*$`)

	// reservedWords are lexed as keywords and cannot name properties.
	reservedWords = map[string]bool{
		"AND": true, "OR": true, "NOT": true, "LIKE": true, "ILIKE": true, "IS": true,
		"NULL": true, "BETWEEN": true, "POINT": true, "LINESTRING": true, "POLYGON": true,
		"MULTIPOLYGON": true, "ENVELOPE": true, "ANY": true, "ALL": true, "ONE": true,
		"NOCASE": true, "WILDCARD": true, "SINGLECHAR": true, "ESCAPE": true,
		"TIMESTAMP": true, "TRUE": true, "FALSE": true,
	}
)

func textIdent(s string) bool {
	if !identPattern.MatchString(s) {
		return false
	}
	u := strings.ToUpper(s)
	if reservedWords[u] {
		return false
	}
	_, spatial := textSpatialOps[u]
	return !spatial
}

func textLiteral(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(v), nil
	case bool:
		return strings.ToUpper(strconv.FormatBool(v)), nil
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return textFloat(float64(v))
	case float64:
		return textFloat(v)
	case time.Time:
		return "TIMESTAMP(" + quote(v.UTC().Format(time.RFC3339Nano)) + ")", nil
	default:
		return "", notText("literal of type %T", value)
	}
}

func textFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", notText("number %v", f)
	}
	return formatFloat(f), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func logicalPrecedence(op LogicalOp) int {
	switch op {
	case OpAnd:
		return 2
	case OpOr:
		return 1
	default:
		return 0
	}
}
