package memstore

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

// ErrUnsupported is returned for filter constructs the evaluator cannot run.
var ErrUnsupported = errors.New("memstore: unsupported filter construct")

const defaultGeometryProperty = "ows:BoundingBox"

// Match evaluates op against rec. A nil filter matches every record.
func Match(op filter.Operator, rec *discovery.Record) (bool, error) {
	if op == nil {
		return true, nil
	}
	switch o := op.(type) {
	case *filter.Logical:
		for _, child := range o.Children {
			ok, err := Match(child, rec)
			if err != nil {
				return false, err
			}
			if o.Op == filter.OpAnd && !ok {
				return false, nil
			}
			if o.Op == filter.OpOr && ok {
				return true, nil
			}
		}
		return o.Op == filter.OpAnd, nil
	case *filter.Not:
		ok, err := Match(o.Child, rec)
		return !ok, err
	case *filter.Comparison:
		return matchComparison(o, rec)
	case *filter.Between:
		return matchBetween(o, rec)
	case *filter.Like:
		return matchLike(o, rec)
	case *filter.IsNull:
		vals, err := eval(o.Expr, rec)
		return len(vals) == 0, err
	case *filter.Spatial:
		return matchSpatial(o, rec)
	case *filter.IDFilter:
		for _, id := range o.IDs {
			if id == rec.ID {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: operator %T", ErrUnsupported, op)
}

// quantify applies a match action to the per-value outcomes.
func quantify(action filter.MatchAction, outcomes []bool) bool {
	hits := 0
	for _, ok := range outcomes {
		if ok {
			hits++
		}
	}
	switch action {
	case filter.MatchAll:
		return len(outcomes) > 0 && hits == len(outcomes)
	case filter.MatchOne:
		return hits == 1
	default:
		return hits > 0
	}
}

func matchComparison(c *filter.Comparison, rec *discovery.Record) (bool, error) {
	left, err := eval(c.Left, rec)
	if err != nil {
		return false, err
	}
	right, err := eval(c.Right, rec)
	if err != nil {
		return false, err
	}
	var outcomes []bool
	for _, l := range left {
		for _, r := range right {
			n, ok := compare(l, r, c.MatchCase)
			if !ok {
				outcomes = append(outcomes, c.Op == filter.OpNotEqual)
				continue
			}
			outcomes = append(outcomes, holds(c.Op, n))
		}
	}
	return quantify(c.MatchAction, outcomes), nil
}

func holds(op filter.ComparisonOp, n int) bool {
	switch op {
	case filter.OpEqual:
		return n == 0
	case filter.OpNotEqual:
		return n != 0
	case filter.OpLessThan:
		return n < 0
	case filter.OpLessOrEqual:
		return n <= 0
	case filter.OpGreaterThan:
		return n > 0
	case filter.OpGreaterOrEqual:
		return n >= 0
	}
	return false
}

func matchBetween(b *filter.Between, rec *discovery.Record) (bool, error) {
	vals, err := eval(b.Expr, rec)
	if err != nil {
		return false, err
	}
	lower, err := first(b.Lower, rec)
	if err != nil {
		return false, err
	}
	upper, err := first(b.Upper, rec)
	if err != nil {
		return false, err
	}
	outcomes := make([]bool, 0, len(vals))
	for _, v := range vals {
		lo, okLo := compare(v, lower, b.MatchCase)
		hi, okHi := compare(v, upper, b.MatchCase)
		outcomes = append(outcomes, okLo && okHi && lo >= 0 && hi <= 0)
	}
	return quantify(b.MatchAction, outcomes), nil
}

func matchLike(l *filter.Like, rec *discovery.Record) (bool, error) {
	vals, err := eval(l.Expr, rec)
	if err != nil {
		return false, err
	}
	pattern, err := first(l.Pattern, rec)
	if err != nil {
		return false, err
	}
	ps, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("%w: non-text like pattern %T", ErrUnsupported, pattern)
	}
	re, err := likeRegexp(ps, l)
	if err != nil {
		return false, err
	}
	outcomes := make([]bool, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		outcomes = append(outcomes, ok && re.MatchString(s))
	}
	return quantify(l.MatchAction, outcomes), nil
}

// likeRegexp compiles a like pattern. The wildcard defaults to "%", the
// single character to "_" and the escape to "\".
func likeRegexp(pattern string, l *filter.Like) (*regexp.Regexp, error) {
	wildcard, single, escape := orDefault(l.Wildcard, "%"), orDefault(l.SingleChar, "_"), orDefault(l.Escape, "\\")

	var b strings.Builder
	if !l.MatchCase {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	for i := 0; i < len(pattern); {
		rest := pattern[i:]
		switch {
		case strings.HasPrefix(rest, escape) && len(rest) > len(escape):
			_, size := utf8.DecodeRuneInString(rest[len(escape):])
			b.WriteString(regexp.QuoteMeta(rest[len(escape) : len(escape)+size]))
			i += len(escape) + size
		case strings.HasPrefix(rest, wildcard):
			b.WriteString(".*")
			i += len(wildcard)
		case strings.HasPrefix(rest, single):
			b.WriteString(".")
			i += len(single)
		default:
			_, size := utf8.DecodeRuneInString(rest)
			b.WriteString(regexp.QuoteMeta(rest[:size]))
			i += size
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// -----------------------------------------------------------------------------
// Spatial predicates, evaluated on bounding boxes
// -----------------------------------------------------------------------------

func matchSpatial(s *filter.Spatial, rec *discovery.Record) (bool, error) {
	path := defaultGeometryProperty
	if s.Target != nil {
		ref, ok := s.Target.(*filter.ValueReference)
		if !ok {
			return false, fmt.Errorf("%w: spatial target %T", ErrUnsupported, s.Target)
		}
		path = ref.Path
	}
	own, ok := boundOf(rec, path)
	if !ok {
		return false, nil
	}

	var other orb.Bound
	switch {
	case s.Geometry != nil:
		other = s.Geometry.Bound()
	case s.GeometryRef != nil:
		b, ok := boundOf(rec, s.GeometryRef.Path)
		if !ok {
			return false, nil
		}
		other = b
	default:
		return false, fmt.Errorf("%w: spatial %s without geometry", ErrUnsupported, s.Op)
	}

	if s.Op.IsDistance() {
		if s.Distance == nil {
			return false, fmt.Errorf("%w: %s without distance", ErrUnsupported, s.Op)
		}
		limit, err := degrees(s.Distance)
		if err != nil {
			return false, err
		}
		d := boundDistance(own, other)
		if s.Op == filter.OpDWithin {
			return d <= limit, nil
		}
		return d > limit, nil
	}

	intersects := own.Intersects(other)
	within := containsBound(other, own)
	contains := containsBound(own, other)
	switch s.Op {
	case filter.OpBBox, filter.OpIntersects:
		return intersects, nil
	case filter.OpDisjoint:
		return !intersects, nil
	case filter.OpWithin:
		return within, nil
	case filter.OpContains:
		return contains, nil
	case filter.OpEquals:
		return own.Equal(other), nil
	case filter.OpTouches:
		return intersects && touchEdges(own, other), nil
	case filter.OpOverlaps, filter.OpCrosses:
		return intersects && !within && !contains && !touchEdges(own, other), nil
	}
	return false, fmt.Errorf("%w: spatial operator %q", ErrUnsupported, s.Op)
}

func boundOf(rec *discovery.Record, path string) (orb.Bound, bool) {
	vals, _ := rec.Values(path)
	for _, v := range vals {
		switch g := v.(type) {
		case orb.Bound:
			return g, true
		case orb.Geometry:
			return g.Bound(), true
		}
	}
	return orb.Bound{}, false
}

func containsBound(outer, inner orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}

// touchEdges reports whether two intersecting bounds only share an edge.
func touchEdges(a, b orb.Bound) bool {
	return a.Max.X() == b.Min.X() || a.Min.X() == b.Max.X() ||
		a.Max.Y() == b.Min.Y() || a.Min.Y() == b.Max.Y()
}

// boundDistance is the planar distance between the closest points of two
// bounds, zero when they intersect.
func boundDistance(a, b orb.Bound) float64 {
	dx := math.Max(0, math.Max(b.Min.X()-a.Max.X(), a.Min.X()-b.Max.X()))
	dy := math.Max(0, math.Max(b.Min.Y()-a.Max.Y(), a.Min.Y()-b.Max.Y()))
	return planar.Distance(orb.Point{0, 0}, orb.Point{dx, dy})
}

func degrees(m *filter.Measure) (float64, error) {
	d, ok := m.Degrees()
	if !ok {
		return 0, fmt.Errorf("%w: distance units %q", ErrUnsupported, m.Units)
	}
	return d, nil
}

// -----------------------------------------------------------------------------
// Expressions
// -----------------------------------------------------------------------------

func first(e filter.Expression, rec *discovery.Record) (any, error) {
	vals, err := eval(e, rec)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0], nil
}

func eval(e filter.Expression, rec *discovery.Record) ([]any, error) {
	switch x := e.(type) {
	case *filter.Literal:
		if x.Value == nil {
			return nil, nil
		}
		return []any{x.Value}, nil
	case *filter.ValueReference:
		vals, _ := rec.Values(x.Path)
		return vals, nil
	case *filter.Arithmetic:
		return evalArithmetic(x, rec)
	case *filter.Function:
		return evalFunction(x, rec)
	}
	return nil, fmt.Errorf("%w: expression %T", ErrUnsupported, e)
}

func evalArithmetic(a *filter.Arithmetic, rec *discovery.Record) ([]any, error) {
	left, err := eval(a.Left, rec)
	if err != nil {
		return nil, err
	}
	right, err := eval(a.Right, rec)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, l := range left {
		lf, ok := toFloat(l)
		if !ok {
			continue
		}
		for _, r := range right {
			rf, ok := toFloat(r)
			if !ok {
				continue
			}
			switch a.Op {
			case filter.OpAdd:
				out = append(out, lf+rf)
			case filter.OpSub:
				out = append(out, lf-rf)
			case filter.OpMul:
				out = append(out, lf*rf)
			case filter.OpDiv:
				if rf == 0 {
					return nil, errors.New("memstore: division by zero")
				}
				out = append(out, lf/rf)
			default:
				return nil, fmt.Errorf("%w: arithmetic %q", ErrUnsupported, a.Op)
			}
		}
	}
	return out, nil
}

func evalFunction(f *filter.Function, rec *discovery.Record) ([]any, error) {
	if len(f.Args) != 1 {
		return nil, fmt.Errorf("%w: function %s/%d", ErrUnsupported, f.Name, len(f.Args))
	}
	args, err := eval(f.Args[0], rec)
	if err != nil {
		return nil, err
	}
	var apply func(string) any
	switch strings.ToLower(f.Name) {
	case "upper":
		apply = func(s string) any { return strings.ToUpper(s) }
	case "lower":
		apply = func(s string) any { return strings.ToLower(s) }
	case "strlen":
		apply = func(s string) any { return float64(utf8.RuneCountInString(s)) }
	default:
		return nil, fmt.Errorf("%w: function %q", ErrUnsupported, f.Name)
	}
	out := make([]any, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			out = append(out, apply(s))
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Value comparison
// -----------------------------------------------------------------------------

// compare orders two scalar values. Numbers compare numerically, dates
// chronologically and text lexically; the second result is false when the
// values are not comparable.
func compare(a, b any, matchCase bool) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb), true
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := toBool(b); ok {
			return cmp.Compare(boolRank(ba), boolRank(bb)), true
		}
		return 0, false
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	if !matchCase {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
