package filter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/paulmach/orb"
)

var (
	textParserOnce sync.Once
	textParser     *participle.Parser[textOr]
	textParserErr  error
)

func buildTextParser() (*participle.Parser[textOr], error) {
	textLexer := lexer.MustSimple([]lexer.SimpleRule{
		{Name: "whitespace", Pattern: `\s+`},
		{Name: "String", Pattern: `'(?:''|[^'])*'`},
		{Name: "Number", Pattern: `[-+]?\d*\.?\d+([eE][-+]?\d+)?`},
		// Compound operators first so "<=" is not lexed as "<" "=".
		{Name: "CompOp", Pattern: `<>|>=|<=|[=<>]`},
		{Name: "SpatialOp", Pattern: `(?i)\b(?:BBOX|INTERSECTS|WITHIN|CONTAINS|CROSSES|DISJOINT|TOUCHES|OVERLAPS|EQUALS|DWITHIN|BEYOND)\b`},
		{Name: "Keyword", Pattern: `(?i)\b(?:AND|OR|NOT|LIKE|ILIKE|IS|NULL|BETWEEN|POINT|LINESTRING|POLYGON|MULTIPOLYGON|ENVELOPE|ANY|ALL|ONE|NOCASE|WILDCARD|SINGLECHAR|ESCAPE|TIMESTAMP)\b`},
		{Name: "Boolean", Pattern: `(?i)\b(?:TRUE|FALSE)\b`},
		{Name: "Punct", Pattern: `[,()+\-*/]`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_:.]*`},
	})

	return participle.Build[textOr](
		participle.Lexer(textLexer),
		participle.Map(unquoteCQL, "String"),
		participle.CaseInsensitive("SpatialOp", "Keyword", "Boolean"),
		// A leading "(" opens either a group or an arithmetic operand, so
		// branches must be able to back out of arbitrarily long prefixes.
		participle.UseLookahead(participle.MaxLookahead),
	)
}

// unquoteCQL strips the surrounding quotes and collapses doubled quotes.
func unquoteCQL(tok lexer.Token) (lexer.Token, error) {
	v := tok.Value
	tok.Value = strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	return tok, nil
}

// CQL text grammar. Precedence is NOT > AND > OR; in operands * and / bind
// tighter than + and -, all left-associative.

type textOr struct {
	Left  *textAnd   `@@`
	Right []*textAnd `( "OR" @@ )*`
}

type textAnd struct {
	Left  *textUnary   `@@`
	Right []*textUnary `( "AND" @@ )*`
}

type textUnary struct {
	Not     *textUnary   `  "NOT" @@`
	Primary *textPrimary `| @@`
}

type textPrimary struct {
	Group     *textOr        `  "(" @@ ")"`
	Spatial   *textSpatial   `| @@`
	IDs       *textIDs       `| @@`
	Predicate *textPredicate `| @@`
}

type textIDs struct {
	IDs []string `"ID" "(" @String ( "," @String )* ")"`
}

type textSpatial struct {
	Op       string        `@SpatialOp "("`
	Property *string       `( @Ident "," )?`
	Extent   []float64     `(   @Number "," @Number "," @Number "," @Number`
	Geometry *textGeometry `  | @@`
	Ref      *string       `  | @Ident )`
	Distance *float64      `( "," @Number`
	Units    string        `  ( "," @Ident )? )? ")"`
}

type textGeometry struct {
	Point        *textCoord     `  "POINT" "(" @@ ")"`
	LineString   []*textCoord   `| "LINESTRING" "(" @@ ( "," @@ )* ")"`
	Polygon      []*textRing    `| "POLYGON" "(" @@ ( "," @@ )* ")"`
	MultiPolygon []*textPolygon `| "MULTIPOLYGON" "(" @@ ( "," @@ )* ")"`
	Envelope     []float64      `| "ENVELOPE" "(" @Number "," @Number "," @Number "," @Number ")"`
}

type textPolygon struct {
	Rings []*textRing `"(" @@ ( "," @@ )* ")"`
}

type textRing struct {
	Coords []*textCoord `"(" @@ ( "," @@ )* ")"`
}

type textCoord struct {
	X float64 `@Number`
	Y float64 `@Number`
}

type textPredicate struct {
	Action     string          `@( "ANY" | "ALL" | "ONE" )?`
	Operand    *textExpr       `@@`
	Comparison *textComparison `(  @@`
	Between    *textBetween    ` | @@`
	Like       *textLike       ` | @@`
	Null       *textNull       ` | @@ )`
}

type textComparison struct {
	Op     string    `@CompOp`
	Value  *textExpr `@@`
	NoCase bool      `@"NOCASE"?`
}

type textBetween struct {
	Lower  *textExpr `"BETWEEN" @@`
	Upper  *textExpr `"AND" @@`
	NoCase bool      `@"NOCASE"?`
}

type textLike struct {
	Keyword    string    `@( "LIKE" | "ILIKE" )`
	Pattern    *textExpr `@@`
	Wildcard   string    `( "WILDCARD" @String )?`
	SingleChar string    `( "SINGLECHAR" @String )?`
	Escape     string    `( "ESCAPE" @String )?`
}

type textNull struct {
	Not bool `"IS" @"NOT"? "NULL"`
}

type textExpr struct {
	Left  *textTerm     `@@`
	Right []*textOpTerm `@@*`
}

type textOpTerm struct {
	Op   string    `@( "+" | "-" )`
	Term *textTerm `@@`
}

type textTerm struct {
	Left  *textFactor     `@@`
	Right []*textOpFactor `@@*`
}

type textOpFactor struct {
	Op     string      `@( "*" | "/" )`
	Factor *textFactor `@@`
}

type textFactor struct {
	Group     *textExpr     `  "(" @@ ")"`
	Timestamp *string       `| "TIMESTAMP" "(" @String ")"`
	Function  *textFunction `| @@`
	Value     *textValue    `| @@`
	Property  *string       `| @Ident`
}

type textFunction struct {
	Name string      `@Ident "("`
	Args []*textExpr `( @@ ( "," @@ )* )? ")"`
}

type textValue struct {
	String  *string  `  @String`
	Number  *float64 `| @Number`
	Boolean *string  `| @Boolean`
	Null    bool     `| @"NULL"`
}

// ParseText parses a CQL text constraint, e.g.
//
//	dc:title LIKE '%river%' AND BBOX(ows:BoundingBox, -10, 40, 5, 55)
func ParseText(input string) (Operator, error) {
	textParserOnce.Do(func() {
		textParser, textParserErr = buildTextParser()
	})
	if textParserErr != nil {
		return nil, fmt.Errorf("failed to build parser: %w", textParserErr)
	}
	ast, err := textParser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return convertOr(ast)
}

func convertOr(n *textOr) (Operator, error) {
	left, err := convertAnd(n.Left)
	if err != nil || len(n.Right) == 0 {
		return left, err
	}
	children := []Operator{left}
	for _, r := range n.Right {
		child, err := convertAnd(r)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Logical{Op: OpOr, Children: children}, nil
}

func convertAnd(n *textAnd) (Operator, error) {
	left, err := convertUnary(n.Left)
	if err != nil || len(n.Right) == 0 {
		return left, err
	}
	children := []Operator{left}
	for _, r := range n.Right {
		child, err := convertUnary(r)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Logical{Op: OpAnd, Children: children}, nil
}

func convertUnary(n *textUnary) (Operator, error) {
	if n.Not != nil {
		child, err := convertUnary(n.Not)
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	p := n.Primary
	switch {
	case p.Group != nil:
		return convertOr(p.Group)
	case p.Spatial != nil:
		return convertSpatial(p.Spatial), nil
	case p.IDs != nil:
		return &IDFilter{IDs: p.IDs.IDs}, nil
	default:
		return convertPredicate(p.Predicate)
	}
}

func convertPredicate(p *textPredicate) (Operator, error) {
	action := MatchAny
	switch strings.ToUpper(p.Action) {
	case "ALL":
		action = MatchAll
	case "ONE":
		action = MatchOne
	}
	operand, err := convertExpr(p.Operand)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Comparison != nil:
		right, err := convertExpr(p.Comparison.Value)
		if err != nil {
			return nil, err
		}
		return &Comparison{
			Op:          ComparisonOp(p.Comparison.Op),
			Left:        operand,
			Right:       right,
			MatchCase:   !p.Comparison.NoCase,
			MatchAction: action,
		}, nil
	case p.Between != nil:
		lower, err := convertExpr(p.Between.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := convertExpr(p.Between.Upper)
		if err != nil {
			return nil, err
		}
		return &Between{
			Expr:        operand,
			Lower:       lower,
			Upper:       upper,
			MatchCase:   !p.Between.NoCase,
			MatchAction: action,
		}, nil
	case p.Like != nil:
		pattern, err := convertExpr(p.Like.Pattern)
		if err != nil {
			return nil, err
		}
		return &Like{
			Expr:        operand,
			Pattern:     pattern,
			Wildcard:    p.Like.Wildcard,
			SingleChar:  p.Like.SingleChar,
			Escape:      p.Like.Escape,
			MatchCase:   strings.EqualFold(p.Like.Keyword, "LIKE"),
			MatchAction: action,
		}, nil
	default:
		var op Operator = &IsNull{Expr: operand, MatchAction: action}
		if p.Null.Not {
			op = &Not{Child: op}
		}
		return op, nil
	}
}

func convertExpr(e *textExpr) (Expression, error) {
	left, err := convertTerm(e.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range e.Right {
		right, err := convertTerm(r.Term)
		if err != nil {
			return nil, err
		}
		left = &Arithmetic{Op: ArithmeticOp(r.Op), Left: left, Right: right}
	}
	return left, nil
}

func convertTerm(t *textTerm) (Expression, error) {
	left, err := convertFactor(t.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range t.Right {
		right, err := convertFactor(r.Factor)
		if err != nil {
			return nil, err
		}
		left = &Arithmetic{Op: ArithmeticOp(r.Op), Left: left, Right: right}
	}
	return left, nil
}

func convertFactor(f *textFactor) (Expression, error) {
	switch {
	case f.Group != nil:
		return convertExpr(f.Group)
	case f.Timestamp != nil:
		ts, err := time.Parse(time.RFC3339Nano, *f.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", *f.Timestamp, err)
		}
		return Lit(ts.UTC()), nil
	case f.Function != nil:
		args := make([]Expression, 0, len(f.Function.Args))
		for _, a := range f.Function.Args {
			arg, err := convertExpr(a)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		return &Function{Name: f.Function.Name, Args: args}, nil
	case f.Value != nil:
		return convertValue(f.Value), nil
	default:
		return Property(*f.Property), nil
	}
}

func convertSpatial(s *textSpatial) Operator {
	out := &Spatial{Op: textSpatialOps[strings.ToUpper(s.Op)]}
	if s.Property != nil {
		out.Target = Property(*s.Property)
	}
	switch {
	case len(s.Extent) == 4:
		out.Geometry = orb.Bound{
			Min: orb.Point{s.Extent[0], s.Extent[1]},
			Max: orb.Point{s.Extent[2], s.Extent[3]},
		}
	case s.Geometry != nil:
		out.Geometry = convertGeometry(s.Geometry)
	case s.Ref != nil:
		out.GeometryRef = Property(*s.Ref)
	}
	if s.Distance != nil {
		out.Distance = &Measure{Value: *s.Distance, Units: s.Units}
	}
	return out
}

func convertGeometry(g *textGeometry) orb.Geometry {
	switch {
	case g.Point != nil:
		return orb.Point{g.Point.X, g.Point.Y}
	case len(g.Envelope) == 4:
		// ENVELOPE(minX, maxX, maxY, minY)
		return orb.Bound{
			Min: orb.Point{g.Envelope[0], g.Envelope[3]},
			Max: orb.Point{g.Envelope[1], g.Envelope[2]},
		}
	case g.LineString != nil:
		return orb.LineString(convertCoords(g.LineString))
	case g.MultiPolygon != nil:
		mp := make(orb.MultiPolygon, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			mp[i] = convertRings(p.Rings)
		}
		return mp
	default:
		return convertRings(g.Polygon)
	}
}

func convertRings(rings []*textRing) orb.Polygon {
	poly := make(orb.Polygon, len(rings))
	for i, ring := range rings {
		poly[i] = orb.Ring(convertCoords(ring.Coords))
	}
	return poly
}

func convertCoords(coords []*textCoord) []orb.Point {
	pts := make([]orb.Point, len(coords))
	for i, c := range coords {
		pts[i] = orb.Point{c.X, c.Y}
	}
	return pts
}

var textSpatialOps = map[string]SpatialOp{
	"BBOX":       OpBBox,
	"INTERSECTS": OpIntersects,
	"WITHIN":     OpWithin,
	"CONTAINS":   OpContains,
	"CROSSES":    OpCrosses,
	"DISJOINT":   OpDisjoint,
	"TOUCHES":    OpTouches,
	"OVERLAPS":   OpOverlaps,
	"EQUALS":     OpEquals,
	"DWITHIN":    OpDWithin,
	"BEYOND":     OpBeyond,
}

var textSpatialNames = func() map[SpatialOp]string {
	m := make(map[SpatialOp]string, len(textSpatialOps))
	for name, op := range textSpatialOps {
		m[op] = name
	}
	return m
}()

func convertValue(v *textValue) Expression {
	switch {
	case v.String != nil:
		return Lit(*v.String)
	case v.Number != nil:
		return Lit(*v.Number)
	case v.Boolean != nil:
		return Lit(strings.EqualFold(*v.Boolean, "true"))
	default:
		return Lit(nil)
	}
}
