package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"gorm.io/gorm"
)

// ErrNotTranslatable is returned for filter constructs with no SQL form.
var ErrNotTranslatable = errors.New("sqlstore: filter not translatable to SQL")

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

const defaultGeometryProperty = "ows:BoundingBox"

// subjectValue is the value column of the correlated subjects subquery.
const subjectValue = `s."value"`

func notTranslatable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotTranslatable, fmt.Sprintf(format, args...))
}

func getDatabaseDialect(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return dialectSQLite
	}
	return db.Dialector.Name()
}

// quoteIdent quotes an identifier with double quotes, which sqlite and
// postgres both accept. Embedded quotes are doubled.
func quoteIdent(ident string) string {
	if ident == "" {
		return ident
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func column(name string) string {
	return quoteIdent(recordsTable) + "." + quoteIdent(name)
}

var coreColumns = map[string]string{
	discovery.PropIdentifier: "id",
	discovery.PropTitle:      "title",
	discovery.PropAbstract:   "abstract",
	discovery.PropType:       "type",
	discovery.PropFormat:     "format",
	discovery.PropModified:   "modified",
	discovery.PropAnyText:    "any_text",
}

var comparisonOps = map[filter.ComparisonOp]string{
	filter.OpEqual:          "=",
	filter.OpNotEqual:       "<>",
	filter.OpLessThan:       "<",
	filter.OpLessOrEqual:    "<=",
	filter.OpGreaterThan:    ">",
	filter.OpGreaterOrEqual: ">=",
}

// operand is an SQL value expression with its bind variables. A multi
// operand ranges over the subjects of a record and has to be quantified.
type operand struct {
	sql      string
	args     []any
	literal  bool
	textual  bool
	temporal bool
	multi    bool
}

// translator renders filter trees as parameterized WHERE conditions for one
// SQL dialect.
type translator struct {
	dialect string
}

// buildFilterCondition renders op. A nil filter matches every row.
func (t translator) buildFilterCondition(op filter.Operator) (string, []any, error) {
	switch o := op.(type) {
	case nil:
		return "1 = 1", nil, nil
	case *filter.Logical:
		return t.buildLogicalCondition(o)
	case *filter.Not:
		query, args, err := t.buildFilterCondition(o.Child)
		if err != nil {
			return "", nil, err
		}
		// Missing values compare as NULL; NOT must still flip them to true.
		return fmt.Sprintf("NOT (COALESCE((%s), FALSE))", query), args, nil
	case *filter.Comparison:
		return t.buildComparisonCondition(o)
	case *filter.Between:
		return t.buildBetweenCondition(o)
	case *filter.Like:
		return t.buildLikeCondition(o)
	case *filter.IsNull:
		return t.buildNullCondition(o)
	case *filter.Spatial:
		return t.buildSpatialCondition(o)
	case *filter.IDFilter:
		if len(o.IDs) == 0 {
			return "1 = 0", nil, nil
		}
		return column("id") + " IN ?", []any{o.IDs}, nil
	}
	return "", nil, notTranslatable("operator %T", op)
}

func (t translator) buildLogicalCondition(l *filter.Logical) (string, []any, error) {
	var joiner string
	switch l.Op {
	case filter.OpAnd:
		if len(l.Children) == 0 {
			return "1 = 1", nil, nil
		}
		joiner = " AND "
	case filter.OpOr:
		if len(l.Children) == 0 {
			return "1 = 0", nil, nil
		}
		joiner = " OR "
	default:
		return "", nil, notTranslatable("logical operator %q", l.Op)
	}

	parts := make([]string, 0, len(l.Children))
	var args []any
	for _, child := range l.Children {
		query, childArgs, err := t.buildFilterCondition(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+query+")")
		args = append(args, childArgs...)
	}
	return strings.Join(parts, joiner), args, nil
}

func (t translator) buildComparisonCondition(c *filter.Comparison) (string, []any, error) {
	sqlOp, ok := comparisonOps[c.Op]
	if !ok {
		return "", nil, notTranslatable("comparison %q", c.Op)
	}
	ops, multi, err := t.operands(c.Left, c.Right)
	if err != nil {
		return "", nil, err
	}
	left, right := t.cased(ops[0], ops, c.MatchCase), t.cased(ops[1], ops, c.MatchCase)
	query := fmt.Sprintf("%s %s %s", left, sqlOp, right)
	return t.quantify(multi, c.MatchAction, query, joinArgs(ops))
}

func (t translator) buildBetweenCondition(b *filter.Between) (string, []any, error) {
	ops, multi, err := t.operands(b.Expr, b.Lower, b.Upper)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("%s BETWEEN %s AND %s",
		t.cased(ops[0], ops, b.MatchCase), t.cased(ops[1], ops, b.MatchCase), t.cased(ops[2], ops, b.MatchCase))
	return t.quantify(multi, b.MatchAction, query, joinArgs(ops))
}

func (t translator) buildLikeCondition(l *filter.Like) (string, []any, error) {
	lit, ok := l.Pattern.(*filter.Literal)
	if !ok {
		return "", nil, notTranslatable("like pattern %T", l.Pattern)
	}
	pattern, ok := lit.Value.(string)
	if !ok {
		return "", nil, notTranslatable("like pattern %T", lit.Value)
	}
	value, err := t.expression(l.Expr, nil)
	if err != nil {
		return "", nil, err
	}

	wildcard, single, escape := orDefault(l.Wildcard, "%"), orDefault(l.SingleChar, "_"), orDefault(l.Escape, `\`)
	var query string
	var arg string
	switch {
	case !l.MatchCase && t.dialect == dialectPostgres:
		query, arg = value.sql+` ILIKE ? ESCAPE '\'`, likePattern(pattern, wildcard, single, escape)
	case !l.MatchCase:
		query, arg = value.sql+` LIKE ? ESCAPE '\'`, likePattern(pattern, wildcard, single, escape)
	case t.dialect == dialectSQLite:
		// sqlite LIKE ignores ASCII case; GLOB does not.
		query, arg = value.sql+" GLOB ?", globPattern(pattern, wildcard, single, escape)
	default:
		query, arg = value.sql+` LIKE ? ESCAPE '\'`, likePattern(pattern, wildcard, single, escape)
	}
	args := append(append([]any{}, value.args...), arg)
	return t.quantify(value.multi, l.MatchAction, query, args)
}

func (t translator) buildNullCondition(n *filter.IsNull) (string, []any, error) {
	ref, ok := n.Expr.(*filter.ValueReference)
	if !ok {
		return "", nil, notTranslatable("is null on %T", n.Expr)
	}
	switch discovery.CanonicalProperty(ref.Path) {
	case discovery.PropSubject:
		return "NOT EXISTS (SELECT 1 " + subjectsFrom() + ")", nil, nil
	case discovery.PropBoundingBox:
		return column("min_x") + " IS NULL", nil, nil
	}
	value, err := t.property(ref.Path, nil)
	if err != nil {
		return "", nil, err
	}
	return value.sql + " IS NULL", value.args, nil
}

// operands renders a comparison's expressions. A literal operand takes its
// type from the column it is compared with.
func (t translator) operands(exprs ...filter.Expression) ([]operand, bool, error) {
	var hint any
	for _, e := range exprs {
		if lit, ok := e.(*filter.Literal); ok && lit.Value != nil {
			hint = lit.Value
			break
		}
	}

	ops := make([]operand, len(exprs))
	textual, temporal, multi := false, false, 0
	for i, e := range exprs {
		op, err := t.expression(e, hint)
		if err != nil {
			return nil, false, err
		}
		ops[i] = op
		textual = textual || op.textual
		temporal = temporal || op.temporal
		if op.multi {
			multi++
		}
	}
	if multi > 1 {
		return nil, false, notTranslatable("comparison between two multi-valued properties")
	}

	for i := range ops {
		if !ops[i].literal || len(ops[i].args) != 1 {
			continue
		}
		switch {
		case temporal:
			ops[i].args[0] = timeArg(ops[i].args[0])
		case textual:
			ops[i].args[0] = textArg(ops[i].args[0])
		}
		ops[i].textual = textual
	}
	return ops, multi == 1, nil
}

// cased lowers a textual operand when the comparison ignores case.
func (t translator) cased(op operand, all []operand, matchCase bool) string {
	if matchCase {
		return op.sql
	}
	for _, o := range all {
		if o.textual {
			return "LOWER(" + op.sql + ")"
		}
	}
	return op.sql
}

func (t translator) expression(e filter.Expression, hint any) (operand, error) {
	switch x := e.(type) {
	case *filter.Literal:
		return operand{sql: "?", args: []any{x.Value}, literal: true}, nil
	case *filter.ValueReference:
		return t.property(x.Path, hint)
	case *filter.Function:
		return t.function(x, hint)
	case *filter.Arithmetic:
		left, err := t.expression(x.Left, float64(0))
		if err != nil {
			return operand{}, err
		}
		right, err := t.expression(x.Right, float64(0))
		if err != nil {
			return operand{}, err
		}
		if left.multi || right.multi {
			return operand{}, notTranslatable("arithmetic on a multi-valued property")
		}
		return operand{
			sql:  fmt.Sprintf("(%s %s %s)", t.numeric(left.sql), x.Op, t.numeric(right.sql)),
			args: joinArgs([]operand{left, right}),
		}, nil
	}
	return operand{}, notTranslatable("expression %T", e)
}

func (t translator) function(f *filter.Function, hint any) (operand, error) {
	if len(f.Args) != 1 {
		return operand{}, notTranslatable("function %s with %d arguments", f.Name, len(f.Args))
	}
	arg, err := t.expression(f.Args[0], hint)
	if err != nil {
		return operand{}, err
	}
	switch strings.ToLower(f.Name) {
	case "upper":
		arg.sql, arg.textual = "UPPER("+arg.sql+")", true
	case "lower":
		arg.sql, arg.textual = "LOWER("+arg.sql+")", true
	case "strlen":
		arg.sql, arg.textual = "LENGTH("+arg.sql+")", false
	default:
		return operand{}, notTranslatable("function %q", f.Name)
	}
	arg.literal, arg.temporal = false, false
	return arg, nil
}

// property resolves a property path to a column, the subjects subquery
// value or a JSON lookup in the properties column.
func (t translator) property(path string, hint any) (operand, error) {
	canonical := discovery.CanonicalProperty(path)
	if name, ok := coreColumns[canonical]; ok {
		return operand{
			sql:      column(name),
			textual:  true,
			temporal: canonical == discovery.PropModified,
		}, nil
	}
	switch canonical {
	case discovery.PropSubject:
		return operand{sql: subjectValue, textual: true, multi: true}, nil
	case discovery.PropBoundingBox:
		return operand{}, notTranslatable("%s outside a spatial operator", path)
	}
	return t.jsonProperty(path, hint)
}

// jsonProperty looks path up in the properties document, falling back to
// its local name the way records resolve properties in memory.
func (t translator) jsonProperty(path string, hint any) (operand, error) {
	keys := []string{path}
	if i := strings.LastIndexByte(path, ':'); i >= 0 && i < len(path)-1 {
		keys = append(keys, path[i+1:])
	}

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if strings.ContainsAny(key, `"\`) {
			return operand{}, notTranslatable("property name %q", key)
		}
		switch t.dialect {
		case dialectPostgres:
			expr := "(" + column("properties") + "::jsonb ->> ?)"
			switch hint.(type) {
			case float64, int, int64:
				expr = "CAST(" + expr + " AS DOUBLE PRECISION)"
			case bool:
				expr = "CAST(" + expr + " AS BOOLEAN)"
			}
			parts = append(parts, expr)
			args = append(args, key)
		default:
			parts = append(parts, "json_extract("+column("properties")+", ?)")
			args = append(args, `$."`+key+`"`)
		}
	}

	sql := parts[0]
	if len(parts) > 1 {
		sql = "COALESCE(" + strings.Join(parts, ", ") + ")"
	}
	_, isText := hint.(string)
	return operand{sql: sql, args: args, textual: isText}, nil
}

func (t translator) numeric(sql string) string {
	if t.dialect == dialectPostgres {
		return "CAST(" + sql + " AS DOUBLE PRECISION)"
	}
	return "CAST(" + sql + " AS REAL)"
}

func (t translator) greatest() string {
	if t.dialect == dialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

// quantify applies a match action to a predicate over the subjects
// subquery. Single-valued predicates pass through.
func (t translator) quantify(multi bool, action filter.MatchAction, pred string, args []any) (string, []any, error) {
	if !multi {
		return pred, args, nil
	}
	from := subjectsFrom()
	switch action {
	case filter.MatchAll:
		return fmt.Sprintf("EXISTS (SELECT 1 %s) AND NOT EXISTS (SELECT 1 %s AND NOT (%s))", from, from, pred), args, nil
	case filter.MatchOne:
		return fmt.Sprintf("(SELECT COUNT(*) %s AND (%s)) = 1", from, pred), args, nil
	default:
		return fmt.Sprintf("EXISTS (SELECT 1 %s AND (%s))", from, pred), args, nil
	}
}

func subjectsFrom() string {
	return fmt.Sprintf(`FROM %s s WHERE s."record_id" = %s`, quoteIdent(subjectsTable), column("id"))
}

// -----------------------------------------------------------------------------
// Spatial predicates, as bounding-box arithmetic
// -----------------------------------------------------------------------------

func (t translator) buildSpatialCondition(s *filter.Spatial) (string, []any, error) {
	path := defaultGeometryProperty
	if s.Target != nil {
		ref, ok := s.Target.(*filter.ValueReference)
		if !ok {
			return "", nil, notTranslatable("spatial target %T", s.Target)
		}
		path = ref.Path
	}
	if discovery.CanonicalProperty(path) != discovery.PropBoundingBox {
		return "", nil, notTranslatable("spatial operator on %s", path)
	}
	if s.GeometryRef != nil {
		return "", nil, notTranslatable("spatial operator against property %s", s.GeometryRef.Path)
	}
	if s.Geometry == nil {
		return "", nil, notTranslatable("spatial %s without geometry", s.Op)
	}

	g := s.Geometry.Bound()
	gx0, gy0, gx1, gy1 := g.Min.X(), g.Min.Y(), g.Max.X(), g.Max.Y()
	minX, minY, maxX, maxY := column("min_x"), column("min_y"), column("max_x"), column("max_y")

	present := fmt.Sprintf("%s IS NOT NULL AND %s IS NOT NULL AND %s IS NOT NULL AND %s IS NOT NULL", minX, minY, maxX, maxY)
	intersects := fmt.Sprintf("%s <= ? AND %s >= ? AND %s <= ? AND %s >= ?", minX, maxX, minY, maxY)
	intersectsArgs := []any{gx1, gx0, gy1, gy0}
	within := fmt.Sprintf("%s >= ? AND %s <= ? AND %s >= ? AND %s <= ?", minX, maxX, minY, maxY)
	withinArgs := []any{gx0, gx1, gy0, gy1}
	contains := fmt.Sprintf("%s <= ? AND %s >= ? AND %s <= ? AND %s >= ?", minX, maxX, minY, maxY)
	containsArgs := []any{gx0, gx1, gy0, gy1}
	touch := fmt.Sprintf("(%s = ? OR %s = ? OR %s = ? OR %s = ?)", maxX, minX, maxY, minY)
	touchArgs := []any{gx0, gx1, gy0, gy1}

	if s.Op.IsDistance() {
		if s.Distance == nil {
			return "", nil, notTranslatable("%s without distance", s.Op)
		}
		limit, ok := s.Distance.Degrees()
		if !ok {
			return "", nil, notTranslatable("distance units %q", s.Distance.Units)
		}
		dx := fmt.Sprintf("%s(0, ? - %s, %s - ?)", t.greatest(), maxX, minX)
		dy := fmt.Sprintf("%s(0, ? - %s, %s - ?)", t.greatest(), maxY, minY)
		cmp := "<="
		if s.Op == filter.OpBeyond {
			cmp = ">"
		}
		query := fmt.Sprintf("%s AND (%s * %s + %s * %s) %s ?", present, dx, dx, dy, dy, cmp)
		return query, []any{gx0, gx1, gx0, gx1, gy0, gy1, gy0, gy1, limit * limit}, nil
	}

	switch s.Op {
	case filter.OpBBox, filter.OpIntersects:
		return present + " AND " + intersects, intersectsArgs, nil
	case filter.OpDisjoint:
		return present + " AND NOT (" + intersects + ")", intersectsArgs, nil
	case filter.OpWithin:
		return present + " AND " + within, withinArgs, nil
	case filter.OpContains:
		return present + " AND " + contains, containsArgs, nil
	case filter.OpEquals:
		query := fmt.Sprintf("%s AND %s = ? AND %s = ? AND %s = ? AND %s = ?", present, minX, maxX, minY, maxY)
		return query, []any{gx0, gx1, gy0, gy1}, nil
	case filter.OpTouches:
		return present + " AND " + intersects + " AND " + touch, append(intersectsArgs, touchArgs...), nil
	case filter.OpOverlaps, filter.OpCrosses:
		query := present + " AND " + intersects +
			" AND NOT (" + within + ") AND NOT (" + contains + ") AND NOT " + touch
		args := append(append(append(intersectsArgs, withinArgs...), containsArgs...), touchArgs...)
		return query, args, nil
	}
	return "", nil, notTranslatable("spatial operator %q", s.Op)
}

// -----------------------------------------------------------------------------
// Sorting
// -----------------------------------------------------------------------------

// buildOrderBy renders sort criteria with records lacking a value last and
// the identifier breaking ties.
func (t translator) buildOrderBy(sortBy []filter.SortProperty) (string, []any, error) {
	parts := make([]string, 0, 2*len(sortBy)+1)
	var args []any
	for _, sp := range sortBy {
		var value operand
		switch discovery.CanonicalProperty(sp.Property.Path) {
		case discovery.PropSubject:
			value = operand{sql: fmt.Sprintf(`(SELECT %s %s ORDER BY s."position" LIMIT 1)`, subjectValue, subjectsFrom())}
		default:
			v, err := t.property(sp.Property.Path, nil)
			if err != nil {
				return "", nil, err
			}
			value = v
		}
		direction := "ASC"
		if sp.Order == filter.Descending {
			direction = "DESC"
		}
		parts = append(parts, value.sql+" IS NULL", value.sql+" "+direction)
		args = append(args, value.args...)
		args = append(args, value.args...)
	}
	parts = append(parts, column("id")+" ASC")
	return strings.Join(parts, ", "), args, nil
}

// -----------------------------------------------------------------------------
// Literal helpers
// -----------------------------------------------------------------------------

func joinArgs(ops []operand) []any {
	var args []any
	for _, op := range ops {
		args = append(args, op.args...)
	}
	return args
}

// textArg renders a literal compared with a text column.
func textArg(v any) any {
	switch x := v.(type) {
	case string, nil:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// timeArg normalizes a literal compared with the modified column, which
// holds RFC 3339 UTC timestamps. Plain dates compare as prefixes.
func timeArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	s, ok := v.(string)
	if !ok {
		return textArg(v)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// likePattern rewrites a pattern with custom wildcards into SQL LIKE syntax
// with a backslash escape.
func likePattern(pattern, wildcard, single, escape string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		rest := pattern[i:]
		switch {
		case strings.HasPrefix(rest, escape) && len(rest) > len(escape):
			i += len(escape)
			r := nextRune(pattern[i:])
			writeLikeLiteral(&b, r)
			i += len(r)
		case strings.HasPrefix(rest, wildcard):
			b.WriteByte('%')
			i += len(wildcard)
		case strings.HasPrefix(rest, single):
			b.WriteByte('_')
			i += len(single)
		default:
			r := nextRune(rest)
			writeLikeLiteral(&b, r)
			i += len(r)
		}
	}
	return b.String()
}

func writeLikeLiteral(b *strings.Builder, r string) {
	if r == "%" || r == "_" || r == `\` {
		b.WriteByte('\\')
	}
	b.WriteString(r)
}

// globPattern rewrites a pattern into sqlite GLOB syntax, which is case
// sensitive.
func globPattern(pattern, wildcard, single, escape string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		rest := pattern[i:]
		switch {
		case strings.HasPrefix(rest, escape) && len(rest) > len(escape):
			i += len(escape)
			r := nextRune(pattern[i:])
			writeGlobLiteral(&b, r)
			i += len(r)
		case strings.HasPrefix(rest, wildcard):
			b.WriteByte('*')
			i += len(wildcard)
		case strings.HasPrefix(rest, single):
			b.WriteByte('?')
			i += len(single)
		default:
			r := nextRune(rest)
			writeGlobLiteral(&b, r)
			i += len(r)
		}
	}
	return b.String()
}

func writeGlobLiteral(b *strings.Builder, r string) {
	switch r {
	case "*", "?", "[":
		b.WriteString("[" + r + "]")
	default:
		b.WriteString(r)
	}
}

func nextRune(s string) string {
	for i := range s {
		if i > 0 {
			return s[:i]
		}
	}
	return s
}
