// internal/authz/sql.go
package authz

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/solatis/rowkeeper/internal/types"
)

/*
 * SQL emission.
 *
 * Renders predicate groups as one boolean SQL expression with "?"
 * placeholders. Arguments are appended in the exact order placeholders are
 * written. Callers rebind placeholders for their driver (sqlx.Rebind).
 *
 * Shape:
 *   groups      -> FALSE | g | (g1 OR g2 ...)
 *   group       -> q | (q1 AND q2 ...) | NOT (...)
 *   aspect atom -> EXISTS (SELECT 1 FROM <aspects> AS ra
 *                          WHERE ra.aspect_id = ?
 *                            AND ra.record_id = <record id ref>
 *                            AND ra.tenant_id = <tenant id ref>
 *                            AND <condition>)
 *
 * Only configured identifiers are written as text, quoted per dot-separated
 * part. Aspect ids, paths and literals are always bound.
 *
 * Dialect conditions, with P = path parameter:
 *   PostgreSQL: ra.data #> P::text[], jsonb_typeof guards, jsonb @> for
 *               membership, to_jsonb(?::type) for comparisons
 *   SQLite:     json_type / json_extract / json_each with P = $."a"."b"
 *
 * Every comparison is guarded by a JSON type check so a value of the wrong
 * type compares false instead of raising a cast error.
 */

// Dialect selects the SQL flavor of emitted fragments.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// DialectForDriver maps a database/sql driver name to a Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// SQLConfig names the tables and columns an emitted fragment correlates
// with. RecordIDRef and TenantIDRef are column references of the outer
// query, for example "records.record_id".
type SQLConfig struct {
	Dialect      Dialect
	AspectsTable string
	RecordIDRef  string
	TenantIDRef  string
}

// DefaultSQLConfig matches the schema in migrations/.
func DefaultSQLConfig(d Dialect) SQLConfig {
	return SQLConfig{
		Dialect:      d,
		AspectsTable: "record_aspects",
		RecordIDRef:  "records.record_id",
		TenantIDRef:  "records.tenant_id",
	}
}

// Validate checks that all identifiers are set.
func (c SQLConfig) Validate() error {
	if c.Dialect != DialectPostgres && c.Dialect != DialectSQLite {
		return fmt.Errorf("unknown dialect: %v", c.Dialect)
	}
	if err := validateIdentifier(c.AspectsTable); err != nil {
		return fmt.Errorf("aspects table: %w", err)
	}
	if err := validateIdentifier(c.RecordIDRef); err != nil {
		return fmt.Errorf("record id ref: %w", err)
	}
	if err := validateIdentifier(c.TenantIDRef); err != nil {
		return fmt.Errorf("tenant id ref: %w", err)
	}
	return nil
}

func validateIdentifier(ident string) error {
	if ident == "" {
		return fmt.Errorf("empty identifier")
	}
	for _, part := range strings.Split(ident, ".") {
		if part == "" {
			return fmt.Errorf("empty part in identifier %q", ident)
		}
	}
	return nil
}

// quoteIdentifier quotes each dot-separated part of a (possibly qualified)
// identifier.
func quoteIdentifier(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// Fragment is a parameterized SQL boolean expression.
type Fragment struct {
	SQL  string
	Args []any
}

// Render emits SQL for groups joined with OR.
func Render(groups []PredicateGroup, cfg SQLConfig) (Fragment, error) {
	if err := cfg.Validate(); err != nil {
		return Fragment{}, err
	}

	e := &emitter{
		cfg:      cfg,
		table:    quoteIdentifier(cfg.AspectsTable),
		recordID: quoteIdentifier(cfg.RecordIDRef),
		tenantID: quoteIdentifier(cfg.TenantIDRef),
	}
	if err := e.groups(groups); err != nil {
		return Fragment{}, err
	}

	args := e.args
	if args == nil {
		args = []any{}
	}
	return Fragment{SQL: e.sb.String(), Args: args}, nil
}

// emitter accumulates SQL text and arguments side by side so the
// placeholder order always matches the argument order.
type emitter struct {
	cfg      SQLConfig
	table    string
	recordID string
	tenantID string

	sb   strings.Builder
	args []any
}

func (e *emitter) write(s string) {
	e.sb.WriteString(s)
}

func (e *emitter) bind(v any) {
	e.sb.WriteString("?")
	e.args = append(e.args, v)
}

func (e *emitter) groups(groups []PredicateGroup) error {
	switch len(groups) {
	case 0:
		e.write("FALSE")
		return nil
	case 1:
		return e.group(groups[0])
	}

	e.write("(")
	for i, g := range groups {
		if i > 0 {
			e.write(" OR ")
		}
		if err := e.group(g); err != nil {
			return err
		}
	}
	e.write(")")
	return nil
}

func (e *emitter) group(g PredicateGroup) error {
	joiner, empty := " OR ", "FALSE"
	if g.JoinWithAnd {
		joiner, empty = " AND ", "TRUE"
	}

	if g.Negated {
		e.write("NOT (")
	} else if len(g.Queries) > 1 {
		e.write("(")
	}

	if len(g.Queries) == 0 {
		e.write(empty)
	}
	for i, q := range g.Queries {
		if i > 0 {
			e.write(joiner)
		}
		if err := e.query(q); err != nil {
			return err
		}
	}

	if g.Negated || len(g.Queries) > 1 {
		e.write(")")
	}
	return nil
}

func (e *emitter) query(q AspectQuery) error {
	switch q := q.(type) {
	case TrueQuery:
		e.write("TRUE")
		return nil
	case FalseQuery:
		e.write("FALSE")
		return nil
	case ExistsQuery:
		return e.probe(q.AspectTarget, e.exists)
	case ArrayNotEmptyQuery:
		return e.probe(q.AspectTarget, e.arrayNotEmpty)
	case ValueInArrayQuery:
		return e.probe(q.AspectTarget, func(path any) error {
			return e.valueInArray(path, q.Value)
		})
	case WithValueQuery:
		return e.probe(q.AspectTarget, func(path any) error {
			return e.withValue(path, q)
		})
	default:
		return fmt.Errorf("%w: predicate %T", types.ErrUnsupportedExpressionShape, q)
	}
}

// probe writes the correlated EXISTS sub-select for one aspect and lets
// cond write the condition on ra.data.
func (e *emitter) probe(t AspectTarget, cond func(path any) error) error {
	path, err := e.pathArg(t.Path)
	if err != nil {
		return err
	}

	if t.Negated {
		e.write("NOT (")
	}
	e.write("EXISTS (SELECT 1 FROM ")
	e.write(e.table)
	e.write(" AS ra WHERE ra.aspect_id = ")
	e.bind(t.AspectID)
	e.write(" AND ra.record_id = ")
	e.write(e.recordID)
	e.write(" AND ra.tenant_id = ")
	e.write(e.tenantID)
	e.write(" AND ")
	if err := cond(path); err != nil {
		return err
	}
	e.write(")")
	if t.Negated {
		e.write(")")
	}
	return nil
}

// pathArg builds the bound path parameter for the dialect.
func (e *emitter) pathArg(path []string) (any, error) {
	switch e.cfg.Dialect {
	case DialectPostgres:
		segs := make([]string, len(path))
		copy(segs, path)
		return pq.Array(segs), nil
	case DialectSQLite:
		return sqliteJSONPath(path)
	default:
		return nil, fmt.Errorf("unknown dialect: %v", e.cfg.Dialect)
	}
}

// sqliteJSONPath builds a JSON1 path with every key quoted: $."a"."b".
// JSON1 has no escape for '"' inside a quoted key.
func sqliteJSONPath(path []string) (string, error) {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range path {
		if strings.Contains(seg, `"`) {
			return "", fmt.Errorf("%w: path segment %q contains a double quote", types.ErrInvalidReference, seg)
		}
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// pgPointer writes the jsonb value at path.
func (e *emitter) pgPointer(path any) {
	e.write("(ra.data #> ")
	e.bind(path)
	e.write("::text[])")
}

func (e *emitter) exists(path any) error {
	switch e.cfg.Dialect {
	case DialectPostgres:
		e.write("jsonb_typeof")
		e.pgPointer(path)
		e.write(" <> 'null'")
	default:
		e.write("json_type(ra.data, ")
		e.bind(path)
		e.write(") <> 'null'")
	}
	return nil
}

func (e *emitter) arrayNotEmpty(path any) error {
	switch e.cfg.Dialect {
	case DialectPostgres:
		// CASE keeps jsonb_array_length away from scalars, which would raise.
		e.write("CASE WHEN jsonb_typeof")
		e.pgPointer(path)
		e.write(" = 'array' THEN jsonb_array_length")
		e.pgPointer(path)
		e.write(" > 0 ELSE FALSE END")
	default:
		e.write("json_type(ra.data, ")
		e.bind(path)
		e.write(") = 'array' AND json_array_length(ra.data, ")
		e.bind(path)
		e.write(") > 0")
	}
	return nil
}

func (e *emitter) valueInArray(path any, v Value) error {
	switch e.cfg.Dialect {
	case DialectPostgres:
		e.pgPointer(path)
		e.write(" @> jsonb_build_array(")
		if err := e.pgLiteral(v); err != nil {
			return err
		}
		e.write(")")
	default:
		guard, err := sqliteEachGuard(v)
		if err != nil {
			return err
		}
		e.write("json_type(ra.data, ")
		e.bind(path)
		e.write(") = 'array' AND EXISTS (SELECT 1 FROM json_each(ra.data, ")
		e.bind(path)
		e.write(") AS je WHERE ")
		e.write(guard)
		e.write(" AND je.value = ")
		if err := e.sqliteLiteral(v); err != nil {
			return err
		}
		e.write(")")
	}
	return nil
}

func (e *emitter) withValue(path any, q WithValueQuery) error {
	op := " " + q.Operator.SQL() + " "
	if q.Operator == OpUnspecified {
		return fmt.Errorf("%w: unspecified", types.ErrUnsupportedOperator)
	}

	switch e.cfg.Dialect {
	case DialectPostgres:
		jsonType, err := pgJSONType(q.Value)
		if err != nil {
			return err
		}
		e.write("jsonb_typeof")
		e.pgPointer(path)
		e.write(" = '" + jsonType + "' AND ")

		lit := func() error {
			e.write("to_jsonb(")
			if err := e.pgLiteral(q.Value); err != nil {
				return err
			}
			e.write(")")
			return nil
		}
		if q.ReferenceFirst {
			e.pgPointer(path)
			e.write(op)
			return lit()
		}
		if err := lit(); err != nil {
			return err
		}
		e.write(op)
		e.pgPointer(path)
		return nil

	default:
		guard, err := sqliteTypeGuard(q.Value)
		if err != nil {
			return err
		}
		e.write("json_type(ra.data, ")
		e.bind(path)
		e.write(") " + guard + " AND ")

		ref := func() {
			e.write("json_extract(ra.data, ")
			e.bind(path)
			e.write(")")
		}
		if q.ReferenceFirst {
			ref()
			e.write(op)
			return e.sqliteLiteral(q.Value)
		}
		if err := e.sqliteLiteral(q.Value); err != nil {
			return err
		}
		e.write(op)
		ref()
		return nil
	}
}

// pgLiteral binds a literal with an explicit cast.
func (e *emitter) pgLiteral(v Value) error {
	switch v := v.(type) {
	case StringValue:
		e.bind(string(v))
		e.write("::text")
	case BoolValue:
		e.bind(bool(v))
		e.write("::boolean")
	case NumericValue:
		e.bind(v.Decimal)
		e.write("::numeric")
	default:
		return fmt.Errorf("%w: %T", types.ErrUnsupportedValueType, v)
	}
	return nil
}

// sqliteLiteral binds a literal. Numbers travel as decimal text and are
// cast on the SQLite side.
func (e *emitter) sqliteLiteral(v Value) error {
	switch v := v.(type) {
	case StringValue:
		e.bind(string(v))
	case BoolValue:
		e.bind(bool(v))
	case NumericValue:
		e.write("CAST(")
		e.bind(v.Decimal)
		e.write(" AS NUMERIC)")
	default:
		return fmt.Errorf("%w: %T", types.ErrUnsupportedValueType, v)
	}
	return nil
}

func pgJSONType(v Value) (string, error) {
	switch v.(type) {
	case StringValue:
		return "string", nil
	case BoolValue:
		return "boolean", nil
	case NumericValue:
		return "number", nil
	default:
		return "", fmt.Errorf("%w: %T", types.ErrUnsupportedValueType, v)
	}
}

// sqliteTypeGuard returns the json_type() test for a literal's JSON type.
func sqliteTypeGuard(v Value) (string, error) {
	switch v.(type) {
	case StringValue:
		return "= 'text'", nil
	case BoolValue:
		return "IN ('true', 'false')", nil
	case NumericValue:
		return "IN ('integer', 'real')", nil
	default:
		return "", fmt.Errorf("%w: %T", types.ErrUnsupportedValueType, v)
	}
}

func sqliteEachGuard(v Value) (string, error) {
	guard, err := sqliteTypeGuard(v)
	if err != nil {
		return "", err
	}
	return "je.type " + guard, nil
}
