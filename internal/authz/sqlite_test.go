package authz

import (
	"reflect"
	"sort"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
	_ "github.com/mattn/go-sqlite3"

	"github.com/solatis/rowkeeper/internal/types"
)

// fixtureRecords covers present, missing, null and wrongly typed values.
var fixtureRecords = []types.Record{
	{ID: "r1", TenantID: "t1", Aspects: map[string]types.AspectData{
		"ds": types.AspectData(`{"owner":"u1","level":2,"tags":["public",1,true],"public":true,"org":{"unit":"u-1"}}`),
	}},
	{ID: "r2", TenantID: "t1", Aspects: map[string]types.AspectData{
		"ds": types.AspectData(`{"owner":"alice","level":-3,"tags":[],"public":false,"org":{"unit":"u3"}}`),
	}},
	{ID: "r3", TenantID: "t1", Aspects: map[string]types.AspectData{
		"ds": types.AspectData(`{"owner":null,"level":2.5,"tags":"notarray","org":null}`),
	}},
	{ID: "r4", TenantID: "t1"},
	{ID: "r5", TenantID: "t1", Aspects: map[string]types.AspectData{
		"ds": types.AspectData(`{"level":"3","tags":[2,3,"u0"],"owner":{"x":1},"org":{"unit":1}}`),
	}},
	{ID: "r6", TenantID: "t1", Aspects: map[string]types.AspectData{
		"access-control": types.AspectData(`{"ownerId":"u1"}`),
	}},
	{ID: "r7", TenantID: "t2", Aspects: map[string]types.AspectData{
		"ds":             types.AspectData(`{"owner":"u1","level":2,"tags":["public"]}`),
		"access-control": types.AspectData(`{"ownerId":"u1"}`),
	}},
}

func setupSQLite(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: every :memory: connection is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE records (record_id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, name TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE record_aspects (record_id TEXT NOT NULL, tenant_id TEXT NOT NULL, aspect_id TEXT NOT NULL, data TEXT NOT NULL, PRIMARY KEY (record_id, aspect_id))`,
	}
	for _, stmt := range schema {
		db.MustExec(stmt)
	}

	for _, r := range fixtureRecords {
		db.MustExec(`INSERT INTO records (record_id, tenant_id) VALUES (?, ?)`, r.ID, r.TenantID)
		for id, data := range r.Aspects {
			db.MustExec(`INSERT INTO record_aspects (record_id, tenant_id, aspect_id, data) VALUES (?, ?, ?, ?)`,
				r.ID, r.TenantID, id, string(data))
		}
	}
	return db
}

// queryIDs runs the fragment as the WHERE clause of a tenant listing.
func queryIDs(t *testing.T, db *sqlx.DB, tenant types.TenantID, frag Fragment) []string {
	t.Helper()
	args := append([]any{tenant}, frag.Args...)
	var ids []string
	err := db.Select(&ids, `SELECT record_id FROM records WHERE tenant_id = ? AND `+frag.SQL+` ORDER BY record_id`, args...)
	if err != nil {
		t.Fatalf("query %q: %v", frag.SQL, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids
}

// evaluateIDs filters the fixture in memory.
func evaluateIDs(t *testing.T, tenant types.TenantID, groups []PredicateGroup) []string {
	t.Helper()
	ids := []string{}
	for i := range fixtureRecords {
		r := &fixtureRecords[i]
		if r.TenantID != tenant {
			continue
		}
		ok, err := Evaluate(groups, r)
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", r.ID, err)
		}
		if ok {
			ids = append(ids, string(r.ID))
		}
	}
	sort.Strings(ids)
	return ids
}

func TestSQLite_Decisions(t *testing.T) {
	db := setupSQLite(t)

	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "unconditional true",
			doc:  `{"hasResidualRules":false,"result":true}`,
			want: []string{"r1", "r2", "r3", "r4", "r5", "r6"},
		},
		{
			name: "no residual rules",
			doc:  `{"hasResidualRules":true,"residualRules":[]}`,
			want: []string{},
		},
		{
			name: "owner equals",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.owner"},{"isRef":false,"value":"u1"}]}]}]}`,
			want: []string{"r1"},
		},
		{
			name: "owner exists",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operands":[{"isRef":true,"value":"input.object.record.aspects.ds.owner"}]}]}]}`,
			want: []string{"r1", "r2", "r5"},
		},
		{
			name: "level at least two",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":">=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.level"},{"isRef":false,"value":2}]}]}]}`,
			want: []string{"r1", "r3"},
		},
		{
			name: "literal first ordering",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":">","operands":[{"isRef":false,"value":2},{"isRef":true,"value":"input.object.record.aspects.ds.level"}]}]}]}`,
			want: []string{"r2"},
		},
		{
			name: "tag membership",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.tags[_]"},{"isRef":false,"value":"public"}]}]}]}`,
			want: []string{"r1"},
		},
		{
			name: "numeric membership ignores booleans",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.tags[_]"},{"isRef":false,"value":1}]}]}]}`,
			want: []string{"r1"},
		},
		{
			name: "non-empty tags",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operands":[{"isRef":true,"value":"input.object.record.aspects.ds.tags[_]"}]}]}]}`,
			want: []string{"r1", "r5"},
		},
		{
			name: "nested path",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.org.unit"},{"isRef":false,"value":"u3"}]}]}]}`,
			want: []string{"r2"},
		},
		{
			name: "boolean equality",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.public"},{"isRef":false,"value":false}]}]}]}`,
			want: []string{"r2"},
		},
		{
			name: "aspect presence",
			doc: `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
				{"operands":[{"isRef":true,"value":"input.object.record.aspects.access-control"}]}]}]}`,
			want: []string{"r6"},
		},
		{
			name: "falsy rule excludes matches",
			doc: `{"hasResidualRules":true,"residualRules":[{"default":true,"value":false,"expressions":[
				{"negated":false,"operands":[{"isRef":true,"value":"input.object.record.aspects.access-control.ownerId"}]}]}]}`,
			want: []string{"r1", "r2", "r3", "r4", "r5"},
		},
		{
			name: "two rules",
			doc: `{"hasResidualRules":true,"residualRules":[
				{"value":true,"expressions":[
					{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.access-control.ownerId"},{"isRef":false,"value":"u1"}]}]},
				{"value":true,"expressions":[
					{"operands":[{"isRef":true,"value":"input.object.record.aspects.ds.owner"}]},
					{"negated":true,"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.public"},{"isRef":false,"value":true}]}]}]}`,
			want: []string{"r2", "r5", "r6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := CompileDecision(mustParse(t, tt.doc), NewPrefixes(DefaultPrefixes))
			if err != nil {
				t.Fatalf("CompileDecision() error = %v", err)
			}
			frag, err := Render(groups, DefaultSQLConfig(DialectSQLite))
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			got := queryIDs(t, db, "t1", frag)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sql ids = %v, want %v", got, tt.want)
			}
			if mem := evaluateIDs(t, "t1", groups); !reflect.DeepEqual(mem, tt.want) {
				t.Errorf("evaluated ids = %v, want %v", mem, tt.want)
			}
		})
	}
}

// The falsy rule value negates the group, the expression negates the
// probe: both cancel and rows match exactly where the plain Exists holds.
func TestSQLite_DoubleNegation(t *testing.T) {
	db := setupSQLite(t)
	cfg := DefaultSQLConfig(DialectSQLite)

	doubled := `{"hasResidualRules":true,"residualRules":[{"default":true,"value":false,"expressions":[
		{"negated":true,"operands":[{"isRef":true,"value":"input.object.record.aspects.access-control.ownerId"}]}]}]}`
	plain := `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
		{"negated":false,"operands":[{"isRef":true,"value":"input.object.record.aspects.access-control.ownerId"}]}]}]}`

	for _, tenant := range []types.TenantID{"t1", "t2"} {
		a := queryIDs(t, db, tenant, renderDecision(t, doubled, cfg.Dialect))
		b := queryIDs(t, db, tenant, renderDecision(t, plain, cfg.Dialect))
		if !reflect.DeepEqual(a, b) {
			t.Errorf("tenant %s: double negation = %v, exists = %v", tenant, a, b)
		}
	}

	if got := queryIDs(t, db, "t1", renderDecision(t, doubled, cfg.Dialect)); !reflect.DeepEqual(got, []string{"r6"}) {
		t.Errorf("ids = %v, want [r6]", got)
	}
}

func TestSQLite_TenantScoping(t *testing.T) {
	db := setupSQLite(t)

	// r7 lives in t2; its aspects must never satisfy a t1 probe and vice versa.
	doc := `{"hasResidualRules":true,"residualRules":[{"value":true,"expressions":[
		{"operator":"=","operands":[{"isRef":true,"value":"input.object.record.aspects.ds.owner"},{"isRef":false,"value":"u1"}]}]}]}`
	frag := renderDecision(t, doc, DialectSQLite)

	if got := queryIDs(t, db, "t2", frag); !reflect.DeepEqual(got, []string{"r7"}) {
		t.Errorf("t2 ids = %v, want [r7]", got)
	}
	if got := queryIDs(t, db, "t1", frag); !reflect.DeepEqual(got, []string{"r1"}) {
		t.Errorf("t1 ids = %v, want [r1]", got)
	}
}

// Property-based test: SQL and in-memory evaluation select the same rows
func TestSQLite_PropertyMatchesEvaluator(t *testing.T) {
	db := setupSQLite(t)
	cfg := DefaultSQLConfig(DialectSQLite)
	prefixes := NewPrefixes(DefaultPrefixes)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("emitted SQL agrees with Evaluate", prop.ForAll(
		func(d *types.AuthDecision) bool {
			groups, err := CompileDecision(d, prefixes)
			if err != nil {
				return false
			}
			frag, err := Render(groups, cfg)
			if err != nil {
				return false
			}
			sqlIDs := queryIDs(t, db, "t1", frag)
			memIDs := evaluateIDs(t, "t1", groups)
			if !reflect.DeepEqual(sqlIDs, memIDs) {
				t.Logf("sql %v, evaluated %v for %s", sqlIDs, memIDs, frag.SQL)
				return false
			}
			return true
		},
		genDecision(),
	))

	properties.TestingRun(t)
}
