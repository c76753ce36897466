package reldb

import (
	"fmt"
	"log"
	"slices"
	"strings"
)

// Schema owns a set of tables, their rows and the index registry. A Schema
// is not safe for concurrent use; callers serialize mutations and iteration.
type Schema struct {
	tables            []*Table
	tablesByLowerName map[string]*Table
	rows              map[RowID]*Row
	lastID            RowID
	indices           []*Index
	indicesByKey      map[string]*Index
	changeHandlers    []func(chg *Change)

	logf    func(format string, args ...any)
	verbose bool
	strict  bool
}

type SchemaOpts struct {
	// Logf receives verbose log lines; defaults to log.Printf.
	Logf func(format string, args ...any)

	// Verbose logs every mutation and every query plan.
	Verbose bool

	// Strict runs Verify after every mutation and reports inconsistencies
	// as errors of the mutating call. Meant for tests.
	Strict bool
}

func NewSchema(opt SchemaOpts) *Schema {
	scm := &Schema{
		tablesByLowerName: make(map[string]*Table),
		rows:              make(map[RowID]*Row),
		indicesByKey:      make(map[string]*Index),
		logf:              opt.Logf,
		verbose:           opt.Verbose,
		strict:            opt.Strict,
	}
	if scm.logf == nil {
		scm.logf = log.Printf
	}
	return scm
}

func (scm *Schema) addTable(tbl *Table) {
	lower := strings.ToLower(tbl.name)
	if scm.tablesByLowerName[lower] != nil {
		panic(fmt.Errorf("duplicate table name %q", tbl.name))
	}
	tbl.pos = len(scm.tables)
	scm.tables = append(scm.tables, tbl)
	scm.tablesByLowerName[lower] = tbl
}

func (scm *Schema) Tables() []*Table {
	return append([]*Table(nil), scm.tables...)
}

func (scm *Schema) TableNamed(name string) *Table {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

// Indices returns the registered indices in registration order.
func (scm *Schema) Indices() []*Index {
	return append([]*Index(nil), scm.indices...)
}

// IndexFor returns the index registered on the given expression, or nil.
func (scm *Schema) IndexFor(e Expr) *Index {
	return scm.indicesByKey[e.Key()]
}

// LastRowID returns the most recently allocated row ID.
func (scm *Schema) LastRowID() RowID {
	return scm.lastID
}

// Count returns the number of live rows in a table.
func (scm *Schema) Count(tbl *Table) int {
	return int(tbl.Base().live.GetCardinality())
}

// Len returns the number of live rows across all tables.
func (scm *Schema) Len() int {
	return len(scm.rows)
}

func (scm *Schema) isLive(row *Row) bool {
	return row != nil && row.id != 0 && scm.rows[row.id] == row
}

// Ref returns a reference to a stored row.
func (scm *Schema) Ref(row *Row) (Ref, error) {
	if !scm.isLive(row) {
		return Ref{}, scm.notStored(row)
	}
	return Ref{row.id}, nil
}

// Get resolves a reference to the current row with that ID, or nil if the
// row has been removed.
func (scm *Schema) Get(ref Ref) *Row {
	return scm.rows[ref.id]
}

func (scm *Schema) RowByID(id RowID) *Row {
	return scm.rows[id]
}

// RowID returns the ID of a stored row, or 0 if the row is not stored.
func (scm *Schema) RowID(row *Row) RowID {
	if !scm.isLive(row) {
		return 0
	}
	return row.id
}

func (scm *Schema) notStored(row *Row) error {
	if row == nil {
		return tableErrf(nil, nil, 0, ErrNotStored, "nil row")
	}
	return tableErrf(row.table, nil, row.id, ErrNotStored, "")
}

func (scm *Schema) ownsTable(tbl *Table) bool {
	return tbl != nil && tbl.schema == scm
}

// Index registers a hash index over expressions of exactly one table and
// builds it from the current rows. Several expressions form a composite
// index on their Tuple. Options are Unique and Where(guard).
//
// Registering an index on an expression that already has one replaces it.
func (scm *Schema) Index(args ...any) (*Index, error) {
	return scm.defineIndex(false, args)
}

// OrderedIndex is like Index, but the index also supports range scans.
func (scm *Schema) OrderedIndex(args ...any) (*Index, error) {
	return scm.defineIndex(true, args)
}

func (scm *Schema) defineIndex(ordered bool, args []any) (*Index, error) {
	var exprs []Expr
	var unique bool
	var where Expr
	for _, arg := range args {
		switch arg := arg.(type) {
		case indexOpt:
			if arg == Unique {
				unique = true
			} else {
				panic(fmt.Errorf("invalid index option %v", arg))
			}
		case IndexWhere:
			if where != nil {
				panic(fmt.Errorf("multiple Where options"))
			}
			where = arg.Guard
		case *Table:
			exprs = append(exprs, RowIDOf{arg})
		case Expr:
			exprs = append(exprs, arg)
		default:
			panic(fmt.Errorf("invalid index argument %T %v", arg, arg))
		}
	}

	var expr Expr
	switch len(exprs) {
	case 0:
		return nil, tableErrf(nil, nil, 0, ErrIndexDefinition, "no expressions")
	case 1:
		expr = exprs[0]
	default:
		expr = Tuple{exprs}
	}

	tables := tablesOf(expr)
	if len(tables) != 1 {
		return nil, tableErrf(nil, nil, 0, ErrIndexDefinition, "%v references %d tables, expected exactly one", expr, len(tables))
	}
	tbl := tables[0]
	if !scm.ownsTable(tbl) {
		return nil, tableErrf(tbl, nil, 0, ErrIndexDefinition, "table belongs to another schema")
	}
	if where != nil {
		for _, t := range tablesOf(where) {
			if t != tbl {
				return nil, tableErrf(tbl, nil, 0, ErrIndexDefinition, "guard %v references table %s", where, t.name)
			}
		}
	}
	if tbl.IsAlias() {
		expr = rebind(expr, tbl, tbl.base)
		where = rebind(where, tbl, tbl.base)
		tbl = tbl.base
	}

	idx := &Index{
		schema:  scm,
		table:   tbl,
		expr:    expr,
		key:     expr.Key(),
		where:   where,
		unique:  unique,
		ordered: ordered,
	}
	d, err := idx.build()
	if err != nil {
		return nil, err
	}
	idx.data = d

	if old := scm.indicesByKey[idx.key]; old != nil {
		scm.dropIndex(old)
	}
	scm.indices = append(scm.indices, idx)
	scm.indicesByKey[idx.key] = idx
	tbl.indices = append(tbl.indices, idx)

	if scm.verbose {
		scm.logf("reldb: INDEX %s: %v (%d rows)", tbl.name, idx, idx.Len())
	}
	return idx, nil
}

func (scm *Schema) dropIndex(idx *Index) {
	scm.indices = slices.DeleteFunc(scm.indices, func(i *Index) bool { return i == idx })
	idx.table.indices = slices.DeleteFunc(idx.table.indices, func(i *Index) bool { return i == idx })
	delete(scm.indicesByKey, idx.key)
}

// OnChange registers a function called after every successful Add, Remove
// and Replace.
func (scm *Schema) OnChange(f func(chg *Change)) {
	scm.changeHandlers = append(scm.changeHandlers, f)
}

func (scm *Schema) notify(chg *Change) {
	for _, f := range scm.changeHandlers {
		f(chg)
	}
}

// afterMutation runs the strict mode check.
func (scm *Schema) afterMutation() error {
	if !scm.strict {
		return nil
	}
	return scm.Verify()
}
