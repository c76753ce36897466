package reldb

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

type Table struct {
	schema          *Schema
	name            string
	pos             int // index in schema.tables, -1 for aliases
	fields          []*Field
	fieldsByName    map[string]*Field
	base            *Table
	live            *roaring64.Bitmap
	indices         []*Index
	suppressContent bool
}

type Field struct {
	Name   string
	Kind   Kind
	Target *Table // ref target, nil for other kinds
	pos    int
}

func (f *Field) Pos() int {
	return f.pos
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) String() string {
	return tbl.name
}

func (tbl *Table) Schema() *Schema {
	return tbl.schema
}

func (tbl *Table) Fields() []*Field {
	return append([]*Field(nil), tbl.fields...)
}

func (tbl *Table) FieldNamed(name string) *Field {
	return tbl.fieldsByName[name]
}

// Base returns the table an alias was created from, or tbl itself.
func (tbl *Table) Base() *Table {
	if tbl.base != nil {
		return tbl.base
	}
	return tbl
}

func (tbl *Table) IsAlias() bool {
	return tbl.base != nil
}

// Alias returns a view of the table under another name. An alias shares the
// rows and indices of its base table and can appear in the same stream as
// the base table, which is how self-joins are written.
func (tbl *Table) Alias(name string) *Table {
	base := tbl.Base()
	if name == "" || strings.EqualFold(name, base.name) {
		panic(fmt.Errorf("alias of %s needs a distinct name", base.name))
	}
	if base.schema.TableNamed(name) != nil {
		panic(fmt.Errorf("alias %q of %s clashes with a table name", name, base.name))
	}
	return &Table{
		schema:          base.schema,
		name:            name,
		pos:             -1,
		fields:          base.fields,
		fieldsByName:    base.fieldsByName,
		base:            base,
		suppressContent: base.suppressContent,
	}
}

// Col returns an expression reading the named field. Panics if the table has
// no such field.
func (tbl *Table) Col(name string) Column {
	f := tbl.fieldsByName[name]
	if f == nil {
		panic(fmt.Errorf("table %s has no field %q", tbl.name, name))
	}
	return Column{tbl, f}
}

// RowID returns an expression evaluating to the ID of the row bound to the
// table.
func (tbl *Table) RowID() RowIDOf {
	return RowIDOf{tbl}
}

// New builds a row of this table from field values given in field order.
// The row is not stored until passed to Schema.Add.
func (tbl *Table) New(vals ...any) (*Row, error) {
	base := tbl.Base()
	if len(vals) != len(base.fields) {
		return nil, tableErrf(base, nil, 0, ErrInvalidValue, "got %d values for %d fields", len(vals), len(base.fields))
	}
	row := &Row{
		table: base,
		vals:  make([]any, len(vals)),
	}
	for i, f := range base.fields {
		v, err := coerceField(f.Kind, vals[i])
		if err != nil {
			return nil, tableErrf(base, nil, 0, err, "field %s", f.Name)
		}
		row.vals[i] = v
	}
	return row, nil
}

// MustNew is like New but panics on error.
func (tbl *Table) MustNew(vals ...any) *Row {
	return must(tbl.New(vals...))
}

func (tbl *Table) addField(f *Field) {
	if tbl.fieldsByName[f.Name] != nil {
		panic(fmt.Errorf("table %s already has field %q", tbl.name, f.Name))
	}
	f.pos = len(tbl.fields)
	tbl.fields = append(tbl.fields, f)
	tbl.fieldsByName[f.Name] = f
}

func (tbl *Table) refFields() []*Field {
	var result []*Field
	for _, f := range tbl.fields {
		if f.Kind == KindRef {
			result = append(result, f)
		}
	}
	return result
}
