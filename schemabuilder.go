package reldb

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

type TableBuilder struct {
	tbl *Table
}

// DefineTable declares a table and its fields. Tables cannot be altered
// after definition; defining a table after rows have been added is allowed.
func DefineTable(scm *Schema, name string, f func(b *TableBuilder)) *Table {
	if name == "" {
		panic(fmt.Errorf("DefineTable: empty table name"))
	}
	tbl := &Table{
		schema:       scm,
		name:         name,
		fieldsByName: make(map[string]*Field),
		live:         roaring64.New(),
	}
	b := TableBuilder{
		tbl: tbl,
	}
	f(&b)
	if len(tbl.fields) == 0 {
		panic(fmt.Errorf("DefineTable(%s): no fields", name))
	}
	scm.addTable(tbl)
	return tbl
}

// Table returns the table being defined, so that ref fields can point to
// their own table.
func (b *TableBuilder) Table() *Table {
	return b.tbl
}

func (b *TableBuilder) Field(name string, kind Kind) *Field {
	if kind == KindRef {
		panic(fmt.Errorf("%s.%s: use Ref to define reference fields", b.tbl.name, name))
	}
	if kind <= KindInvalid || kind > KindRef {
		panic(fmt.Errorf("%s.%s: %v", b.tbl.name, name, kind))
	}
	f := &Field{Name: name, Kind: kind}
	b.tbl.addField(f)
	return f
}

func (b *TableBuilder) String(name string) *Field {
	return b.Field(name, KindString)
}

func (b *TableBuilder) Int(name string) *Field {
	return b.Field(name, KindInt)
}

func (b *TableBuilder) Float(name string) *Field {
	return b.Field(name, KindFloat)
}

func (b *TableBuilder) Bool(name string) *Field {
	return b.Field(name, KindBool)
}

func (b *TableBuilder) Time(name string) *Field {
	return b.Field(name, KindTime)
}

func (b *TableBuilder) Ref(name string, target *Table) *Field {
	if target == nil {
		panic(fmt.Errorf("%s.%s: nil ref target", b.tbl.name, name))
	}
	if target.schema != b.tbl.schema {
		panic(fmt.Errorf("%s.%s: ref target %s belongs to another schema", b.tbl.name, name, target.name))
	}
	if target.IsAlias() {
		panic(fmt.Errorf("%s.%s: ref target %s is an alias", b.tbl.name, name, target.name))
	}
	f := &Field{Name: name, Kind: KindRef, Target: target}
	b.tbl.addField(f)
	return f
}

func (b *TableBuilder) SuppressContentWhenLogging() {
	b.tbl.suppressContent = true
}
