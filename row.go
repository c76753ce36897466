package reldb

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Row is an immutable record of a table. Rows compare by identity: two rows
// with equal values are distinct, and a row keeps the ID assigned by
// Schema.Add for its whole life. Schema.Replace produces a new Row with the
// same ID.
type Row struct {
	table *Table
	vals  []any
	id    RowID
}

func (row *Row) Table() *Table {
	return row.table
}

// ID returns the row ID assigned when the row was stored, or 0.
func (row *Row) ID() RowID {
	return row.id
}

func (row *Row) Len() int {
	return len(row.vals)
}

// Value returns the i-th field value in its stored representation.
func (row *Row) Value(i int) any {
	return row.vals[i]
}

func (row *Row) Values() []any {
	return append([]any(nil), row.vals...)
}

// Get returns the value of the named field. Panics if there is no such field.
func (row *Row) Get(name string) any {
	f := row.table.fieldsByName[name]
	if f == nil {
		panic(fmt.Errorf("table %s has no field %q", row.table.name, name))
	}
	return row.vals[f.pos]
}

func (row *Row) Str(name string) string {
	return row.Get(name).(string)
}

func (row *Row) Int(name string) int64 {
	return row.Get(name).(int64)
}

func (row *Row) Float(name string) float64 {
	return row.Get(name).(float64)
}

func (row *Row) Bool(name string) bool {
	return row.Get(name).(bool)
}

func (row *Row) Time(name string) time.Time {
	return row.Get(name).(time.Time)
}

func (row *Row) Ref(name string) Ref {
	return row.Get(name).(Ref)
}

// Eval evaluates an expression with this row bound to its table.
func (row *Row) Eval(e Expr) any {
	env := newEnv([]*Table{row.table})
	env.rows[0] = row
	return e.Eval(env)
}

func (row *Row) String() string {
	var buf strings.Builder
	buf.WriteString(row.table.name)
	if row.id != 0 {
		buf.WriteString(row.id.String())
	}
	buf.WriteByte('(')
	for i, f := range row.table.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(f.Name)
		buf.WriteByte('=')
		buf.WriteString(formatValue(row.vals[i]))
	}
	buf.WriteByte(')')
	return buf.String()
}

func (row *Row) fieldMap() map[string]any {
	m := make(map[string]any, len(row.vals))
	for i, f := range row.table.fields {
		v := row.vals[i]
		switch x := v.(type) {
		case Ref:
			v = uint64(x.id)
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				v = formatValue(x)
			}
		}
		m[f.Name] = v
	}
	return m
}

func (row *Row) with(changes map[string]any) (*Row, error) {
	result := &Row{
		table: row.table,
		vals:  append([]any(nil), row.vals...),
	}
	for name, v := range changes {
		f := row.table.fieldsByName[name]
		if f == nil {
			return nil, tableErrf(row.table, nil, row.id, ErrInvalidValue, "no field %q", name)
		}
		cv, err := coerceField(f.Kind, v)
		if err != nil {
			return nil, tableErrf(row.table, nil, row.id, err, "field %s", name)
		}
		result.vals[f.pos] = cv
	}
	return result, nil
}
