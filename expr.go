package reldb

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Expr is a node of the predicate and value language. Expressions are
// immutable values; two expressions with equal Key are interchangeable, which
// is how indices are matched against query predicates.
type Expr interface {
	Key() string
	String() string
	Eval(env *Env) any
	isExpr()
}

// Env binds rows to tables during evaluation. Tables are matched by
// identity, so an alias and its base table are bound independently.
type Env struct {
	tables []*Table
	rows   []*Row
}

func newEnv(tables []*Table) *Env {
	return &Env{
		tables: tables,
		rows:   make([]*Row, len(tables)),
	}
}

func (env *Env) rowOf(tbl *Table) *Row {
	for i, t := range env.tables {
		if t == tbl {
			return env.rows[i]
		}
	}
	return nil
}

type (
	// Column reads one field of the row bound to a table. Ref values
	// evaluate to their bare RowID.
	Column struct {
		table *Table
		field *Field
	}

	// Tuple groups several expressions into one composite value.
	Tuple struct {
		Items []Expr
	}

	// Lit is a constant. Build literals via Eq and the comparison methods,
	// which normalize the value.
	Lit struct {
		Value any
	}

	// RowIDOf evaluates to the ID of the row bound to a table.
	RowIDOf struct {
		Table *Table
	}

	EqExpr struct {
		A, B Expr
	}

	// InRange checks that X lies between Lo and Hi. A nil bound is open.
	InRange struct {
		X            Expr
		Lo, Hi       Expr
		LoInc, HiInc bool
	}

	AndExpr struct {
		Items []Expr
	}

	OrExpr struct {
		Items []Expr
	}

	NotExpr struct {
		X Expr
	}
)

func (Column) isExpr()  {}
func (Tuple) isExpr()   {}
func (Lit) isExpr()     {}
func (RowIDOf) isExpr() {}
func (EqExpr) isExpr()  {}
func (InRange) isExpr() {}
func (AndExpr) isExpr() {}
func (OrExpr) isExpr()  {}
func (NotExpr) isExpr() {}

func (c Column) Table() *Table { return c.table }
func (c Column) Field() *Field { return c.field }

func (c Column) Key() string    { return c.table.name + "." + c.field.Name }
func (c Column) String() string { return c.Key() }

func (c Column) Eval(env *Env) any {
	row := env.rowOf(c.table)
	if row == nil {
		return nil
	}
	v := row.vals[c.field.pos]
	if ref, ok := v.(Ref); ok {
		return ref.id
	}
	return v
}

func (t Tuple) Key() string {
	return "(" + joinExprs(t.Items, Expr.Key, ",") + ")"
}

func (t Tuple) String() string {
	return "(" + joinExprs(t.Items, Expr.String, ", ") + ")"
}

func (t Tuple) Eval(env *Env) any {
	result := make(TupleValue, len(t.Items))
	for i, item := range t.Items {
		result[i] = item.Eval(env)
	}
	return result
}

func (l Lit) Key() string {
	return "lit:" + hexstr([]byte(encodeKey(l.Value)))
}

func (l Lit) String() string    { return formatValue(l.Value) }
func (l Lit) Eval(env *Env) any { return l.Value }

func (r RowIDOf) Key() string    { return r.Table.name + ".#id" }
func (r RowIDOf) String() string { return r.Key() }

func (r RowIDOf) Eval(env *Env) any {
	row := env.rowOf(r.Table)
	if row == nil {
		return nil
	}
	return row.id
}

// Key orders the operands so that a == b and b == a share a key.
func (e EqExpr) Key() string {
	a, b := e.A.Key(), e.B.Key()
	if b < a {
		a, b = b, a
	}
	return "eq(" + a + "," + b + ")"
}

func (e EqExpr) String() string {
	return e.A.String() + " == " + e.B.String()
}

func (e EqExpr) Eval(env *Env) any {
	return valuesEqual(e.A.Eval(env), e.B.Eval(env))
}

func (r InRange) Key() string {
	var buf strings.Builder
	buf.WriteString("range(")
	buf.WriteString(r.X.Key())
	buf.WriteByte(',')
	if r.Lo != nil {
		if r.LoInc {
			buf.WriteByte('[')
		} else {
			buf.WriteByte('(')
		}
		buf.WriteString(r.Lo.Key())
	} else {
		buf.WriteByte('*')
	}
	buf.WriteByte(',')
	if r.Hi != nil {
		buf.WriteString(r.Hi.Key())
		if r.HiInc {
			buf.WriteByte(']')
		} else {
			buf.WriteByte(')')
		}
	} else {
		buf.WriteByte('*')
	}
	buf.WriteByte(')')
	return buf.String()
}

func (r InRange) String() string {
	x := r.X.String()
	switch {
	case r.Lo == nil && r.Hi == nil:
		return x + " in (*, *)"
	case r.Hi == nil:
		return x + cmpOp(">", r.LoInc) + r.Lo.String()
	case r.Lo == nil:
		return x + cmpOp("<", r.HiInc) + r.Hi.String()
	default:
		return r.Lo.String() + cmpOp("<", r.LoInc) + x + cmpOp("<", r.HiInc) + r.Hi.String()
	}
}

func cmpOp(op string, inclusive bool) string {
	if inclusive {
		return " " + op + "= "
	}
	return " " + op + " "
}

func (r InRange) Eval(env *Env) any {
	v := r.X.Eval(env)
	if r.Lo != nil {
		c := compareValues(v, r.Lo.Eval(env))
		if c < 0 || (c == 0 && !r.LoInc) {
			return false
		}
	}
	if r.Hi != nil {
		c := compareValues(v, r.Hi.Eval(env))
		if c > 0 || (c == 0 && !r.HiInc) {
			return false
		}
	}
	return true
}

func (a AndExpr) Key() string    { return "and(" + joinExprs(a.Items, Expr.Key, ",") + ")" }
func (a AndExpr) String() string { return "(" + joinExprs(a.Items, Expr.String, " && ") + ")" }

func (a AndExpr) Eval(env *Env) any {
	for _, item := range a.Items {
		if !truthy(item.Eval(env)) {
			return false
		}
	}
	return true
}

func (o OrExpr) Key() string    { return "or(" + joinExprs(o.Items, Expr.Key, ",") + ")" }
func (o OrExpr) String() string { return "(" + joinExprs(o.Items, Expr.String, " || ") + ")" }

func (o OrExpr) Eval(env *Env) any {
	for _, item := range o.Items {
		if truthy(item.Eval(env)) {
			return true
		}
	}
	return false
}

func (n NotExpr) Key() string       { return "not(" + n.X.Key() + ")" }
func (n NotExpr) String() string    { return "!" + n.X.String() }
func (n NotExpr) Eval(env *Env) any { return !truthy(n.X.Eval(env)) }

func joinExprs(items []Expr, f func(Expr) string, sep string) string {
	var buf strings.Builder
	for i, item := range items {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(f(item))
	}
	return buf.String()
}

// Tup builds a composite expression. Arguments may be expressions, tables
// (meaning their row ID) or literals.
func Tup(items ...any) Tuple {
	result := Tuple{Items: make([]Expr, len(items))}
	for i, item := range items {
		result.Items[i] = operand(item, KindInvalid)
	}
	return result
}

// Eq compares two operands. Each may be an Expr, a *Table standing for the
// ID of the row bound to it, a stored *Row, or a literal; literals are
// converted to the kind of the opposite operand.
func Eq(a, b any) EqExpr {
	ea, aok := asExpr(a)
	eb, bok := asExpr(b)
	switch {
	case aok && bok:
	case aok:
		eb = literalFor(ea, b)
	case bok:
		ea = literalFor(eb, a)
	default:
		ea, eb = operand(a, KindInvalid), operand(b, KindInvalid)
	}
	return EqExpr{ea, eb}
}

func And(items ...Expr) Expr {
	return AndExpr{flatten[AndExpr](items, func(e AndExpr) []Expr { return e.Items })}
}

func Or(items ...Expr) Expr {
	return OrExpr{flatten[OrExpr](items, func(e OrExpr) []Expr { return e.Items })}
}

func Not(x Expr) Expr {
	return NotExpr{x}
}

func flatten[T Expr](items []Expr, children func(T) []Expr) []Expr {
	result := make([]Expr, 0, len(items))
	for _, item := range items {
		if nested, ok := item.(T); ok {
			result = append(result, children(nested)...)
		} else {
			result = append(result, item)
		}
	}
	return result
}

// Invert negates a predicate. A one-sided range flips to the complementary
// one-sided range, a two-sided range becomes an Or of two one-sided ranges,
// and anything else, including an unbounded range, is wrapped in Not.
func Invert(e Expr) Expr {
	r, ok := e.(InRange)
	if !ok {
		return NotExpr{e}
	}
	switch {
	case r.Lo == nil && r.Hi == nil:
		return NotExpr{r}
	case r.Hi == nil:
		return InRange{X: r.X, Hi: r.Lo, HiInc: !r.LoInc}
	case r.Lo == nil:
		return InRange{X: r.X, Lo: r.Hi, LoInc: !r.HiInc}
	default:
		return OrExpr{[]Expr{
			InRange{X: r.X, Hi: r.Lo, HiInc: !r.LoInc},
			InRange{X: r.X, Lo: r.Hi, LoInc: !r.HiInc},
		}}
	}
}

func (c Column) Eq(v any) EqExpr          { return EqExpr{c, literalFor(c, v)} }
func (c Column) Lt(v any) InRange         { return c.upper(InRange{X: c}, v, false) }
func (c Column) Le(v any) InRange         { return c.upper(InRange{X: c}, v, true) }
func (c Column) Gt(v any) InRange         { return c.lower(InRange{X: c}, v, false) }
func (c Column) Ge(v any) InRange         { return c.lower(InRange{X: c}, v, true) }
func (c Column) Between(lo, hi any) InRange {
	return c.upper(c.lower(InRange{X: c}, lo, true), hi, true)
}

// lower sets the lower bound of r. On an int column a float bound is
// replaced by the integer bound admitting the same integers, since ints and
// floats never compare as numbers.
func (c Column) lower(r InRange, v any, inc bool) InRange {
	lo := literalFor(c, v)
	f, ok := intColumnFloat(c, lo)
	switch {
	case !ok:
		r.Lo, r.LoInc = lo, inc
	case math.IsNaN(f) || f >= math.MaxInt64:
		r.Lo, r.LoInc = Lit{int64(math.MaxInt64)}, false
	case f < math.MinInt64:
		r.Lo, r.LoInc = nil, false
	case f != math.Trunc(f):
		r.Lo, r.LoInc = Lit{int64(math.Floor(f))}, false
	default:
		r.Lo, r.LoInc = Lit{int64(f)}, inc
	}
	return r
}

func (c Column) upper(r InRange, v any, inc bool) InRange {
	hi := literalFor(c, v)
	f, ok := intColumnFloat(c, hi)
	switch {
	case !ok:
		r.Hi, r.HiInc = hi, inc
	case math.IsNaN(f) || f < math.MinInt64:
		r.Hi, r.HiInc = Lit{int64(math.MinInt64)}, false
	case f >= math.MaxInt64:
		r.Hi, r.HiInc = nil, false
	case f != math.Trunc(f):
		r.Hi, r.HiInc = Lit{int64(math.Ceil(f))}, false
	default:
		r.Hi, r.HiInc = Lit{int64(f)}, inc
	}
	return r
}

func intColumnFloat(c Column, bound Expr) (float64, bool) {
	if c.field.Kind != KindInt {
		return 0, false
	}
	lit, ok := bound.(Lit)
	if !ok {
		return 0, false
	}
	f, ok := lit.Value.(float64)
	return f, ok
}

func (t Tuple) Eq(v any) EqExpr  { return EqExpr{t, literalFor(t, v)} }
func (t Tuple) Lt(v any) InRange { return InRange{X: t, Hi: literalFor(t, v)} }
func (t Tuple) Le(v any) InRange { return InRange{X: t, Hi: literalFor(t, v), HiInc: true} }
func (t Tuple) Gt(v any) InRange { return InRange{X: t, Lo: literalFor(t, v)} }
func (t Tuple) Ge(v any) InRange { return InRange{X: t, Lo: literalFor(t, v), LoInc: true} }

func asExpr(v any) (Expr, bool) {
	switch v := v.(type) {
	case Expr:
		return v, true
	case *Table:
		return RowIDOf{v}, true
	}
	return nil, false
}

func operand(v any, kind Kind) Expr {
	if e, ok := asExpr(v); ok {
		return e
	}
	if row, ok := v.(*Row); ok {
		return Lit{row.id}
	}
	return Lit{coerceLiteral(kind, v)}
}

// literalFor turns v into an operand compared against peer.
func literalFor(peer Expr, v any) Expr {
	if e, ok := asExpr(v); ok {
		return e
	}
	if t, ok := peer.(Tuple); ok {
		var items []any
		switch v := v.(type) {
		case TupleValue:
			items = v
		case []any:
			items = v
		}
		if items != nil && len(items) == len(t.Items) {
			exprs := make([]Expr, len(items))
			tv := make(TupleValue, len(items))
			allLit := true
			for i, item := range items {
				exprs[i] = operand(item, kindOf(t.Items[i]))
				if lit, ok := exprs[i].(Lit); ok {
					tv[i] = lit.Value
				} else {
					allLit = false
				}
			}
			if allLit {
				return Lit{tv}
			}
			return Tuple{exprs}
		}
	}
	return operand(v, kindOf(peer))
}

func kindOf(e Expr) Kind {
	switch e := e.(type) {
	case Column:
		return e.field.Kind
	case RowIDOf:
		return KindRef
	case Lit:
		return kindOfValue(e.Value)
	case EqExpr, InRange, AndExpr, OrExpr, NotExpr:
		return KindBool
	default:
		return KindInvalid
	}
}

// tablesOf returns the tables an expression reads, in order of first use.
func tablesOf(e Expr) []*Table {
	var result []*Table
	var visit func(e Expr)
	add := func(tbl *Table) {
		if !slices.Contains(result, tbl) {
			result = append(result, tbl)
		}
	}
	visit = func(e Expr) {
		switch e := e.(type) {
		case nil:
		case Column:
			add(e.table)
		case RowIDOf:
			add(e.Table)
		case Lit:
		case Tuple:
			for _, item := range e.Items {
				visit(item)
			}
		case EqExpr:
			visit(e.A)
			visit(e.B)
		case InRange:
			visit(e.X)
			visit(e.Lo)
			visit(e.Hi)
		case AndExpr:
			for _, item := range e.Items {
				visit(item)
			}
		case OrExpr:
			for _, item := range e.Items {
				visit(item)
			}
		case NotExpr:
			visit(e.X)
		default:
			panic(fmt.Errorf("unknown expression %T", e))
		}
	}
	visit(e)
	return result
}

// rebind replaces every reference to table from with table to.
func rebind(e Expr, from, to *Table) Expr {
	switch e := e.(type) {
	case nil:
		return nil
	case Column:
		if e.table == from {
			return Column{to, e.field}
		}
		return e
	case RowIDOf:
		if e.Table == from {
			return RowIDOf{to}
		}
		return e
	case Lit:
		return e
	case Tuple:
		return Tuple{rebindAll(e.Items, from, to)}
	case EqExpr:
		return EqExpr{rebind(e.A, from, to), rebind(e.B, from, to)}
	case InRange:
		return InRange{
			X:     rebind(e.X, from, to),
			Lo:    rebind(e.Lo, from, to),
			Hi:    rebind(e.Hi, from, to),
			LoInc: e.LoInc,
			HiInc: e.HiInc,
		}
	case AndExpr:
		return AndExpr{rebindAll(e.Items, from, to)}
	case OrExpr:
		return OrExpr{rebindAll(e.Items, from, to)}
	case NotExpr:
		return NotExpr{rebind(e.X, from, to)}
	default:
		panic(fmt.Errorf("unknown expression %T", e))
	}
}

func rebindAll(items []Expr, from, to *Table) []Expr {
	result := make([]Expr, len(items))
	for i, item := range items {
		result[i] = rebind(item, from, to)
	}
	return result
}

func isLiteral(e Expr) bool {
	_, ok := e.(Lit)
	return ok
}
