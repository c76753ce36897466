package reldb

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

type scanKind int

const (
	scanFull scanKind = iota
	scanCompositeEq
	scanEq
	scanRange
	scanBool
	scanGuard
)

func (k scanKind) String() string {
	switch k {
	case scanFull:
		return "full scan"
	case scanCompositeEq:
		return "composite equality scan"
	case scanEq:
		return "equality scan"
	case scanRange:
		return "range scan"
	case scanBool:
		return "boolean index scan"
	case scanGuard:
		return "partial index scan"
	default:
		return fmt.Sprintf("invalid scan %d", int(k))
	}
}

// tableScan produces candidate rows for one table of a stream, given the
// rows bound to the tables before it.
type tableScan struct {
	kind     scanKind
	table    *Table
	index    *Index
	value    Expr // equality scans
	lo, hi   Expr // range scans
	loInc    bool
	hiInc    bool
	consumed []Expr
}

type queryPlan struct {
	tables    []*Table
	scans     []*tableScan
	residuals [][]Expr // by the level at which all referenced tables are bound
}

// indexView is an index as seen from one stream table; for an alias the
// expressions are rebound from the base table to the alias.
type indexView struct {
	idx      *Index
	expr     Expr
	key      string
	guardKey string
}

type predicate struct {
	expr Expr
	key  string
}

func plan(scm *Schema, tables []*Table, preds []Expr) *queryPlan {
	var flat []Expr
	for _, p := range preds {
		flat = scm.flattenPredicate(flat, p)
	}
	flat = normalizeRanges(flat)

	residual := make([]predicate, len(flat))
	for i, e := range flat {
		residual[i] = predicate{e, e.Key()}
	}

	p := &queryPlan{
		tables:    tables,
		scans:     make([]*tableScan, len(tables)),
		residuals: make([][]Expr, len(tables)),
	}
	for i, tbl := range tables {
		s, used := chooseScan(tbl, tables[:i], indexViews(tbl), residual)
		p.scans[i] = s
		residual = slices.DeleteFunc(residual, func(pr predicate) bool {
			return slices.Contains(used, pr.key)
		})
	}

	for _, pr := range residual {
		level := 0
		for _, t := range tablesOf(pr.expr) {
			if pos := slices.Index(tables, t); pos > level {
				level = pos
			}
		}
		p.residuals[level] = append(p.residuals[level], pr.expr)
	}
	return p
}

// flattenPredicate splits top-level conjunctions, except those that have an
// index registered on them.
func (scm *Schema) flattenPredicate(dst []Expr, e Expr) []Expr {
	if and, ok := e.(AndExpr); ok && scm.indicesByKey[and.Key()] == nil {
		for _, item := range and.Items {
			dst = scm.flattenPredicate(dst, item)
		}
		return dst
	}
	return append(dst, e)
}

// normalizeRanges merges range predicates with literal bounds over the same
// expression into a single range with the tightest bounds. The merged range
// takes the position of the first one.
func normalizeRanges(preds []Expr) []Expr {
	result := make([]Expr, 0, len(preds))
	firstByX := make(map[string]int)
	for _, e := range preds {
		r, ok := e.(InRange)
		if !ok || !hasLiteralBounds(r) {
			result = append(result, e)
			continue
		}
		xkey := r.X.Key()
		if i, found := firstByX[xkey]; found {
			result[i] = mergeRanges(result[i].(InRange), r)
			continue
		}
		firstByX[xkey] = len(result)
		result = append(result, r)
	}
	return result
}

func hasLiteralBounds(r InRange) bool {
	return (r.Lo == nil || isLiteral(r.Lo)) && (r.Hi == nil || isLiteral(r.Hi))
}

func mergeRanges(a, b InRange) InRange {
	result := a
	switch {
	case b.Lo == nil:
	case a.Lo == nil:
		result.Lo, result.LoInc = b.Lo, b.LoInc
	default:
		c := compareValues(a.Lo.(Lit).Value, b.Lo.(Lit).Value)
		if c < 0 {
			result.Lo, result.LoInc = b.Lo, b.LoInc
		} else if c == 0 {
			result.LoInc = a.LoInc && b.LoInc
		}
	}
	switch {
	case b.Hi == nil:
	case a.Hi == nil:
		result.Hi, result.HiInc = b.Hi, b.HiInc
	default:
		c := compareValues(a.Hi.(Lit).Value, b.Hi.(Lit).Value)
		if c > 0 {
			result.Hi, result.HiInc = b.Hi, b.HiInc
		} else if c == 0 {
			result.HiInc = a.HiInc && b.HiInc
		}
	}
	return result
}

func indexViews(tbl *Table) []indexView {
	base := tbl.Base()
	views := make([]indexView, 0, len(base.indices))
	for _, idx := range base.indices {
		expr, guard := idx.expr, idx.where
		if tbl != base {
			expr, guard = rebind(expr, base, tbl), rebind(guard, base, tbl)
		}
		v := indexView{idx: idx, expr: expr, key: expr.Key()}
		if guard != nil {
			v.guardKey = guard.Key()
		}
		views = append(views, v)
	}
	return views
}

// concrete reports whether e can be evaluated once the given tables are
// bound.
func concrete(e Expr, bound []*Table) bool {
	for _, t := range tablesOf(e) {
		if !slices.Contains(bound, t) {
			return false
		}
	}
	return true
}

// chooseScan picks the scan for tbl using the first strategy that applies,
// returning the keys of the predicates the scan satisfies.
func chooseScan(tbl *Table, bound []*Table, views []indexView, residual []predicate) (*tableScan, []string) {
	find := func(key string) (predicate, bool) {
		for _, pr := range residual {
			if pr.key == key {
				return pr, true
			}
		}
		return predicate{}, false
	}
	// pinned finds an equality predicate fixing x to a concrete value.
	pinned := func(xkey string) (value Expr, pr predicate, ok bool) {
		for _, pr := range residual {
			eq, isEq := pr.expr.(EqExpr)
			if !isEq {
				continue
			}
			if eq.A.Key() == xkey && concrete(eq.B, bound) {
				return eq.B, pr, true
			}
			if eq.B.Key() == xkey && concrete(eq.A, bound) {
				return eq.A, pr, true
			}
		}
		return nil, predicate{}, false
	}
	// guarded returns the consumed keys needed to use the view.
	guarded := func(v indexView, used ...string) ([]string, bool) {
		if v.guardKey == "" {
			return used, true
		}
		if _, ok := find(v.guardKey); !ok {
			return nil, false
		}
		return append(used, v.guardKey), true
	}
	newScan := func(kind scanKind, v indexView, used []string) *tableScan {
		s := &tableScan{kind: kind, table: tbl, index: v.idx}
		for _, key := range used {
			if pr, ok := find(key); ok {
				s.consumed = append(s.consumed, pr.expr)
			}
		}
		return s
	}

	// 1. composite equality
	for _, v := range views {
		tup, ok := v.expr.(Tuple)
		if !ok {
			continue
		}
		if value, pr, ok := pinned(v.key); ok {
			if used, ok := guarded(v, pr.key); ok {
				s := newScan(scanCompositeEq, v, used)
				s.value = value
				return s, used
			}
			continue
		}
		values := make([]Expr, len(tup.Items))
		var used []string
		complete := true
		for i, item := range tup.Items {
			value, pr, ok := pinned(item.Key())
			if !ok {
				complete = false
				break
			}
			values[i] = value
			if !slices.Contains(used, pr.key) {
				used = append(used, pr.key)
			}
		}
		if !complete {
			continue
		}
		if used, ok := guarded(v, used...); ok {
			s := newScan(scanCompositeEq, v, used)
			s.value = Tuple{values}
			return s, used
		}
	}

	// 2. single equality
	for _, v := range views {
		if _, ok := v.expr.(Tuple); ok {
			continue
		}
		if value, pr, ok := pinned(v.key); ok {
			if used, ok := guarded(v, pr.key); ok {
				s := newScan(scanEq, v, used)
				s.value = value
				return s, used
			}
		}
	}

	// 3. range over an ordered index
	for _, v := range views {
		if !v.idx.ordered {
			continue
		}
		for _, pr := range residual {
			r, ok := pr.expr.(InRange)
			if !ok || r.X.Key() != v.key {
				continue
			}
			if (r.Lo != nil && !concrete(r.Lo, bound)) || (r.Hi != nil && !concrete(r.Hi, bound)) {
				continue
			}
			if used, ok := guarded(v, pr.key); ok {
				s := newScan(scanRange, v, used)
				s.lo, s.hi, s.loInc, s.hiInc = r.Lo, r.Hi, r.LoInc, r.HiInc
				return s, used
			}
		}
	}

	// 4. index on the predicate itself, or a partial index guarded by it
	for _, pr := range residual {
		for _, v := range views {
			if v.key == pr.key {
				if used, ok := guarded(v, pr.key); ok {
					s := newScan(scanBool, v, used)
					s.value = Lit{true}
					return s, used
				}
			}
			if v.guardKey == pr.key {
				used := []string{pr.key}
				return newScan(scanGuard, v, used), used
			}
		}
	}

	return &tableScan{kind: scanFull, table: tbl}, nil
}

func (s *tableScan) ids(env *Env) iter.Seq[RowID] {
	switch s.kind {
	case scanFull:
		return slices.Values(bitmapIDs(s.table.Base().live))
	case scanCompositeEq, scanEq, scanBool:
		return s.index.scanValue(s.value.Eval(env))
	case scanRange:
		rang := keyRange{LowerInc: s.loInc, UpperInc: s.hiInc}
		if s.lo != nil {
			rang.Lower, rang.HasLower = s.lo.Eval(env), true
		}
		if s.hi != nil {
			rang.Upper, rang.HasUpper = s.hi.Eval(env), true
		}
		return s.index.scanRange(rang)
	case scanGuard:
		return s.index.scanAll()
	default:
		panic(fmt.Errorf("invalid scan %v", s.kind))
	}
}

func (s *tableScan) String() string {
	var buf strings.Builder
	buf.WriteString(s.table.name)
	buf.WriteString(": ")
	buf.WriteString(s.kind.String())
	switch s.kind {
	case scanCompositeEq, scanEq:
		fmt.Fprintf(&buf, " %v = %v", s.index.expr, s.value)
	case scanRange:
		fmt.Fprintf(&buf, " %v", InRange{X: s.index.expr, Lo: s.lo, Hi: s.hi, LoInc: s.loInc, HiInc: s.hiInc})
	}
	if s.index != nil {
		fmt.Fprintf(&buf, " via %v", s.index)
	}
	if len(s.consumed) > 0 {
		buf.WriteString(" satisfying ")
		buf.WriteString(joinExprs(s.consumed, Expr.String, ", "))
	}
	return buf.String()
}

func (p *queryPlan) String() string {
	var buf strings.Builder
	for i, s := range p.scans {
		fmt.Fprintf(&buf, "%d. %v\n", i+1, s)
		for _, e := range p.residuals[i] {
			fmt.Fprintf(&buf, "   filter %v\n", e)
		}
	}
	return buf.String()
}

// join runs a nested-loop join over the plan, calling yield with the
// environment for every combination that passes all predicates.
func (p *queryPlan) join(scm *Schema, yield func(env *Env) bool) {
	env := newEnv(p.tables)
	var level func(i int) bool
	level = func(i int) bool {
		if i == len(p.scans) {
			return yield(env)
		}
		for id := range p.scans[i].ids(env) {
			row := scm.rows[id]
			if row == nil {
				continue
			}
			env.rows[i] = row
			if !evalAll(p.residuals[i], env) {
				continue
			}
			if !level(i + 1) {
				return false
			}
		}
		env.rows[i] = nil
		return true
	}
	level(0)
}

func evalAll(preds []Expr, env *Env) bool {
	for _, e := range preds {
		if !truthy(e.Eval(env)) {
			return false
		}
	}
	return true
}
