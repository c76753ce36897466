package reldb

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
)

// RowStream is a lazy query over one or more tables. Streams are immutable:
// Filter and OrderBy return new streams. The query is planned again every
// time the stream is iterated, so it observes the current rows and indices.
type RowStream struct {
	schema       *Schema
	tables       []*Table
	preds        []Expr
	orderBy      Expr
	tieBreakByID bool
	err          error
}

// All starts a stream over the given tables. A multi-table stream yields
// every combination of rows, narrowed down by Filter; a table may appear
// only once, so self-joins use Table.Alias.
func (scm *Schema) All(tables ...*Table) *RowStream {
	s := &RowStream{schema: scm, tables: tables}
	if len(tables) == 0 {
		s.err = tableErrf(nil, nil, 0, ErrUsage, "All() needs at least one table")
		return s
	}
	for i, tbl := range tables {
		if !scm.ownsTable(tbl) {
			s.err = tableErrf(tbl, nil, 0, ErrUsage, "table does not belong to this schema")
			return s
		}
		if slices.Contains(tables[:i], tbl) {
			s.err = tableErrf(tbl, nil, 0, ErrUsage, "table listed twice, use an alias")
			return s
		}
		if slices.ContainsFunc(tables[:i], func(prev *Table) bool { return strings.EqualFold(prev.name, tbl.name) }) {
			s.err = tableErrf(tbl, nil, 0, ErrUsage, "another table in the stream is named %s", tbl.name)
			return s
		}
	}
	s.tables = slices.Clone(tables)
	return s
}

func (s *RowStream) clone() *RowStream {
	c := *s
	c.preds = slices.Clip(c.preds)
	return &c
}

func (s *RowStream) Tables() []*Table {
	return slices.Clone(s.tables)
}

// Err returns the error recorded while building the stream. A stream with
// an error yields nothing.
func (s *RowStream) Err() error {
	return s.err
}

// Filter returns a stream additionally restricted by the given predicates.
func (s *RowStream) Filter(preds ...Expr) *RowStream {
	c := s.clone()
	if c.err != nil {
		return c
	}
	for _, e := range preds {
		if e == nil {
			c.err = tableErrf(nil, nil, 0, ErrUsage, "nil predicate")
			return c
		}
		for _, t := range tablesOf(e) {
			if !slices.Contains(s.tables, t) {
				c.err = tableErrf(t, nil, 0, ErrUsage, "predicate %v references a table that is not part of the stream", e)
				return c
			}
		}
		c.preds = append(c.preds, e)
	}
	return c
}

// OrderBy returns a stream sorted by the value of e. With tieBreakByID, rows
// with equal keys are ordered by row ID; otherwise they keep the order in
// which the scan visits them. Only single-table streams can be ordered.
func (s *RowStream) OrderBy(e Expr, tieBreakByID bool) *RowStream {
	c := s.clone()
	if c.err != nil {
		return c
	}
	if len(s.tables) != 1 {
		c.err = tableErrf(nil, nil, 0, ErrUsage, "OrderBy requires a single-table stream, got %d tables", len(s.tables))
		return c
	}
	for _, t := range tablesOf(e) {
		if t != s.tables[0] {
			c.err = tableErrf(t, nil, 0, ErrUsage, "order key %v references a table that is not part of the stream", e)
			return c
		}
	}
	c.orderBy = e
	c.tieBreakByID = tieBreakByID
	return c
}

func (s *RowStream) plan() *queryPlan {
	p := plan(s.schema, s.tables, s.preds)
	if s.schema.verbose {
		s.schema.logf("reldb: PLAN\n%v", p)
	}
	return p
}

// Explain describes how the stream would be executed right now.
func (s *RowStream) Explain() string {
	if s.err != nil {
		return fmt.Sprintf("error: %v", s.err)
	}
	return plan(s.schema, s.tables, s.preds).String()
}

// Tuples yields one slice per result, holding the bound row of every table
// in stream order. The slice is not reused between iterations.
func (s *RowStream) Tuples() iter.Seq[[]*Row] {
	return func(yield func([]*Row) bool) {
		if s.err != nil {
			return
		}
		if s.orderBy != nil {
			for row := range s.Rows() {
				if !yield([]*Row{row}) {
					return
				}
			}
			return
		}
		s.plan().join(s.schema, func(env *Env) bool {
			return yield(slices.Clone(env.rows))
		})
	}
}

// Rows yields the rows of a single-table stream. A multi-table stream yields
// nothing here, like a stream with an error; Collect and First report
// ErrUsage for it, and Tuples iterates it.
func (s *RowStream) Rows() iter.Seq[*Row] {
	return func(yield func(*Row) bool) {
		if s.err != nil || len(s.tables) != 1 {
			return
		}
		if s.orderBy == nil {
			s.plan().join(s.schema, func(env *Env) bool {
				return yield(env.rows[0])
			})
			return
		}
		for _, row := range s.sorted() {
			if !yield(row) {
				return
			}
		}
	}
}

type sortEntry struct {
	key any
	row *Row
}

func (s *RowStream) sorted() []*Row {
	var entries []sortEntry
	s.plan().join(s.schema, func(env *Env) bool {
		entries = append(entries, sortEntry{s.orderBy.Eval(env), env.rows[0]})
		return true
	})
	sort.SliceStable(entries, func(i, j int) bool {
		c := compareValues(entries[i].key, entries[j].key)
		if c == 0 && s.tieBreakByID {
			return entries[i].row.id < entries[j].row.id
		}
		return c < 0
	})
	result := make([]*Row, len(entries))
	for i, e := range entries {
		result[i] = e.row
	}
	return result
}

// Collect returns the rows of a single-table stream.
func (s *RowStream) Collect() ([]*Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.tables) != 1 {
		return nil, tableErrf(nil, nil, 0, ErrUsage, "Collect() on a %d-table stream, use CollectTuples()", len(s.tables))
	}
	var result []*Row
	for row := range s.Rows() {
		result = append(result, row)
	}
	return result, nil
}

func (s *RowStream) CollectTuples() ([][]*Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	var result [][]*Row
	for tup := range s.Tuples() {
		result = append(result, tup)
	}
	return result, nil
}

// First returns the first result row of a single-table stream, or nil.
func (s *RowStream) First() (*Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.tables) != 1 {
		return nil, tableErrf(nil, nil, 0, ErrUsage, "First() on a %d-table stream", len(s.tables))
	}
	for row := range s.Rows() {
		return row, nil
	}
	return nil, nil
}

func (s *RowStream) Count() (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	var n int
	s.plan().join(s.schema, func(env *Env) bool {
		n++
		return true
	})
	return n, nil
}
