package reldb

import (
	"fmt"
	"iter"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Index materializes the value of an expression over the rows of one table.
// Every index keeps a hash bucket per distinct value; an ordered index also
// keeps a sorted key list for range scans.
type Index struct {
	schema  *Schema
	table   *Table
	expr    Expr
	key     string
	where   Expr
	unique  bool
	ordered bool
	data    *indexData
}

type indexData struct {
	buckets map[string]*bucket
	members *roaring64.Bitmap
	keys    keyList
}

type bucket struct {
	value any
	ids   *roaring64.Bitmap
}

type indexOpt int

const (
	Unique = indexOpt(1)
)

// IndexWhere restricts an index to the rows for which Guard is true.
type IndexWhere struct {
	Guard Expr
}

func Where(guard Expr) IndexWhere {
	return IndexWhere{guard}
}

func newIndexData() *indexData {
	return &indexData{
		buckets: make(map[string]*bucket),
		members: roaring64.New(),
	}
}

func (idx *Index) Table() *Table   { return idx.table }
func (idx *Index) Expr() Expr      { return idx.expr }
func (idx *Index) Key() string     { return idx.key }
func (idx *Index) Guard() Expr     { return idx.where }
func (idx *Index) IsUnique() bool  { return idx.unique }
func (idx *Index) IsOrdered() bool { return idx.ordered }

// Len returns the number of rows covered by the index.
func (idx *Index) Len() int {
	return int(idx.data.members.GetCardinality())
}

func (idx *Index) BucketCount() int {
	return len(idx.data.buckets)
}

func (idx *Index) String() string {
	var buf strings.Builder
	if idx.ordered {
		buf.WriteString("ordered ")
	}
	if idx.unique {
		buf.WriteString("unique ")
	}
	buf.WriteString("index on ")
	buf.WriteString(idx.expr.String())
	if idx.where != nil {
		buf.WriteString(" where ")
		buf.WriteString(idx.where.String())
	}
	return buf.String()
}

// Lookup returns the rows whose indexed value equals value, in row ID order.
func (idx *Index) Lookup(value any) []*Row {
	var result []*Row
	for id := range idx.scanValue(idx.literal(value)) {
		result = append(result, idx.schema.rows[id])
	}
	return result
}

// LookupOne returns the first row whose indexed value equals value, or nil.
func (idx *Index) LookupOne(value any) *Row {
	for id := range idx.scanValue(idx.literal(value)) {
		return idx.schema.rows[id]
	}
	return nil
}

func (idx *Index) literal(value any) any {
	lit, ok := literalFor(idx.expr, value).(Lit)
	if !ok {
		panic(fmt.Errorf("%v: lookup value must be a literal, got %T", idx, value))
	}
	return lit.Value
}

// entryFor evaluates the index on a row of its table. ok is false when the
// guard excludes the row.
func (idx *Index) entryFor(row *Row) (value any, key string, ok bool) {
	env := newEnv([]*Table{idx.table})
	env.rows[0] = row
	if idx.where != nil && !truthy(idx.where.Eval(env)) {
		return nil, "", false
	}
	value = idx.expr.Eval(env)
	return value, encodeKey(value), true
}

func (idx *Index) addRow(row *Row) {
	if value, key, ok := idx.entryFor(row); ok {
		idx.data.add(value, key, row.id, idx.ordered)
	}
}

func (idx *Index) removeRow(row *Row) {
	if _, key, ok := idx.entryFor(row); ok {
		idx.data.remove(key, row.id, idx.ordered)
	}
}

// conflict returns the ID of a row other than self that already holds the
// given value in a unique index, or 0.
func (idx *Index) conflict(key string, self RowID) RowID {
	b := idx.data.buckets[key]
	if b == nil {
		return 0
	}
	it := b.ids.Iterator()
	for it.HasNext() {
		if id := RowID(it.Next()); id != self {
			return id
		}
	}
	return 0
}

// build computes the index contents from the live rows of its table.
func (idx *Index) build() (*indexData, error) {
	d := newIndexData()
	it := idx.table.live.Iterator()
	for it.HasNext() {
		row := idx.schema.rows[RowID(it.Next())]
		value, key, ok := idx.entryFor(row)
		if !ok {
			continue
		}
		if idx.unique {
			if b := d.buckets[key]; b != nil {
				return nil, tableErrf(idx.table, idx, row.id, fmt.Errorf("%w: %w", ErrIndexDefinition, ErrUniqueViolation), "value %s already used by %v", formatValue(value), RowID(b.ids.Minimum()))
			}
		}
		d.add(value, key, row.id, idx.ordered)
	}
	return d, nil
}

func (idx *Index) scanValue(value any) iter.Seq[RowID] {
	return func(yield func(RowID) bool) {
		b := idx.data.buckets[encodeKey(value)]
		if b == nil {
			return
		}
		for _, id := range bitmapIDs(b.ids) {
			if !yield(id) {
				return
			}
		}
	}
}

func (idx *Index) scanRange(rang keyRange) iter.Seq[RowID] {
	if !idx.ordered {
		panic(fmt.Errorf("%v: range scan requires an ordered index", idx))
	}
	return func(yield func(RowID) bool) {
		for key := range idx.data.keys.scan(rang) {
			if !yield(rowIDOfOrderedKey(key)) {
				return
			}
		}
	}
}

func (idx *Index) scanAll() iter.Seq[RowID] {
	return func(yield func(RowID) bool) {
		for _, id := range bitmapIDs(idx.data.members) {
			if !yield(id) {
				return
			}
		}
	}
}

func (d *indexData) add(value any, key string, id RowID, ordered bool) {
	b := d.buckets[key]
	if b == nil {
		b = &bucket{value: value, ids: roaring64.New()}
		d.buckets[key] = b
	}
	b.ids.Add(uint64(id))
	d.members.Add(uint64(id))
	if ordered {
		d.keys.insert(orderedKey(key, id))
	}
}

func (d *indexData) remove(key string, id RowID, ordered bool) {
	if b := d.buckets[key]; b != nil {
		b.ids.Remove(uint64(id))
		if b.ids.IsEmpty() {
			delete(d.buckets, key)
		}
	}
	d.members.Remove(uint64(id))
	if ordered {
		d.keys.delete(orderedKey(key, id))
	}
}

// diff describes the first difference between d and the expected contents,
// or returns an empty string.
func (d *indexData) diff(expected *indexData, ordered bool) string {
	if len(d.buckets) != len(expected.buckets) {
		return fmt.Sprintf("%d buckets, expected %d", len(d.buckets), len(expected.buckets))
	}
	for key, eb := range expected.buckets {
		b := d.buckets[key]
		if b == nil {
			return fmt.Sprintf("missing bucket %s", formatValue(eb.value))
		}
		if !b.ids.Equals(eb.ids) {
			return fmt.Sprintf("bucket %s has rows %v, expected %v", formatValue(eb.value), bitmapIDs(b.ids), bitmapIDs(eb.ids))
		}
	}
	if !d.members.Equals(expected.members) {
		return fmt.Sprintf("covers %d rows, expected %d", d.members.GetCardinality(), expected.members.GetCardinality())
	}
	if ordered && !d.keys.equal(&expected.keys) {
		return fmt.Sprintf("sorted keys diverge (%d keys, expected %d)", d.keys.Len(), expected.keys.Len())
	}
	return ""
}

// bitmapIDs snapshots a bitmap so that callers may mutate the schema while
// iterating the result.
func bitmapIDs(bm *roaring64.Bitmap) []RowID {
	result := make([]RowID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		result = append(result, RowID(it.Next()))
	}
	return result
}
