package reldb

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders tables, rows and indices as text for debugging and tests.
// Rows and buckets appear in row ID and key order, so the output is stable.
func (scm *Schema) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, tbl := range scm.tables {
		scm.dumpTable(&buf, f, tbl)
	}
	return buf.String()
}

func (scm *Schema) dumpTable(w *strings.Builder, f DumpFlags, tbl *Table) {
	prefix := tbl.Name()
	s := scm.TableStats(tbl)

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%s rows)\n", prefix, humanize.Comma(int64(s.Rows)))
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: indices = %d, index_rows = %s, buckets = %s, keys = %s, index_size = %s\n", prefix, s.Indices, humanize.Comma(int64(s.IndexRows)), humanize.Comma(int64(s.Buckets)), humanize.Comma(int64(s.Keys)), humanize.Bytes(uint64(s.TotalIndexSize())))
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		for _, id := range bitmapIDs(tbl.live) {
			fmt.Fprintf(w, "%s/%v = %s\n", prefix, id, loggableRow(scm.rows[id]))
		}
	}

	if f.Contains(DumpIndices) {
		for _, idx := range tbl.indices {
			scm.dumpIndex(w, prefix, f, idx)
		}
	}
}

func (scm *Schema) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, idx *Index) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i[" + idx.expr.String() + "]"
	fmt.Fprintf(w, "%s: %v (%d rows, %d buckets)\n", prefix, idx, idx.Len(), idx.BucketCount())

	if !f.Contains(DumpIndexRows) {
		return
	}
	if idx.ordered {
		var pos int
		for key := range idx.data.keys.scan(keyRange{}) {
			pos++
			if b := idx.data.buckets[string(key[:len(key)-rowIDSuffixLen])]; b != nil {
				fmt.Fprintf(w, "%s.%d: %s => %v\n", prefix, pos, formatValue(b.value), rowIDOfOrderedKey(key))
			} else {
				fmt.Fprintf(w, "%s.%d: ** NO BUCKET %s => %v\n", prefix, pos, hexstr(key), rowIDOfOrderedKey(key))
			}
		}
		return
	}
	keys := make([]string, 0, len(idx.data.buckets))
	for key := range idx.data.buckets {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for pos, key := range keys {
		b := idx.data.buckets[key]
		fmt.Fprintf(w, "%s.%d: %s => %v\n", prefix, pos+1, formatValue(b.value), bitmapIDs(b.ids))
	}
}
