package reldb

type TableStats struct {
	Rows    int
	Indices int

	// IndexRows is the number of rows covered by the table's indices,
	// summed over indices.
	IndexRows int
	Buckets   int
	Keys      int

	IndexKeySize int
	BitmapSize   int
}

func (ts *TableStats) TotalIndexSize() int {
	return ts.IndexKeySize + ts.BitmapSize
}

func (scm *Schema) TableStats(tbl *Table) TableStats {
	tbl = tbl.Base()
	result := TableStats{
		Rows:       int(tbl.live.GetCardinality()),
		Indices:    len(tbl.indices),
		BitmapSize: int(tbl.live.GetSizeInBytes()),
	}
	for _, idx := range tbl.indices {
		d := idx.data
		result.IndexRows += idx.Len()
		result.Buckets += len(d.buckets)
		result.Keys += d.keys.Len()
		result.IndexKeySize += d.keys.size()
		for key, b := range d.buckets {
			result.IndexKeySize += len(key)
			result.BitmapSize += int(b.ids.GetSizeInBytes())
		}
	}
	return result
}
