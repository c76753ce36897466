package reldb

// Verify recomputes every index from the live rows and compares the result
// with the maintained structures. It also checks that table row sets agree
// with the row arena and that every ref points to a live row of its target
// table. Any mismatch is reported as ErrConsistency; Rebuild and RebuildAll
// repair index mismatches.
func (scm *Schema) Verify() error {
	var total uint64
	for _, tbl := range scm.tables {
		total += tbl.live.GetCardinality()
		it := tbl.live.Iterator()
		for it.HasNext() {
			id := RowID(it.Next())
			row := scm.rows[id]
			if row == nil {
				return tableErrf(tbl, nil, id, ErrConsistency, "live row missing from arena")
			}
			if row.table != tbl || row.id != id {
				return tableErrf(tbl, nil, id, ErrConsistency, "arena holds %v", row)
			}
			for _, f := range tbl.refFields() {
				ref := row.vals[f.pos].(Ref)
				if target := scm.rows[ref.id]; target == nil || target.table != f.Target {
					return tableErrf(tbl, nil, id, ErrConsistency, "%s points to invalid row %v", f.Name, ref.id)
				}
			}
		}
	}
	if total != uint64(len(scm.rows)) {
		return tableErrf(nil, nil, 0, ErrConsistency, "tables hold %d rows, arena holds %d", total, len(scm.rows))
	}

	for _, idx := range scm.indices {
		expected, err := idx.build()
		if err != nil {
			return tableErrf(idx.table, idx, 0, ErrConsistency, "%v", err)
		}
		if msg := idx.data.diff(expected, idx.ordered); msg != "" {
			return tableErrf(idx.table, idx, 0, ErrConsistency, "%s", msg)
		}
		if idx.unique {
			for _, b := range idx.data.buckets {
				if n := b.ids.GetCardinality(); n > 1 {
					return tableErrf(idx.table, idx, 0, ErrConsistency, "unique bucket %s holds %d rows", formatValue(b.value), n)
				}
			}
		}
	}
	return nil
}

// Rebuild regenerates an index from the live rows of its table.
func (scm *Schema) Rebuild(idx *Index) error {
	if idx == nil || idx.schema != scm {
		return tableErrf(nil, idx, 0, ErrUsage, "index does not belong to this schema")
	}
	d, err := idx.build()
	if err != nil {
		return err
	}
	idx.data = d
	if scm.verbose {
		scm.logf("reldb: REBUILD %s: %v (%d rows)", idx.table.name, idx, idx.Len())
	}
	return nil
}

func (scm *Schema) RebuildAll() error {
	for _, idx := range scm.indices {
		if err := scm.Rebuild(idx); err != nil {
			return err
		}
	}
	return nil
}
