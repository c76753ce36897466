package reldb

// Remove deletes a stored row. Fails with ErrReferencedRow if a live row of
// any table refers to it; a row referring to itself does not block removal.
func (scm *Schema) Remove(row *Row) error {
	if !scm.isLive(row) {
		return scm.notStored(row)
	}
	if err := scm.removeRow(row, true); err != nil {
		return err
	}
	if scm.verbose {
		scm.logf("reldb: REMOVE %s/%v", row.table.name, row.id)
	}
	scm.notify(&Change{table: row.table, op: OpRemove, id: row.id, oldRow: row})
	return scm.afterMutation()
}

// removeRow unlinks row from its table, the arena and every index. Reference
// checking is skipped by Replace, which puts a row with the same ID back.
func (scm *Schema) removeRow(row *Row, checkRefs bool) error {
	if checkRefs {
		if referrer, field := scm.findReferrer(row); referrer != nil {
			return tableErrf(row.table, nil, row.id, ErrReferencedRow, "referenced by %s/%v via %s", referrer.table.name, referrer.id, field.Name)
		}
	}
	for _, idx := range row.table.indices {
		idx.removeRow(row)
	}
	row.table.live.Remove(uint64(row.id))
	delete(scm.rows, row.id)
	return nil
}

// findReferrer returns some live row other than row itself whose ref field
// points to row. Uses an unguarded index on the ref column when available.
func (scm *Schema) findReferrer(row *Row) (*Row, *Field) {
	for _, tbl := range scm.tables {
		for _, f := range tbl.refFields() {
			if f.Target != row.table {
				continue
			}
			if idx := scm.indicesByKey[(Column{tbl, f}).Key()]; idx != nil && idx.where == nil {
				for id := range idx.scanValue(row.id) {
					if id != row.id {
						return scm.rows[id], f
					}
				}
				continue
			}
			it := tbl.live.Iterator()
			for it.HasNext() {
				id := RowID(it.Next())
				if id == row.id {
					continue
				}
				other := scm.rows[id]
				if other.vals[f.pos].(Ref).id == row.id {
					return other, f
				}
			}
		}
	}
	return nil, nil
}
