package reldb

// Add stores a new row, assigning it a fresh row ID. Every ref field must
// point to a live row of its target table, and the row must not collide with
// an existing row in any unique index. Nothing is changed when Add fails.
func (scm *Schema) Add(row *Row) error {
	if row == nil {
		return tableErrf(nil, nil, 0, ErrUsage, "nil row")
	}
	tbl := row.table
	if !scm.ownsTable(tbl) {
		return tableErrf(tbl, nil, 0, ErrUsage, "table belongs to another schema")
	}
	if row.id != 0 {
		return tableErrf(tbl, nil, row.id, ErrUsage, "row has already been added")
	}
	if err := scm.validateRefs(row, nil); err != nil {
		return err
	}
	if err := scm.checkUnique(row, 0); err != nil {
		return err
	}

	scm.lastID++
	id := scm.lastID
	scm.commitRow(row, id)

	if scm.verbose {
		scm.logf("reldb: ADD %s/%v => %s", tbl.name, id, loggableRow(row))
	}
	scm.notify(&Change{table: tbl, op: OpAdd, id: id, row: row})
	return scm.afterMutation()
}

// MustAdd is like Add but panics on error.
func (scm *Schema) MustAdd(row *Row) *Row {
	ensure(scm.Add(row))
	return row
}

func (scm *Schema) commitRow(row *Row, id RowID) {
	row.id = id
	scm.rows[id] = row
	row.table.live.Add(uint64(id))
	for _, idx := range row.table.indices {
		idx.addRow(row)
	}
}

// validateRefs checks the ref fields of row. When old is non-nil, only
// fields that differ from old are checked.
func (scm *Schema) validateRefs(row, old *Row) error {
	for _, f := range row.table.fields {
		if f.Kind != KindRef {
			continue
		}
		ref := row.vals[f.pos].(Ref)
		if old != nil && old.vals[f.pos].(Ref) == ref {
			continue
		}
		target := scm.rows[ref.id]
		if target == nil {
			return tableErrf(row.table, nil, row.id, ErrInvalidReference, "%s points to missing row %v", f.Name, ref.id)
		}
		if target.table != f.Target {
			return tableErrf(row.table, nil, row.id, ErrInvalidReference, "%s points to %v of table %s, expected %s", f.Name, ref.id, target.table.name, f.Target.name)
		}
	}
	return nil
}

// checkUnique verifies that row can be admitted into every unique index of
// its table. Entries held by self are ignored.
func (scm *Schema) checkUnique(row *Row, self RowID) error {
	for _, idx := range row.table.indices {
		if !idx.unique {
			continue
		}
		value, key, ok := idx.entryFor(row)
		if !ok {
			continue
		}
		if other := idx.conflict(key, self); other != 0 {
			return tableErrf(row.table, idx, self, ErrUniqueViolation, "value %s already used by %v", formatValue(value), other)
		}
	}
	return nil
}
