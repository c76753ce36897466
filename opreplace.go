package reldb

// Replace substitutes a stored row with a copy that has the given field
// changes applied, keeping the row ID so that existing refs resolve to the
// new row. The old *Row stops being stored.
//
// Unique indices are rechecked ignoring the row's own entries, and changed
// ref fields must point to live rows of their target tables. Nothing is
// changed when Replace fails.
func (scm *Schema) Replace(row *Row, changes map[string]any) (*Row, error) {
	if !scm.isLive(row) {
		return nil, scm.notStored(row)
	}
	newRow, err := row.with(changes)
	if err != nil {
		return nil, err
	}
	id := row.id
	newRow.id = id
	if err := scm.validateRefs(newRow, row); err != nil {
		return nil, err
	}
	if err := scm.checkUnique(newRow, id); err != nil {
		return nil, err
	}

	ensure(scm.removeRow(row, false))
	scm.commitRow(newRow, id)

	if scm.verbose {
		scm.logf("reldb: REPLACE %s/%v => %s", row.table.name, id, loggableRow(newRow))
	}
	scm.notify(&Change{table: row.table, op: OpReplace, id: id, row: newRow, oldRow: row})
	return newRow, scm.afterMutation()
}

// MustReplace is like Replace but panics on error.
func (scm *Schema) MustReplace(row *Row, changes map[string]any) *Row {
	return must(scm.Replace(row, changes))
}
