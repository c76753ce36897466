package reldb

import (
	"fmt"
)

type (
	Change struct {
		table  *Table
		op     Op
		id     RowID
		row    *Row
		oldRow *Row
	}

	Op int
)

const (
	OpNone    Op = 0
	OpAdd     Op = 1
	OpRemove  Op = 2
	OpReplace Op = 3
)

func (chg *Change) Table() *Table {
	return chg.table
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) RowID() RowID {
	return chg.id
}
func (chg *Change) HasRow() bool {
	return chg.row != nil
}

// Row is the stored row after the change; nil for OpRemove.
func (chg *Change) Row() *Row {
	return chg.row
}
func (chg *Change) HasOldRow() bool {
	return chg.oldRow != nil
}

// OldRow is the row before the change; nil for OpAdd.
func (chg *Change) OldRow() *Row {
	return chg.oldRow
}

func (chg *Change) String() string {
	return fmt.Sprintf("%v %s/%v", chg.op, chg.table.name, chg.id)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
