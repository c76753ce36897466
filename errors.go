package reldb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidReference = errors.New("invalid reference")
	ErrUniqueViolation  = errors.New("unique constraint violation")
	ErrReferencedRow    = errors.New("row is still referenced")
	ErrIndexDefinition  = errors.New("invalid index definition")
	ErrUsage            = errors.New("invalid usage")
	ErrConsistency      = errors.New("index consistency check failed")
	ErrNotStored        = errors.New("row is not stored")
	ErrInvalidValue     = errors.New("invalid value")
	ErrSnapshot         = errors.New("invalid snapshot")
)

type TableError struct {
	Table *Table
	Index *Index
	RowID RowID
	Msg   string
	Err   error
}

func tableErrf(tbl *Table, idx *Index, id RowID, err error, format string, args ...any) error {
	return &TableError{tbl, idx, id, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	if e.Table != nil {
		buf.WriteString(e.Table.Name())
	} else {
		buf.WriteString("reldb")
	}
	if e.Index != nil {
		buf.WriteByte('[')
		buf.WriteString(e.Index.Key())
		buf.WriteByte(']')
	}
	if e.RowID != 0 {
		buf.WriteByte('/')
		buf.WriteString(e.RowID.String())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
