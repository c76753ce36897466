package reldb

import (
	"encoding/json"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// loggableRow renders a row for log lines and dumps.
func loggableRow(row *Row) string {
	if row == nil {
		return "<none>"
	}
	if row.table.suppressContent {
		return "<suppressed>"
	}
	data, err := json.Marshal(row.fieldMap())
	if err != nil {
		return row.String()
	}
	return string(data)
}
