package reldb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot format: the 4-byte magic, one flags byte, then a msgpack-encoded
// snapshotHeader, zstd-compressed when snapFlagZstd is set.
const (
	snapshotMagic      = "RDB1"
	snapshotVersion    = 1
	snapFlagZstd  byte = 1 << 0
)

type SnapshotOpts struct {
	Compress bool
}

type snapshotHeader struct {
	Version int             `msgpack:"v"`
	LastID  uint64          `msgpack:"last"`
	Tables  []snapshotTable `msgpack:"t"`
}

type snapshotTable struct {
	Name   string          `msgpack:"n"`
	Fields []snapshotField `msgpack:"f"`
	Rows   []snapshotRow   `msgpack:"r"`
}

type snapshotField struct {
	Name   string `msgpack:"n"`
	Kind   int    `msgpack:"k"`
	Target string `msgpack:"t,omitempty"`
}

type snapshotRow struct {
	ID     uint64 `msgpack:"id"`
	Values []any  `msgpack:"v"`
}

// WriteSnapshot serializes the row ID counter and every live row.
func (scm *Schema) WriteSnapshot(w io.Writer, opt SnapshotOpts) error {
	var flags byte
	if opt.Compress {
		flags |= snapFlagZstd
	}
	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}

	out := w
	var zw *zstd.Encoder
	if opt.Compress {
		var err error
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return err
		}
		out = zw
	}

	enc := msgpack.GetEncoder()
	enc.Reset(out)
	enc.SetSortMapKeys(true)
	err := enc.Encode(scm.snapshotHeader())
	msgpack.PutEncoder(enc)
	if err != nil {
		if zw != nil {
			zw.Close()
		}
		return fmt.Errorf("reldb: encoding snapshot: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	if scm.verbose {
		scm.logf("reldb: SNAPSHOT.WRITE %d rows, last ID %v, compress=%v", len(scm.rows), scm.lastID, opt.Compress)
	}
	return nil
}

func (scm *Schema) snapshotHeader() *snapshotHeader {
	h := &snapshotHeader{
		Version: snapshotVersion,
		LastID:  uint64(scm.lastID),
	}
	for _, tbl := range scm.tables {
		st := snapshotTable{Name: tbl.name}
		for _, f := range tbl.fields {
			sf := snapshotField{Name: f.Name, Kind: int(f.Kind)}
			if f.Target != nil {
				sf.Target = f.Target.name
			}
			st.Fields = append(st.Fields, sf)
		}
		for _, id := range bitmapIDs(tbl.live) {
			row := scm.rows[id]
			vals := make([]any, len(row.vals))
			for i, v := range row.vals {
				if ref, ok := v.(Ref); ok {
					v = uint64(ref.id)
				}
				vals[i] = v
			}
			st.Rows = append(st.Rows, snapshotRow{ID: uint64(id), Values: vals})
		}
		h.Tables = append(h.Tables, st)
	}
	return h
}

// ReadSnapshot loads a snapshot into a schema that has the same table
// definitions and no rows. Row IDs are preserved, references are validated
// and registered indices are rebuilt. On error the schema is left empty.
func (scm *Schema) ReadSnapshot(r io.Reader) error {
	if len(scm.rows) != 0 || scm.lastID != 0 {
		return tableErrf(nil, nil, 0, ErrUsage, "ReadSnapshot requires an empty schema")
	}

	br := bufio.NewReader(r)
	var prefix [len(snapshotMagic) + 1]byte
	if _, err := io.ReadFull(br, prefix[:]); err != nil {
		return tableErrf(nil, nil, 0, ErrSnapshot, "reading header: %v", err)
	}
	if !bytes.Equal(prefix[:len(snapshotMagic)], []byte(snapshotMagic)) {
		return tableErrf(nil, nil, 0, ErrSnapshot, "bad magic %s", hexstr(prefix[:len(snapshotMagic)]))
	}
	flags := prefix[len(snapshotMagic)]
	if flags&^snapFlagZstd != 0 {
		return tableErrf(nil, nil, 0, ErrSnapshot, "unsupported flags 0x%x", flags)
	}

	var in io.Reader = br
	if flags&snapFlagZstd != 0 {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return tableErrf(nil, nil, 0, ErrSnapshot, "zstd: %v", err)
		}
		defer zr.Close()
		in = zr
	}

	dec := msgpack.GetDecoder()
	dec.Reset(in)
	dec.UseLooseInterfaceDecoding(true)
	var h snapshotHeader
	err := dec.Decode(&h)
	msgpack.PutDecoder(dec)
	if err != nil {
		return tableErrf(nil, nil, 0, ErrSnapshot, "decoding: %v", err)
	}

	err = scm.loadSnapshot(&h)
	if err != nil {
		scm.resetRows()
		return err
	}
	if scm.verbose {
		scm.logf("reldb: SNAPSHOT.READ %d rows, last ID %v", len(scm.rows), scm.lastID)
	}
	return scm.afterMutation()
}

func (scm *Schema) loadSnapshot(h *snapshotHeader) error {
	if h.Version != snapshotVersion {
		return tableErrf(nil, nil, 0, ErrSnapshot, "unsupported version %d", h.Version)
	}
	lastID := RowID(h.LastID)

	// decode every row before touching the schema
	var rows []*Row
	seen := make(map[RowID]*Row)
	for _, st := range h.Tables {
		tbl := scm.TableNamed(st.Name)
		if tbl == nil {
			return tableErrf(nil, nil, 0, ErrSnapshot, "unknown table %q", st.Name)
		}
		if err := checkSnapshotFields(tbl, st.Fields); err != nil {
			return err
		}
		for _, sr := range st.Rows {
			id := RowID(sr.ID)
			if id == 0 || id > lastID {
				return tableErrf(tbl, nil, id, ErrSnapshot, "row ID out of range (last ID %v)", lastID)
			}
			if seen[id] != nil {
				return tableErrf(tbl, nil, id, ErrSnapshot, "duplicate row ID")
			}
			row, err := decodeSnapshotRow(tbl, id, sr.Values)
			if err != nil {
				return err
			}
			seen[id] = row
			rows = append(rows, row)
		}
	}

	for _, row := range rows {
		for _, f := range row.table.refFields() {
			ref := row.vals[f.pos].(Ref)
			if target := seen[ref.id]; target == nil || target.table != f.Target {
				return tableErrf(row.table, nil, row.id, ErrInvalidReference, "%s points to invalid row %v", f.Name, ref.id)
			}
		}
	}

	for _, row := range rows {
		scm.rows[row.id] = row
		row.table.live.Add(uint64(row.id))
	}
	scm.lastID = lastID

	built := make([]*indexData, len(scm.indices))
	for i, idx := range scm.indices {
		d, err := idx.build()
		if err != nil {
			return err
		}
		built[i] = d
	}
	for i, idx := range scm.indices {
		idx.data = built[i]
	}
	return nil
}

func checkSnapshotFields(tbl *Table, fields []snapshotField) error {
	if len(fields) != len(tbl.fields) {
		return tableErrf(tbl, nil, 0, ErrSnapshot, "snapshot has %d fields, table has %d", len(fields), len(tbl.fields))
	}
	for i, sf := range fields {
		f := tbl.fields[i]
		var target string
		if f.Target != nil {
			target = f.Target.name
		}
		if sf.Name != f.Name || Kind(sf.Kind) != f.Kind || sf.Target != target {
			return tableErrf(tbl, nil, 0, ErrSnapshot, "field %d is %s %v in snapshot, %s %v in schema", i, sf.Name, Kind(sf.Kind), f.Name, f.Kind)
		}
	}
	return nil
}

func decodeSnapshotRow(tbl *Table, id RowID, vals []any) (*Row, error) {
	if len(vals) != len(tbl.fields) {
		return nil, tableErrf(tbl, nil, id, ErrSnapshot, "row has %d values for %d fields", len(vals), len(tbl.fields))
	}
	row := &Row{table: tbl, id: id, vals: make([]any, len(vals))}
	for i, f := range tbl.fields {
		v := vals[i]
		switch f.Kind {
		case KindRef:
			n, ok := snapshotUint(v)
			if !ok {
				return nil, tableErrf(tbl, nil, id, ErrSnapshot, "field %s: invalid ref %T %v", f.Name, v, v)
			}
			v = Ref{RowID(n)}
		case KindTime:
			if t, ok := v.(time.Time); ok {
				v = t.UTC()
			}
		}
		cv, err := coerceField(f.Kind, v)
		if err != nil {
			return nil, tableErrf(tbl, nil, id, fmt.Errorf("%w: %w", ErrSnapshot, err), "field %s", f.Name)
		}
		row.vals[i] = cv
	}
	return row, nil
}

func snapshotUint(v any) (uint64, bool) {
	switch v := v.(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 && v == math.Trunc(v) {
			return uint64(v), true
		}
	}
	return 0, false
}

func (scm *Schema) resetRows() {
	clear(scm.rows)
	scm.lastID = 0
	for _, tbl := range scm.tables {
		tbl.live.Clear()
	}
}
