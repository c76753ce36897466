package reldb

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type catalog struct {
	school
	events *Table
}

func defineCatalog(scm *Schema) *catalog {
	c := &catalog{school: *defineSchool(scm)}
	c.events = DefineTable(scm, "Event", func(b *TableBuilder) {
		b.Ref("student", c.students)
		b.Time("at")
		b.Float("weight")
		b.Bool("done")
		b.Int("n")
	})
	must(scm.Index(c.enrollments.Col("student")))
	must(scm.OrderedIndex(c.events.Col("at")))
	must(scm.Index(c.students.Col("name"), Unique))
	return c
}

func fillCatalog(scm *Schema, c *catalog) {
	t0 := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	alice := scm.MustAdd(c.students.MustNew("alice"))
	bob := scm.MustAdd(c.students.MustNew("bob"))
	gone := scm.MustAdd(c.students.MustNew("gone"))
	math := scm.MustAdd(c.courses.MustNew("math"))
	scm.MustAdd(c.enrollments.MustNew(must(scm.Ref(alice)), must(scm.Ref(math))))
	scm.MustAdd(c.enrollments.MustNew(must(scm.Ref(bob)), must(scm.Ref(math))))
	scm.MustAdd(c.events.MustNew(must(scm.Ref(alice)), t0, 1.5, true, -7))
	scm.MustAdd(c.events.MustNew(must(scm.Ref(bob)), t0.Add(-time.Hour), 0.25, false, 1<<40))
	ensure(scm.Remove(gone))
	scm.MustReplace(alice, map[string]any{"name": "alice2"})
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			src := setup(t)
			c := defineCatalog(src)
			fillCatalog(src, c)

			var buf bytes.Buffer
			require.NoError(t, src.WriteSnapshot(&buf, SnapshotOpts{Compress: compress}))
			assert.Equal(t, snapshotMagic, buf.String()[:4])

			dst := setup(t)
			c2 := defineCatalog(dst)
			require.NoError(t, dst.ReadSnapshot(&buf))

			assert.Equal(t, src.Dump(DumpAll&^DumpStats), dst.Dump(DumpAll&^DumpStats))
			assert.Equal(t, src.TableStats(c.events).Keys, dst.TableStats(c2.events).Keys)
			assert.Equal(t, src.LastRowID(), dst.LastRowID())
			require.NoError(t, dst.Verify())

			alice := must(dst.All(c2.students).Filter(c2.students.Col("name").Eq("alice2")).First())
			require.NotNil(t, alice)
			assert.Equal(t, RowID(1), alice.ID())

			events := must(dst.All(c2.events).OrderBy(c2.events.Col("at"), true).Collect())
			require.Len(t, events, 2)
			assert.Equal(t, 0.25, events[0].Float("weight"))
			assert.Equal(t, int64(1<<40), events[0].Int("n"))
			assert.Equal(t, int64(-7), events[1].Int("n"))
			assert.True(t, events[1].Bool("done"))
			assert.True(t, events[1].Time("at").Equal(time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)))
			assert.Same(t, alice, dst.Get(events[1].Ref("student")))

			// new rows continue after the restored counter
			carol := dst.MustAdd(c2.students.MustNew("carol"))
			assert.Equal(t, src.LastRowID()+1, carol.ID())
			err := dst.Remove(alice)
			assert.True(t, errors.Is(err, ErrReferencedRow), "%v", err)
		})
	}
}

func TestSnapshotErrors(t *testing.T) {
	t.Run("non-empty schema", func(t *testing.T) {
		src := setup(t)
		fillCatalog(src, defineCatalog(src))
		var buf bytes.Buffer
		require.NoError(t, src.WriteSnapshot(&buf, SnapshotOpts{}))

		err := src.ReadSnapshot(&buf)
		assert.True(t, errors.Is(err, ErrUsage), "%v", err)
	})

	bad := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("XDB1\x00")},
		{"bad flags", []byte("RDB1\x80")},
		{"garbage", []byte("RDB1\x00\xc1\xc1\xc1")},
		{"bad zstd", []byte("RDB1\x01garbage")},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			scm := setup(t)
			defineCatalog(scm)
			err := scm.ReadSnapshot(bytes.NewReader(tt.data))
			assert.True(t, errors.Is(err, ErrSnapshot), "%v", err)
			assert.Equal(t, 0, scm.Len())
		})
	}

	headers := []struct {
		name  string
		h     snapshotHeader
		isErr error
	}{
		{"version", snapshotHeader{Version: 99}, ErrSnapshot},
		{"unknown table", snapshotHeader{Version: snapshotVersion, LastID: 1, Tables: []snapshotTable{
			{Name: "Nope", Fields: []snapshotField{{Name: "x", Kind: int(KindString)}}},
		}}, ErrSnapshot},
		{"field mismatch", snapshotHeader{Version: snapshotVersion, LastID: 1, Tables: []snapshotTable{
			{Name: "Course", Fields: []snapshotField{{Name: "title", Kind: int(KindInt)}}},
		}}, ErrSnapshot},
		{"row ID beyond counter", snapshotHeader{Version: snapshotVersion, LastID: 1, Tables: []snapshotTable{
			{Name: "Course", Fields: courseFields, Rows: []snapshotRow{{ID: 2, Values: []any{"x"}}}},
		}}, ErrSnapshot},
		{"duplicate row ID", snapshotHeader{Version: snapshotVersion, LastID: 5, Tables: []snapshotTable{
			{Name: "Course", Fields: courseFields, Rows: []snapshotRow{{ID: 1, Values: []any{"x"}}, {ID: 1, Values: []any{"y"}}}},
		}}, ErrSnapshot},
		{"wrong value kind", snapshotHeader{Version: snapshotVersion, LastID: 5, Tables: []snapshotTable{
			{Name: "Course", Fields: courseFields, Rows: []snapshotRow{{ID: 1, Values: []any{42}}}},
		}}, ErrInvalidValue},
		{"dangling ref", snapshotHeader{Version: snapshotVersion, LastID: 5, Tables: []snapshotTable{
			{Name: "Course", Fields: courseFields, Rows: []snapshotRow{{ID: 1, Values: []any{"math"}}}},
			{Name: "Enrollment", Fields: enrollmentFields, Rows: []snapshotRow{{ID: 2, Values: []any{4, 1}}}},
		}}, ErrInvalidReference},
		{"ref to wrong table", snapshotHeader{Version: snapshotVersion, LastID: 5, Tables: []snapshotTable{
			{Name: "Course", Fields: courseFields, Rows: []snapshotRow{{ID: 1, Values: []any{"math"}}}},
			{Name: "Enrollment", Fields: enrollmentFields, Rows: []snapshotRow{{ID: 2, Values: []any{1, 1}}}},
		}}, ErrInvalidReference},
		{"unique violation", snapshotHeader{Version: snapshotVersion, LastID: 5, Tables: []snapshotTable{
			{Name: "Student", Fields: studentFields, Rows: []snapshotRow{{ID: 1, Values: []any{"a"}}, {ID: 2, Values: []any{"a"}}}},
		}}, ErrUniqueViolation},
	}
	for _, tt := range headers {
		t.Run(tt.name, func(t *testing.T) {
			scm := setup(t)
			c := defineCatalog(scm)
			err := scm.ReadSnapshot(bytes.NewReader(encodeSnapshot(t, &tt.h)))
			assert.True(t, errors.Is(err, tt.isErr), "%v", err)

			assert.Equal(t, 0, scm.Len())
			assert.Equal(t, RowID(0), scm.LastRowID())
			assert.Equal(t, 0, scm.IndexFor(c.students.Col("name")).Len())
			require.NoError(t, scm.Verify())

			// the schema stays usable
			scm.MustAdd(c.students.MustNew("a"))
			assert.Equal(t, RowID(1), scm.LastRowID())
		})
	}
}

var (
	studentFields    = []snapshotField{{Name: "name", Kind: int(KindString)}}
	courseFields     = []snapshotField{{Name: "title", Kind: int(KindString)}}
	enrollmentFields = []snapshotField{
		{Name: "student", Kind: int(KindRef), Target: "Student"},
		{Name: "course", Kind: int(KindRef), Target: "Course"},
	}
)

func encodeSnapshot(t testing.TB, h *snapshotHeader) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(0)
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(h))
	return buf.Bytes()
}
