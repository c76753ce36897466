package reldb

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomMutationsKeepIndicesConsistent(t *testing.T) {
	scm := NewSchema(SchemaOpts{Logf: t.Logf})
	students := defineStudents(scm)
	name, parent, score := students.Col("name"), students.Col("parent"), students.Col("score")
	must(scm.Index(parent))
	must(scm.OrderedIndex(score))
	must(scm.OrderedIndex(score, name))
	must(scm.Index(name, Unique, Where(score.Ge(50))))
	must(scm.Index(Not(parent.Eq("p0"))))

	rnd := rand.New(rand.NewPCG(1, 2))
	var live []*Row
	for i := range 2000 {
		switch op := rnd.IntN(10); {
		case op < 5 || len(live) == 0:
			row := students.MustNew(fmt.Sprintf("n%d", rnd.IntN(50)), fmt.Sprintf("p%d", rnd.IntN(4)), rnd.IntN(100))
			err := scm.Add(row)
			if err != nil {
				require.True(t, errors.Is(err, ErrUniqueViolation), "%v", err)
				continue
			}
			live = append(live, row)
		case op < 8:
			k := rnd.IntN(len(live))
			row, err := scm.Replace(live[k], map[string]any{"score": rnd.IntN(100), "parent": fmt.Sprintf("p%d", rnd.IntN(4))})
			if err != nil {
				require.True(t, errors.Is(err, ErrUniqueViolation), "%v", err)
				continue
			}
			live[k] = row
		default:
			k := rnd.IntN(len(live))
			require.NoError(t, scm.Remove(live[k]))
			live = slices.Delete(live, k, k+1)
		}
		if i%100 == 0 {
			require.NoError(t, scm.Verify(), "after %d mutations", i)
		}
	}
	require.NoError(t, scm.Verify())
	require.Equal(t, len(live), scm.Count(students))

	for range 50 {
		lo, hi := rnd.IntN(100), rnd.IntN(100)
		p := fmt.Sprintf("p%d", rnd.IntN(4))
		queries := [][]Expr{
			{score.Between(lo, hi)},
			{score.Gt(lo), score.Le(hi)},
			{parent.Eq(p)},
			{parent.Eq(p), score.Ge(lo)},
			{Tup(score, name).Ge([]any{lo, "n2"})},
			{Not(parent.Eq("p0"))},
			{name.Eq("n7"), score.Ge(50)},
		}
		for _, preds := range queries {
			indexed := must(scm.All(students).Filter(preds...).Collect())
			expected := fullScan(live, preds)
			assert.ElementsMatch(t, expected, indexed, "%v", preds)
		}
	}
}

func fullScan(rows []*Row, preds []Expr) []*Row {
	var result []*Row
	for _, row := range rows {
		ok := true
		for _, e := range preds {
			if !truthy(row.Eval(e)) {
				ok = false
				break
			}
		}
		if ok {
			result = append(result, row)
		}
	}
	return result
}

func TestVerifyDetectsCorruption(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	byParent := must(scm.Index(students.Col("parent")))
	byScore := must(scm.OrderedIndex(students.Col("score")))
	a := scm.MustAdd(students.MustNew("a", "p1", 1))
	scm.MustAdd(students.MustNew("b", "p2", 2))
	require.NoError(t, scm.Verify())

	byParent.removeRow(a)
	err := scm.Verify()
	assert.True(t, errors.Is(err, ErrConsistency), "%v", err)
	var te *TableError
	require.ErrorAs(t, err, &te)
	assert.Same(t, byParent, te.Index)

	require.NoError(t, scm.Rebuild(byParent))
	require.NoError(t, scm.Verify())

	byScore.data.keys.delete(orderedKey(encodeKey(int64(2)), 2))
	assert.True(t, errors.Is(scm.Verify(), ErrConsistency))
	require.NoError(t, scm.RebuildAll())
	require.NoError(t, scm.Verify())

	students.live.Remove(uint64(a.ID()))
	assert.True(t, errors.Is(scm.Verify(), ErrConsistency))
	students.live.Add(uint64(a.ID()))
	require.NoError(t, scm.Verify())

	other := NewSchema(SchemaOpts{})
	otherIdx := must(other.Index(defineStudents(other).Col("name")))
	assert.True(t, errors.Is(scm.Rebuild(otherIdx), ErrUsage))
	assert.True(t, errors.Is(scm.Rebuild(nil), ErrUsage))
}

func TestStrictModeReportsInconsistency(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	byParent := must(scm.Index(students.Col("parent")))
	a := scm.MustAdd(students.MustNew("a", "p1", 1))

	byParent.removeRow(a)
	err := scm.Add(students.MustNew("b", "p2", 2))
	assert.True(t, errors.Is(err, ErrConsistency), "%v", err)
	assert.Equal(t, 2, scm.Count(students))

	require.NoError(t, scm.Rebuild(byParent))
	require.NoError(t, scm.Add(students.MustNew("c", "p3", 3)))
}

func TestRebuildAfterRowsAdded(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	scm.MustAdd(students.MustNew("a", "p1", 1))
	scm.MustAdd(students.MustNew("b", "p1", 2))
	idx := must(scm.Index(students.Col("parent"), Unique, Where(students.Col("score").Gt(1))))
	require.NoError(t, scm.Rebuild(idx))
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, "b", idx.LookupOne("p1").Str("name"))
}
