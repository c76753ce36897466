package reldb

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerStrategies(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	name, parent, score := students.Col("name"), students.Col("parent"), students.Col("score")
	must(scm.Index(parent))
	must(scm.OrderedIndex(score))
	must(scm.Index(parent, score))
	must(scm.Index(name, Where(parent.Eq("p1"))))
	must(scm.Index(Not(parent.Eq("p2"))))

	scm.MustAdd(students.MustNew("a", "p1", 10))
	scm.MustAdd(students.MustNew("b", "p2", 20))
	scm.MustAdd(students.MustNew("a", "p2", 30))

	tests := []struct {
		preds []Expr
		plan  string
		want  []string
	}{
		{nil, "1. Student: full scan\n", []string{"a", "b", "a"}},
		{[]Expr{name.Eq("b")}, "1. Student: full scan\n   filter Student.name == \"b\"\n", []string{"b"}},
		{[]Expr{parent.Eq("p2")}, "1. Student: equality scan Student.parent = \"p2\" via index on Student.parent satisfying Student.parent == \"p2\"\n", []string{"b", "a"}},
		{[]Expr{score.Eq(20), parent.Eq("p2")}, "1. Student: composite equality scan (Student.parent, Student.score) = (\"p2\", 20)", []string{"b"}},
		{[]Expr{score.Ge(20)}, "1. Student: range scan Student.score >= 20 via ordered index on Student.score", []string{"b", "a"}},
		{[]Expr{name.Eq("a"), parent.Eq("p1")}, "1. Student: equality scan Student.parent = \"p1\" via index on Student.parent", []string{"a"}},
		{[]Expr{Not(parent.Eq("p2"))}, "1. Student: boolean index scan", []string{"a"}},
		{[]Expr{score.Gt(15), name.Eq("a")}, "   filter Student.name == \"a\"\n", []string{"a"}},
	}
	for _, tt := range tests {
		q := scm.All(students).Filter(tt.preds...)
		plan := q.Explain()
		assert.True(t, strings.Contains(plan, tt.plan), "plan for %v:\n%s", tt.preds, plan)
		assert.Equal(t, tt.want, names(t, q), "%v", tt.preds)
	}
}

func TestPartialIndexRequiresGuard(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	name, parent := students.Col("name"), students.Col("parent")
	idx := must(scm.Index(name, Where(parent.Eq("p1"))))
	scm.MustAdd(students.MustNew("a", "p1", 0))
	scm.MustAdd(students.MustNew("a", "p2", 0))
	scm.MustAdd(students.MustNew("b", "p1", 0))
	assert.Equal(t, 2, idx.Len())

	// without the guard the partial index would miss rows
	q := scm.All(students).Filter(name.Eq("a"))
	assert.Contains(t, q.Explain(), "full scan")
	rows := must(q.Collect())
	require.Len(t, rows, 2)

	q = scm.All(students).Filter(parent.Eq("p1"))
	assert.Contains(t, q.Explain(), "partial index scan")
	assert.Equal(t, []string{"a", "b"}, names(t, q))

	q = scm.All(students).Filter(And(parent.Eq("p1"), name.Eq("b")))
	assert.Contains(t, q.Explain(), "equality scan Student.name = \"b\"")
	assert.NotContains(t, q.Explain(), "filter")
	assert.Equal(t, []string{"b"}, names(t, q))
}

func TestIndexOnConjunction(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	both := And(students.Col("parent").Eq("p1"), students.Col("score").Gt(5))
	must(scm.Index(both))
	scm.MustAdd(students.MustNew("a", "p1", 1))
	scm.MustAdd(students.MustNew("b", "p1", 10))
	scm.MustAdd(students.MustNew("c", "p2", 10))

	q := scm.All(students).Filter(both)
	assert.Contains(t, q.Explain(), "boolean index scan")
	assert.Equal(t, []string{"b"}, names(t, q))
}

func TestAliasSelfJoin(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	must(scm.Index(students.Col("name")))
	scm.MustAdd(students.MustNew("root", "", 1))
	scm.MustAdd(students.MustNew("kid1", "root", 2))
	scm.MustAdd(students.MustNew("kid2", "root", 3))
	scm.MustAdd(students.MustNew("grandkid", "kid1", 4))
	scm.MustAdd(students.MustNew("orphan", "nobody", 5))

	parents := students.Alias("p")
	assert.Same(t, students, parents.Base())
	assert.Equal(t, 5, scm.Count(parents))

	q := scm.All(students, parents).Filter(Eq(students.Col("parent"), parents.Col("name")))
	assert.Contains(t, q.Explain(), "2. p: equality scan")

	var pairs []string
	for tup := range q.Tuples() {
		pairs = append(pairs, tup[0].Str("name")+"<"+tup[1].Str("name"))
	}
	assert.Equal(t, []string{"kid1<root", "kid2<root", "grandkid<kid1"}, pairs)

	// older siblings via a range over a non-literal bound
	must(scm.OrderedIndex(students.Col("score")))
	q = scm.All(students, parents).Filter(
		students.Col("name").Eq("kid2"),
		Eq(students.Col("parent"), parents.Col("parent")),
		parents.Col("score").Lt(students.Col("score")),
	)
	plan := q.Explain()
	assert.Contains(t, plan, "1. Student: equality scan Student.name = \"kid2\"")
	assert.Contains(t, plan, "2. p: range scan")
	assert.Contains(t, plan, "filter Student.parent == p.parent")
	tuples := must(q.CollectTuples())
	require.Len(t, tuples, 1)
	assert.Equal(t, "kid1", tuples[0][1].Str("name"))
}

func TestNormalizeRanges(t *testing.T) {
	scm := NewSchema(SchemaOpts{})
	students := defineStudents(scm)
	score, name := students.Col("score"), students.Col("name")

	got := normalizeRanges([]Expr{score.Gt(10), name.Eq("x"), score.Le(30), score.Ge(10), score.Lt(40)})
	require.Len(t, got, 2)
	want := InRange{X: score, Lo: score.Gt(10).Lo, Hi: score.Le(30).Hi, HiInc: true}
	assert.Equal(t, want.Key(), got[0].Key())
	assert.Equal(t, name.Eq("x").Key(), got[1].Key())
	assert.Equal(t, "10 < Student.score <= 30", got[0].String())

	got = normalizeRanges([]Expr{score.Le(5), score.Lt(5)})
	require.Len(t, got, 1)
	assert.Equal(t, score.Lt(5).Key(), got[0].Key())

	// bounds from other tables are left alone
	other := students.Alias("o")
	got = normalizeRanges([]Expr{score.Gt(other.Col("score")), score.Gt(1)})
	require.Len(t, got, 2)

	q := scm.All(students).Filter(score.Ge(3), score.Le(1))
	assert.Empty(t, must(q.Collect()))
}

func TestPlannerSeesNewIndices(t *testing.T) {
	scm := setup(t)
	students := defineStudents(scm)
	scm.MustAdd(students.MustNew("a", "p1", 1))
	q := scm.All(students).Filter(students.Col("parent").Eq("p1"))
	assert.Contains(t, q.Explain(), "full scan")

	must(scm.Index(students.Col("parent")))
	assert.Contains(t, q.Explain(), "equality scan")
	assert.Equal(t, []string{"a"}, names(t, q))
}

func TestFractionalBoundsOnIntColumn(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		scm := setup(t)
		students := defineStudents(scm)
		score := students.Col("score")
		if indexed {
			must(scm.OrderedIndex(score))
		}
		scm.MustAdd(students.MustNew("a", "", 10))
		scm.MustAdd(students.MustNew("b", "", 20))
		scm.MustAdd(students.MustNew("c", "", 30))

		tests := []struct {
			pred Expr
			want []string
		}{
			{score.Gt(15.5), []string{"b", "c"}},
			{score.Ge(15.5), []string{"b", "c"}},
			{score.Lt(15.5), []string{"a"}},
			{score.Le(25.5), []string{"a", "b"}},
			{score.Gt(-0.5), []string{"a", "b", "c"}},
			{score.Between(9.9, 20.1), []string{"a", "b"}},
			{score.Between(10.5, 19.5), []string{}},
			{score.Ge(20.0), []string{"b", "c"}},
			{score.Gt(math.Inf(-1)), []string{"a", "b", "c"}},
			{score.Lt(math.Inf(1)), []string{"a", "b", "c"}},
			{score.Gt(math.Inf(1)), []string{}},
			{score.Lt(math.Inf(-1)), []string{}},
			{score.Ge(math.NaN()), []string{}},
			{score.Le(math.NaN()), []string{}},
		}
		for _, tt := range tests {
			q := scm.All(students).Filter(tt.pred)
			assert.Equal(t, tt.want, names(t, q), "indexed=%v %v", indexed, tt.pred)
		}
	}
}
