package query

import (
	"testing"
	"time"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCombinations(t *testing.T) {
	t.Run("where ands", func(t *testing.T) {
		f := NewBuilder().
			Where(Property("dc:type").Eq("dataset")).
			Where(Property("eo:cloud_cover").Lt(10)).
			Filter()
		assert.Equal(t, filter.And(filter.Eq("dc:type", "dataset"), filter.Lt("eo:cloud_cover", 10)), f)
	})

	t.Run("and flattens into one logical", func(t *testing.T) {
		f := NewBuilder().And(Property("a").Eq(1), Property("b").Eq(2), nil).Filter()
		l, ok := f.(*filter.Logical)
		require.True(t, ok)
		assert.Equal(t, filter.OpAnd, l.Op)
		assert.Len(t, l.Children, 2)
	})

	t.Run("single or argument is unwrapped", func(t *testing.T) {
		f := NewBuilder().Or(Property("a").Eq(1)).Filter()
		assert.Equal(t, filter.Eq("a", 1), f)
	})

	t.Run("not", func(t *testing.T) {
		f := NewBuilder().Where(Property("a").IsNull()).Not().Filter()
		assert.Equal(t, filter.Negate(filter.Null("a")), f)
	})

	t.Run("empty", func(t *testing.T) {
		b := NewBuilder().Not().And()
		assert.Nil(t, b.Filter())
		assert.Panics(t, func() { b.Must() })
	})
}

func TestPropertyExpressions(t *testing.T) {
	assert.Equal(t, filter.Null("x"), Property("x").Eq(nil))
	assert.Equal(t, filter.Negate(filter.Null("x")), Property("x").Neq(nil))
	assert.Equal(t, filter.Gte("x", 3), Property("x").Gte(int64(3)))
	assert.Equal(t, filter.LikeOf("dc:title", "%a%"), Property("dc:title").Like("%a%"))
	assert.Equal(t, filter.Eq("dc:title", filter.Slot("title")), Property("dc:title").Slot("title"))

	in := Property("dc:format").In([]string{"pdf", "xml"})
	assert.Equal(t, filter.Or(filter.Eq("dc:format", "pdf"), filter.Eq("dc:format", "xml")), in)
	assert.Equal(t, filter.Eq("dc:format", "pdf"), Property("dc:format").In("pdf"))
}

func TestTemporalBetween(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got := Modified(start, end)
	assert.Equal(t, filter.BetweenOf("dct:modified", "2024-01-01T00:00:00Z", "2024-03-01T00:00:00Z"), got)
}

func TestQueryWindow(t *testing.T) {
	q := NewBuilder().Where(BBox(0, 0, 1, 1)).Query(5, 10, "csw:Record")
	assert.Equal(t, 4, q.Offset())
	assert.Equal(t, 10, q.Limit())
	assert.Equal(t, []string{"csw:Record"}, q.TypeNames)

	q0 := q.WithWindow(0, -3)
	assert.Equal(t, 0, q0.Offset())
	assert.Equal(t, 0, q0.Limit())
	assert.Equal(t, 5, q.StartPosition)
}

func TestQueryClone(t *testing.T) {
	q := &Query{
		Filter:        filter.Eq("a", "b"),
		TypeNames:     []string{"csw:Record"},
		SortBy:        []filter.SortProperty{filter.Sort("dc:title", filter.Ascending)},
		StartPosition: 1,
		MaxRecords:    10,
	}
	cp, err := q.Clone()
	require.NoError(t, err)
	assert.Equal(t, q, cp)

	cp.TypeNames[0] = "gmd:MD_Metadata"
	cp.Filter.(*filter.Comparison).Right.(*filter.Literal).Value = "z"
	assert.Equal(t, "csw:Record", q.TypeNames[0])
	assert.Equal(t, "b", q.Filter.(*filter.Comparison).Right.(*filter.Literal).Value)

	assert.Equal(t, "a = 'b' [1+10]", q.String())
	assert.Equal(t, "ALL [1+10]", (&Query{StartPosition: 1, MaxRecords: 10}).String())
}
