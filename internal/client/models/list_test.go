package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, created time.Time, c Category, fixed bool) BugRecord {
	return BugRecord{ID: id, Title: id, CreatedAt: created, Category: c, IsFixed: fixed}
}

func ids(in []BugRecord) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = r.ID
	}
	return out
}

func TestSortAndDedupe(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := []BugRecord{
		rec("old", base, CategoryUX, false),
		rec("new", base.Add(2*time.Hour), CategoryUX, false),
		rec("mid", base.Add(time.Hour), CategoryUX, false),
		rec("new", base.Add(3*time.Hour), CategoryUX, true),
		rec("b-tie", base.Add(time.Hour), CategoryUX, false),
	}

	out := SortAndDedupe(in)

	assert.Equal(t, []string{"new", "b-tie", "mid", "old"}, ids(out))
	assert.False(t, out[0].IsFixed, "first occurrence of a duplicate id wins")

	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].CreatedAt.After(out[i-1].CreatedAt))
	}
}

func TestSortAndDedupe_Idempotent(t *testing.T) {
	base := time.Now()
	in := []BugRecord{rec("a", base, CategoryUX, false), rec("b", base.Add(time.Second), CategoryUX, false)}

	once := SortAndDedupe(in)
	twice := SortAndDedupe(once)
	assert.Equal(t, once, twice)
}

func TestSortAndDedupe_Empty(t *testing.T) {
	out := SortAndDedupe(nil)
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFilterByCategory(t *testing.T) {
	now := time.Now()
	in := []BugRecord{
		rec("a", now, CategoryUX, false),
		rec("b", now, CategoryLogic, false),
		rec("c", now, CategoryUX, true),
	}

	assert.Equal(t, []string{"a", "c"}, ids(FilterByCategory(in, CategoryUX)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(FilterByCategory(in, "")))
	assert.Empty(t, FilterByCategory(in, CategorySecurity))
}

func TestFilterByCategory_DoesNotShareInput(t *testing.T) {
	now := time.Now()
	in := []BugRecord{rec("a", now, CategoryUX, false), rec("b", now, CategoryLogic, false)}

	out := FilterByCategory(in, "")
	out[0] = rec("z", now, CategoryOther, true)

	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestCreatedSince(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := []BugRecord{
		rec("a", base, CategoryUX, false),
		rec("b", base.Add(-time.Hour), CategoryUX, false),
	}
	assert.Equal(t, []string{"a"}, ids(CreatedSince(in, base)))
}

func TestFind(t *testing.T) {
	in := []BugRecord{rec("a", time.Now(), CategoryUX, false)}

	r, ok := Find(in, "a")
	assert.True(t, ok)
	assert.Equal(t, "a", r.ID)

	_, ok = Find(in, "zzz")
	assert.False(t, ok)
}

func TestComputeStats(t *testing.T) {
	now := time.Now()
	in := []BugRecord{
		rec("a", now, CategoryUX, false),
		rec("b", now, CategoryLogic, true),
		rec("c", now, CategoryUX, true),
	}

	s := ComputeStats(in)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Fixed)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, map[Category]int{CategoryUX: 2, CategoryLogic: 1}, s.ByCategory)

	empty := ComputeStats(nil)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.ByCategory)
}
