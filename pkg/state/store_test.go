package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreNotifiesEveryAssignment(t *testing.T) {
	store := NewStore(DefaultCompositeState())
	var seen []Change
	store.OnChange(func(c Change) { seen = append(seen, c) })

	store.Update(Left, func(s *SideState) { s.ProjectName = "P" })
	// identical assignments are still assignments
	store.Apply(store.Current())

	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].Version)
	assert.Equal(t, "", seen[0].Before.Left.ProjectName)
	assert.Equal(t, "P", seen[0].After.Left.ProjectName)
	assert.True(t, seen[0].SideChanged(Left))
	assert.False(t, seen[0].SideChanged(Right))
	assert.Equal(t, uint64(2), seen[1].Version)
	assert.False(t, seen[1].SideChanged(Left))
	assert.Equal(t, uint64(2), store.Version())
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	store := NewStore(DefaultCompositeState())
	snap := store.Current()
	snap.Left.Filters.Vertex["x"] = "1"
	assert.Empty(t, store.Side(Left).Filters.Vertex)

	store.OnChange(func(c Change) { c.After.Left.AttributeTitles["y"] = "z" })
	store.Update(Left, func(s *SideState) { s.GraphMode = GraphModeBucketed })
	assert.Empty(t, store.Side(Left).AttributeTitles)
	assert.Equal(t, GraphModeBucketed, store.Side(Left).GraphMode)
}

func TestStoreUnsubscribe(t *testing.T) {
	store := NewStore(DefaultCompositeState())
	var a, b int
	cancelA := store.OnChange(func(Change) { a++ })
	store.OnChange(func(Change) { b++ })

	store.Apply(DefaultCompositeState())
	cancelA()
	cancelA()
	store.Apply(DefaultCompositeState())

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestToggleAttributeTitle(t *testing.T) {
	s := DefaultSideState()

	s.ToggleAttributeTitle(AttrColor, "age")
	s.ToggleAttributeTitle(AttrSlider, "time")
	assert.Equal(t, map[string]string{AttrSlider: "time"}, s.AttributeTitles)

	s.ToggleAttributeTitle(AttrLabel, "name")
	s.ToggleAttributeTitle(AttrLabelSize, "size")
	s.ToggleAttributeTitle(AttrLabel, "name")
	assert.Equal(t, map[string]string{AttrSlider: "time"}, s.AttributeTitles)

	s.ToggleAttributeTitle(AttrPosition, "xy")
	s.ToggleAttributeTitle(AttrGeo, "latlon")
	s.ToggleAttributeTitle(AttrIcon, "kind")
	s.ToggleAttributeTitle(AttrImage, "url")
	assert.Equal(t, map[string]string{AttrSlider: "time", AttrGeo: "latlon", AttrImage: "url"}, s.AttributeTitles)
	assert.Equal(t, []string{AttrGeo}, s.AttributesBoundTo([]string{AttrPosition, AttrGeo}, "latlon"))
}

func TestNonEmptyVertexFilters(t *testing.T) {
	s := DefaultSideState()
	s.Filters.Vertex["b"] = "x"
	s.Filters.Vertex["a"] = "y"
	s.Filters.Vertex["c"] = ""
	assert.Equal(t, []FilterSpec{{"a", "y"}, {"b", "x"}}, s.NonEmptyVertexFilters())
}
