package urlsync

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/state"
)

type harness struct {
	store   *state.Store
	history *location.History
	loop    *loop.Queue
	replica *Replica
	links   []string
	// whether each link arrived with a state of its own
	linkStates []bool
}

func newHarness(t *testing.T, raw string) *harness {
	h := &harness{store: state.NewStore(state.DefaultCompositeState()), loop: loop.New()}
	var err error
	h.history, err = location.New(raw)
	require.NoError(t, err)
	h.replica = New(Params{
		Store:   h.store,
		History: h.history,
		Loop:    h.loop,
		OnLink: func(channel string, hasState bool) {
			h.links = append(h.links, channel)
			h.linkStates = append(h.linkStates, hasState)
		},
	})
	h.loop.Post(h.replica.Start)
	h.loop.Drain()
	return h
}

func projectState(name string) state.CompositeState {
	c := state.DefaultCompositeState()
	c.Left.ProjectName = name
	return c
}

func stateURL(path string, c state.CompositeState) string {
	return "http://viewer" + path + "?" + url.Values{location.QueryState: {state.MustSerialize(c)}}.Encode()
}

func TestFirstLoadAppliesURLState(t *testing.T) {
	want := projectState("p")
	want.Right.ProjectName = "other"
	h := newHarness(t, stateURL("/project/p", want))
	assert.True(t, want.Equal(h.store.Current()))
	assert.Equal(t, 0, h.replica.Writes())
}

func TestRouteDefaultsLeftProject(t *testing.T) {
	h := newHarness(t, "http://viewer/project/graph")
	assert.Equal(t, "graph", h.store.Side(state.Left).ProjectName)
	assert.Equal(t, 1, h.replica.Writes())
	assert.Equal(t, 1, h.history.Len())
	assert.Equal(t, state.MustSerialize(h.store.Current()), h.history.Query(location.QueryState))
}

func TestMalformedURLStateFallsBackToDefault(t *testing.T) {
	h := newHarness(t, "http://viewer/project/graph?q=%7Bnope")
	want := projectState("graph")
	assert.True(t, want.Equal(h.store.Current()))
}

func TestStoreChangeWritesURLOnce(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	version := h.store.Version()

	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	assert.Equal(t, 1, h.replica.Writes())
	h.loop.Drain()

	assert.Equal(t, 1, h.replica.Writes())
	assert.Equal(t, 2, h.history.Len())
	assert.Equal(t, version+1, h.store.Version())
	assert.Equal(t, state.MustSerialize(h.store.Current()), h.history.Query(location.QueryState))
}

func TestUnchangedStateDoesNotWrite(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	h.store.Apply(h.store.Current())
	h.loop.Drain()
	assert.Equal(t, 0, h.replica.Writes())
	assert.Equal(t, 1, h.history.Len())
}

func TestBackAndForwardRestoreState(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	h.loop.Drain()
	first := h.store.Current()
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "16" })
	h.loop.Drain()
	second := h.store.Current()
	require.Equal(t, 2, h.replica.Writes())

	require.True(t, h.history.Back())
	h.loop.Drain()
	assert.True(t, first.Equal(h.store.Current()))

	require.True(t, h.history.Back())
	h.loop.Drain()
	assert.True(t, projectState("p").Equal(h.store.Current()))

	require.True(t, h.history.Forward())
	require.True(t, h.history.Forward())
	h.loop.Drain()
	assert.True(t, second.Equal(h.store.Current()))

	assert.Equal(t, 2, h.replica.Writes())
	assert.Equal(t, 3, h.history.Len())
}

func TestStaleEchoIsIgnored(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "16" })
	latest := h.store.Current()

	h.loop.Drain()
	assert.True(t, latest.Equal(h.store.Current()))
	assert.Equal(t, 2, h.replica.Writes())
	assert.Equal(t, state.MustSerialize(latest), h.history.Query(location.QueryState))
}

func TestManualEditIsApplied(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	edited := projectState("p")
	edited.Left.Display = "webgl"
	require.NoError(t, h.history.Navigate(stateURL("/project/p", edited)))
	h.loop.Drain()
	assert.True(t, edited.Equal(h.store.Current()))
	assert.Equal(t, 0, h.replica.Writes())
}

func TestNavigatingAwayStopsWrites(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	require.NoError(t, h.history.Navigate("http://viewer/"))
	h.loop.Drain()
	assert.True(t, projectState("p").Equal(h.store.Current()))

	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	h.loop.Drain()
	assert.Equal(t, 0, h.replica.Writes())
	assert.Equal(t, "/", h.history.Current().Path)
}

func TestLinkIsAdoptedAndRemoved(t *testing.T) {
	h := newHarness(t, "http://viewer/project/p?link=channel-9")
	assert.Equal(t, []string{"channel-9"}, h.links)
	assert.Equal(t, []bool{false}, h.linkStates)
	assert.Equal(t, "", h.history.Query(location.QueryLink))
	assert.Equal(t, 1, h.history.Len())
	assert.Equal(t, "p", h.store.Side(state.Left).ProjectName)
	assert.Equal(t, 1, h.replica.Writes())
}

func TestLinkWithStateKeepsURLState(t *testing.T) {
	want := projectState("p")
	want.Left.BucketCount = "2"
	h := newHarness(t, stateURL("/project/p", want)+"&link=channel-9")
	h.loop.Drain()
	assert.Equal(t, []bool{true}, h.linkStates)
	assert.Equal(t, "", h.history.Query(location.QueryLink))
	assert.Equal(t, state.MustSerialize(want), h.history.Query(location.QueryState))
	assert.True(t, want.Equal(h.store.Current()))
	assert.Equal(t, 0, h.replica.Writes())
}

func TestStopDetaches(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	h.replica.Stop()
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	h.loop.Drain()
	assert.Equal(t, 0, h.replica.Writes())
}

func TestLocalEditWinsOverLaggingNavigation(t *testing.T) {
	h := newHarness(t, stateURL("/project/p", projectState("p")))
	h.store.Update(state.Left, func(s *state.SideState) { s.BucketCount = "8" })
	h.loop.Drain()

	require.True(t, h.history.Back())
	h.store.Update(state.Left, func(s *state.SideState) { s.Display = "webgl" })
	latest := h.store.Current()
	h.loop.Drain()

	assert.True(t, latest.Equal(h.store.Current()))
	assert.Equal(t, state.MustSerialize(latest), h.history.Query(location.QueryState))
}
