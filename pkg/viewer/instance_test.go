package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"

	"github.com/astromechza/viewsync/pkg/broadcast"
	"github.com/astromechza/viewsync/pkg/channel"
	"github.com/astromechza/viewsync/pkg/dataservice"
	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/medium"
	"github.com/astromechza/viewsync/pkg/state"
)

type InstanceTestSuite struct {
	suite.Suite
	hub       *medium.Hub
	data      *dataservice.Fake
	clock     *clock.Mock
	instances []*Instance
}

func TestInstanceTestSuite(t *testing.T) {
	suite.Run(t, new(InstanceTestSuite))
}

func (s *InstanceTestSuite) SetupTest() {
	s.hub = medium.NewHub()
	s.clock = clock.NewMock()
	s.instances = nil
	s.data = dataservice.NewFake(
		dataservice.Project{
			Name:             "P",
			VertexSet:        "vs-p",
			VertexAttributes: []dataservice.Attribute{{ID: "a-1", Title: "age"}},
		},
		dataservice.Project{Name: "Q", VertexSet: "vs-q"},
	)
}

func (s *InstanceTestSuite) TearDownTest() {
	for _, i := range s.instances {
		s.NoError(i.Close(context.Background()))
	}
}

func (s *InstanceTestSuite) open(raw string) *Instance {
	return s.openWithSession(raw, channel.NewMemorySession())
}

func (s *InstanceTestSuite) openWithSession(raw string, session channel.SessionStore) *Instance {
	history, err := location.New(raw)
	s.Require().NoError(err)
	i := New(Params{
		Medium:  s.hub.Attach(),
		Session: session,
		History: history,
		Data:    s.data,
		Clock:   s.clock,
		Spawn:   func(fn func()) { fn() },
	})
	s.Require().NoError(i.Start(context.Background()))
	s.instances = append(s.instances, i)
	s.settle()
	return i
}

// settle runs every instance loop until none has work left.
func (s *InstanceTestSuite) settle() {
	for {
		n := 0
		for _, i := range s.instances {
			n += i.Loop().Drain()
		}
		if n == 0 {
			return
		}
	}
}

func (s *InstanceTestSuite) TestRouteOpensAndLoadsProject() {
	a := s.open("http://viewer/project/P")
	s.Equal("P", a.State().Left.ProjectName)
	s.Require().NotNil(a.Side(state.Left).Project)
	s.Equal("vs-p", a.Side(state.Left).Project.VertexSet)
	s.Nil(a.Side(state.Right).Project)
	s.Equal(1, s.data.Loads("P"))
	s.Equal(state.MustSerialize(a.State()), s.hub.Snapshot()[a.Channel()])
}

func (s *InstanceTestSuite) TestSecondSideLoadsItsProject() {
	a := s.open("http://viewer/project/P")
	a.OpenProject(state.Right, "P")
	s.settle()
	s.Equal(2, s.data.Loads("P"))
	s.Require().NotNil(a.Side(state.Right).Project)
	s.Equal("P", a.Side(state.Right).Project.Name)
}

func (s *InstanceTestSuite) TestLinkedInstancesShareState() {
	a := s.open("http://viewer/project/P")
	b := s.open(a.LinkedURL())

	s.Equal(a.Channel(), b.Channel())
	s.True(a.State().Equal(b.State()))
	s.Empty(b.history.Query(location.QueryLink))

	a.Update(state.Left, func(side *state.SideState) { side.BucketCount = "8" })
	s.settle()
	s.Equal("8", b.State().Left.BucketCount)

	b.OpenProject(state.Right, "Q")
	s.settle()
	s.Equal("Q", a.State().Right.ProjectName)
	s.Require().NotNil(a.Side(state.Right).Project)
	s.True(a.State().Equal(b.State()))
	s.Equal(state.MustSerialize(a.State()), a.history.Query(location.QueryState))
	s.Equal(state.MustSerialize(b.State()), b.history.Query(location.QueryState))
}

func (s *InstanceTestSuite) TestUnlinkedInstancesStayApart() {
	a := s.open("http://viewer/project/P")
	b := s.open("http://viewer/project/Q")
	s.NotEqual(a.Channel(), b.Channel())
	a.Update(state.Left, func(side *state.SideState) { side.BucketCount = "8" })
	s.settle()
	s.Equal("4", b.State().Left.BucketCount)
}

func (s *InstanceTestSuite) TestApplyOpReloadsEveryInstanceOnce() {
	a := s.open("http://viewer/project/P")
	b := s.open(a.LinkedURL())
	s.Require().Equal(2, s.data.Loads("P"))

	observer := medium.NewRecorder()
	s.Require().NoError(s.hub.Attach().Subscribe(context.Background(), observer))

	s.Require().NoError(b.ApplyOp(state.Left, dataservice.Operation{ID: "Change-project-notes", Parameters: map[string]string{"notes": "hi"}}))
	s.settle()

	s.Equal(4, s.data.Loads("P"))
	s.Equal("hi", a.Side(state.Left).Project.Notes)
	s.Equal("hi", b.Side(state.Left).Project.Notes)

	reloads := 0
	for _, c := range observer.Changes() {
		if kind, _ := broadcast.Classify(c.Key); kind == broadcast.KindReload {
			reloads++
		}
	}
	s.Equal(1, reloads)
}

func (s *InstanceTestSuite) TestUndoRedo() {
	a := s.open("http://viewer/project/P")
	s.Require().NoError(a.ApplyOp(state.Left, dataservice.Operation{ID: "Noop"}))
	s.Require().NoError(a.Undo(state.Left))
	s.settle()
	s.Empty(s.data.Operations("P"))
	s.Require().NoError(a.Redo(state.Left))
	s.settle()
	s.NoError(a.Side(state.Left).Err)
	s.Equal(4, s.data.Loads("P"))
}

func (s *InstanceTestSuite) TestBackendFailureIsRecordedOnSide() {
	a := s.open("http://viewer/project/P")
	boom := errors.New("backend down")
	s.data.SetFail(boom)
	s.Require().NoError(a.ApplyOp(state.Left, dataservice.Operation{ID: "Noop"}))
	s.settle()
	s.ErrorIs(a.Side(state.Left).Err, boom)
	s.Require().NotNil(a.Side(state.Left).Project)
	s.Equal("P", a.Side(state.Left).Project.Name)

	s.ErrorIs(a.ApplyOp(state.Right, dataservice.Operation{ID: "Noop"}), ErrNoProject)
}

func (s *InstanceTestSuite) TestSampledModeRequestsOneCenter() {
	a := s.open("http://viewer/project/P")
	a.Update(state.Left, func(side *state.SideState) { side.Filters.Vertex["age"] = ">10" })
	a.SetGraphMode(state.Left, state.GraphModeSampled)
	s.settle()

	left := a.State().Left
	s.Equal([]string{"v0"}, left.Centers)
	s.Require().NotNil(left.LastCentersRequest)
	s.Equal(state.CentersRequest{Count: 1, Filters: []state.FilterSpec{{AttributeName: "age", ValueSpec: ">10"}}}, *left.LastCentersRequest)
	s.True(left.CentersCached())

	s.Require().NoError(a.RequestNewCenters(state.Left, 3))
	s.settle()
	s.Equal([]string{"v0", "v1", "v2"}, a.State().Left.Centers)
}

func (s *InstanceTestSuite) TestElidedCentersAreRequestedAgain() {
	a := s.open("http://viewer/project/P")
	a.SetGraphMode(state.Left, state.GraphModeSampled)
	s.settle()
	published := s.hub.Snapshot()[a.Channel()]

	b := s.open(a.LinkedURL())
	s.Equal([]string{"v0"}, b.State().Left.Centers)
	s.True(a.State().Equal(b.State()))
	s.Equal(published, s.hub.Snapshot()[a.Channel()])
}

func (s *InstanceTestSuite) TestSaveAsSwitchesToFork() {
	a := s.open("http://viewer/project/P")
	s.Require().NoError(a.SaveAs(state.Left, "P2"))
	s.settle()
	s.Equal("P2", a.State().Left.ProjectName)
	s.Require().NotNil(a.Side(state.Left).Project)
	s.Equal("P2", a.Side(state.Left).Project.Name)
}

func (s *InstanceTestSuite) TestSaveAndLoadStateThroughBackend() {
	a := s.open("http://viewer/project/P")
	a.Update(state.Left, func(side *state.SideState) { side.Display = "webgl" })
	s.Require().NoError(a.SaveStateToBackend(state.Left, "ui"))
	s.settle()

	ops := s.data.Operations("P")
	s.Require().Len(ops, 1)
	s.Equal(dataservice.SaveStateOperation, ops[0].ID)
	s.Equal("ui", ops[0].Parameters["scalarName"])
	saved := ops[0].Parameters["uiStatusJson"]
	var fields map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(saved), &fields))
	s.NotContains(fields, "projectName")

	a.OpenProject(state.Right, "Q")
	s.Require().NoError(a.LoadStateFromBackend(state.Right, saved))
	s.settle()
	right := a.State().Right
	s.Equal("Q", right.ProjectName)
	s.Equal("webgl", right.Display)

	s.Error(a.LoadStateFromBackend(state.Right, "{"))
}

func (s *InstanceTestSuite) TestCloseLastSideGoesHome() {
	a := s.open("http://viewer/project/P")
	a.OpenProject(state.Right, "Q")
	s.settle()

	a.CloseSide(state.Right)
	s.settle()
	s.Nil(a.Side(state.Right).Project)
	s.NotEqual("/", a.history.Current().Path)

	a.CloseSide(state.Left)
	s.settle()
	s.Equal("/", a.history.Current().Path)
}

func (s *InstanceTestSuite) TestToggleAttributeTitle() {
	a := s.open("http://viewer/project/P")
	a.ToggleAttributeTitle(state.Left, state.AttrColor, "age")
	a.ToggleAttributeTitle(state.Left, state.AttrSlider, "age")
	s.settle()
	s.Equal(map[string]string{state.AttrSlider: "age"}, a.State().Left.AttributeTitles)
}

func (s *InstanceTestSuite) TestJanitorCollectsDeadChannels() {
	seeder := s.hub.Attach()
	ctx := context.Background()
	s.Require().NoError(seeder.Set(ctx, "channel-dead", "{}"))
	s.Require().NoError(seeder.Set(ctx, "reload:channel-dead", "r"))

	a := s.open("http://viewer/project/P")
	b := s.open("http://viewer/project/Q")
	s.settle()

	s.clock.Add(10 * time.Second)
	s.Require().Eventually(func() bool {
		s.settle()
		_, ok := s.hub.Snapshot()["channel-dead"]
		return !ok
	}, time.Second, time.Millisecond)

	remaining := s.hub.Snapshot()
	s.NotContains(remaining, "reload:channel-dead")
	s.Contains(remaining, a.Channel())
	s.Contains(remaining, b.Channel())
}

func (s *InstanceTestSuite) TestLinkWhileRunningRetunes() {
	a := s.open("http://viewer/project/P")
	b := s.open("http://viewer/project/Q")
	s.Require().NoError(b.Navigate(a.LinkedURL()))
	s.settle()

	s.Equal(a.Channel(), b.Channel())
	s.True(a.State().Equal(b.State()))
	s.Equal("P", a.State().Left.ProjectName)
	s.Equal(1, s.data.Loads("Q"))
}

func (s *InstanceTestSuite) TestRestartKeepsURLStateOverRememberedChannel() {
	remembered := state.DefaultCompositeState()
	remembered.Left.ProjectName = "P"
	remembered.Left.BucketCount = "8"
	s.Require().NoError(s.hub.Attach().Set(context.Background(), "channel-mine", state.MustSerialize(remembered)))

	session := channel.NewMemorySession()
	s.Require().NoError(session.SetChannel("channel-mine"))

	want := state.DefaultCompositeState()
	want.Left.ProjectName = "P"
	want.Left.BucketCount = "2"
	raw := "http://viewer/project/P?" + url.Values{location.QueryState: {state.MustSerialize(want)}}.Encode()
	a := s.openWithSession(raw, session)

	s.Equal("channel-mine", a.Channel())
	s.Equal("2", a.State().Left.BucketCount)
	s.True(want.Equal(a.State()))
	s.Equal(state.MustSerialize(want), a.history.Query(location.QueryState))
	s.Equal(1, a.history.Len())
	s.Equal(state.MustSerialize(want), s.hub.Snapshot()["channel-mine"])
}

func (s *InstanceTestSuite) TestRestartWithoutURLStatePublishes() {
	stale := state.DefaultCompositeState()
	stale.Left.ProjectName = "Q"
	s.Require().NoError(s.hub.Attach().Set(context.Background(), "channel-mine", state.MustSerialize(stale)))

	session := channel.NewMemorySession()
	s.Require().NoError(session.SetChannel("channel-mine"))
	a := s.openWithSession("http://viewer/project/P", session)

	s.Equal("P", a.State().Left.ProjectName)
	s.Equal(state.MustSerialize(a.State()), s.hub.Snapshot()["channel-mine"])
}

func (s *InstanceTestSuite) TestLinkWithoutURLStateAdoptsChannel() {
	a := s.open("http://viewer/project/P")
	a.Update(state.Left, func(side *state.SideState) { side.BucketCount = "8" })
	s.settle()

	b := s.open("http://viewer/project/P?link=" + a.Channel())
	s.Equal(a.Channel(), b.Channel())
	s.Equal("8", b.State().Left.BucketCount)
	s.True(a.State().Equal(b.State()))
	s.Equal(state.MustSerialize(a.State()), b.history.Query(location.QueryState))
	s.Empty(b.history.Query(location.QueryLink))
}

func (s *InstanceTestSuite) TestClosedInstanceStopsFollowing() {
	a := s.open("http://viewer/project/P")
	b := s.open(a.LinkedURL())
	s.Require().NoError(b.Close(context.Background()))
	s.instances = s.instances[:1]

	a.Update(state.Left, func(side *state.SideState) { side.BucketCount = "8" })
	s.settle()
	b.Loop().Drain()
	s.Equal("4", b.State().Left.BucketCount)
	s.Contains(s.hub.Snapshot(), a.Channel())
}
