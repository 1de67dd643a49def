// Package viewer wires one instance together: its state store, the URL and
// broadcast replicas, the channel janitor and the data service, all driven by
// a single event loop.
//
// Every method of Instance must run on the instance loop. Other goroutines
// hand work over with Post.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/astromechza/viewsync/pkg/broadcast"
	"github.com/astromechza/viewsync/pkg/channel"
	"github.com/astromechza/viewsync/pkg/dataservice"
	"github.com/astromechza/viewsync/pkg/janitor"
	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/medium"
	"github.com/astromechza/viewsync/pkg/state"
	"github.com/astromechza/viewsync/pkg/urlsync"
)

var (
	ErrNoProject = errors.New("side has no project")
	ErrNotLoaded = errors.New("project not loaded")
)

type Params struct {
	Medium  medium.Medium
	Session channel.SessionStore
	History *location.History
	Data    dataservice.Service
	Loop    *loop.Queue
	Clock   clock.Clock
	// JanitorWait is how long the janitor waits for pongs; janitor.DefaultWait when zero.
	JanitorWait time.Duration
	// Spawn runs a data service call off the loop. Defaults to a new goroutine.
	Spawn  func(fn func())
	Logger *slog.Logger
}

// Side is what an instance knows about one side beyond its state.
type Side struct {
	// Project is the last successfully loaded project, nil before the first load.
	Project *dataservice.Project
	// Err is the error of the last failed data service call for the side.
	Err error

	centersInFlight bool
}

type Instance struct {
	medium  medium.Medium
	session channel.SessionStore
	history *location.History
	data    dataservice.Service
	loop    *loop.Queue
	clock   clock.Clock
	wait    time.Duration
	spawn   func(fn func())
	logger  *slog.Logger

	store   *state.Store
	url     *urlsync.Replica
	bus     *broadcast.Bus
	janitor *janitor.Janitor
	sides   map[state.Side]*Side

	ctx     context.Context
	cancel  context.CancelFunc
	cancels []func()
}

func New(params Params) *Instance {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Spawn == nil {
		params.Spawn = func(fn func()) { go fn() }
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Loop == nil {
		params.Loop = loop.New()
	}
	return &Instance{
		medium:  params.Medium,
		session: params.Session,
		history: params.History,
		data:    params.Data,
		loop:    params.Loop,
		clock:   params.Clock,
		wait:    params.JanitorWait,
		spawn:   params.Spawn,
		logger:  params.Logger,
		store:   state.NewStore(state.DefaultCompositeState()),
		sides:   map[state.Side]*Side{state.Left: {}, state.Right: {}},
	}
}

// Post runs fn on the instance loop.
func (i *Instance) Post(fn func()) {
	i.loop.Post(fn)
}

func (i *Instance) Loop() *loop.Queue {
	return i.loop
}

// Start resolves the instance's channel, applies the URL, joins the channel
// and schedules the janitor.
func (i *Instance) Start(ctx context.Context) error {
	link := i.history.Query(location.QueryLink)
	// a remembered or fresh channel never overrides the URL; a link invitation
	// brings the channel's state unless the URL carries one
	join := link != "" && i.history.Query(location.QueryState) == ""
	ch, err := channel.Resolve(i.session, link)
	if err != nil {
		return fmt.Errorf("failed to resolve channel: %w", err)
	}
	i.ctx, i.cancel = context.WithCancel(ctx)

	i.bus = broadcast.New(broadcast.Params{
		Medium:   i.medium,
		Store:    i.store,
		Loop:     i.loop,
		Channel:  ch,
		OnReload: i.reloadAll,
		Clock:    i.clock,
		Logger:   i.logger,
	})
	i.url = urlsync.New(urlsync.Params{
		Store:   i.store,
		History: i.history,
		Loop:    i.loop,
		OnLink:  i.adoptLink,
		Logger:  i.logger,
	})
	i.janitor = janitor.New(janitor.Params{
		Medium:   i.medium,
		Liveness: i.bus,
		Loop:     i.loop,
		Clock:    i.clock,
		Wait:     i.wait,
		Logger:   i.logger,
	})

	i.cancels = append(i.cancels, i.store.OnChange(i.onStateChange))
	i.url.Start()
	if err := i.bus.Start(i.ctx, join); err != nil {
		return err
	}
	if err := i.janitor.Start(i.ctx); err != nil {
		i.logger.Error("failed to start janitor", "err", err)
	}
	i.logger.Info("instance started", "channel", ch)
	return nil
}

// Close leaves the channel. The channel's keys stay for its other instances.
func (i *Instance) Close(ctx context.Context) error {
	for _, c := range i.cancels {
		c()
	}
	i.cancels = nil
	if i.janitor != nil {
		i.janitor.Stop()
	}
	if i.url != nil {
		i.url.Stop()
	}
	if i.cancel != nil {
		i.cancel()
	}
	if i.bus != nil {
		return i.bus.Close(ctx)
	}
	return nil
}

func (i *Instance) Channel() string {
	return i.bus.Channel()
}

func (i *Instance) State() state.CompositeState {
	return i.store.Current()
}

func (i *Instance) Store() *state.Store {
	return i.store
}

// Side returns a copy of what the instance knows about side.
func (i *Instance) Side(side state.Side) Side {
	return *i.sides[side]
}

// LinkedURL returns the current URL carrying an invitation to this instance's channel.
func (i *Instance) LinkedURL() string {
	u := i.history.Current()
	sep := "?"
	if u.RawQuery != "" {
		sep = "&"
	}
	return u.String() + sep + location.QueryLink + "=" + url.QueryEscape(i.Channel())
}

func (i *Instance) adoptLink(link string, hasState bool) {
	if i.bus == nil || link == i.bus.Channel() {
		return
	}
	if err := i.session.SetChannel(link); err != nil {
		i.logger.Error("failed to remember channel", "err", err)
	}
	i.logger.Info("adopting link channel", "from", i.bus.Channel(), "to", link)
	i.bus.Retune(i.ctx, link, !hasState)
}

func (i *Instance) onStateChange(change state.Change) {
	var names []string
	for _, side := range state.Sides {
		before, after := change.Before.Side(side), change.After.Side(side)
		if before.ProjectName == after.ProjectName {
			continue
		}
		if after.ProjectName == "" {
			i.sides[side].Project = nil
			i.sides[side].Err = nil
			continue
		}
		names = appendUnique(names, after.ProjectName)
	}
	for _, name := range names {
		i.loadProject(name)
	}
	for _, side := range state.Sides {
		i.maybeRequestCenters(side)
	}
}

func appendUnique(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// loadProject fetches name and hands it to every side showing it.
func (i *Instance) loadProject(name string) {
	ctx := i.ctx
	i.spawn(func() {
		p, err := i.data.LoadProject(ctx, name)
		i.loop.Post(func() {
			for _, side := range state.Sides {
				if i.store.Side(side).ProjectName != name {
					continue
				}
				rt := i.sides[side]
				if err != nil {
					i.logger.Error("failed to load project", "side", side, "project", name, "err", err)
					rt.Err = err
					continue
				}
				loaded := p
				rt.Project = &loaded
				rt.Err = nil
				i.maybeRequestCenters(side)
			}
		})
	})
}

func (i *Instance) reloadSide(side state.Side) {
	if name := i.store.Side(side).ProjectName; name != "" {
		i.loadProject(name)
	}
}

// reloadAll re-fetches every open project. It is the reaction to another
// instance's reload announcement and does not announce again.
func (i *Instance) reloadAll() {
	var names []string
	for _, side := range state.Sides {
		if name := i.store.Side(side).ProjectName; name != "" {
			names = appendUnique(names, name)
		}
	}
	for _, name := range names {
		i.loadProject(name)
	}
}

func (i *Instance) loaded(side state.Side) (*dataservice.Project, bool) {
	rt := i.sides[side]
	name := i.store.Side(side).ProjectName
	if rt.Project == nil || rt.Project.Name != name {
		return nil, false
	}
	return rt.Project, true
}

func (i *Instance) maybeRequestCenters(side state.Side) {
	s := i.store.Side(side)
	if i.sides[side].centersInFlight {
		return
	}
	if _, ok := i.loaded(side); !ok {
		return
	}
	switch {
	case s.CentersPending():
		i.sendCenterRequest(side, *s.LastCentersRequest.Clone())
	case s.GraphMode == state.GraphModeSampled && len(s.Centers) == 0 && s.LastCentersRequest == nil:
		i.sendCenterRequest(side, state.CentersRequest{Count: 1, Filters: s.NonEmptyVertexFilters()})
	}
}

func (i *Instance) sendCenterRequest(side state.Side, req state.CentersRequest) {
	project, ok := i.loaded(side)
	if !ok {
		i.sides[side].Err = ErrNotLoaded
		return
	}
	rt := i.sides[side]
	rt.centersInFlight = true
	ctx, p := i.ctx, *project
	i.spawn(func() {
		centers, err := i.data.Centers(ctx, p, req)
		i.loop.Post(func() {
			rt.centersInFlight = false
			if i.store.Side(side).ProjectName != p.Name {
				return
			}
			if err != nil {
				i.logger.Error("failed to request centers", "side", side, "err", err)
				rt.Err = err
				return
			}
			i.store.Update(side, func(s *state.SideState) {
				s.Centers = append([]string(nil), centers...)
				s.LastCentersRequest = req.Clone()
				s.LastCentersResponse = append([]string(nil), centers...)
			})
		})
	})
}

// mutate runs call against the side's project, then reloads it and tells the
// other instances on the channel to reload too.
func (i *Instance) mutate(side state.Side, call func(ctx context.Context, project string) error) error {
	name := i.store.Side(side).ProjectName
	if name == "" {
		return ErrNoProject
	}
	ctx := i.ctx
	i.spawn(func() {
		err := call(ctx, name)
		i.loop.Post(func() {
			if err != nil {
				i.logger.Error("backend operation failed", "side", side, "project", name, "err", err)
				i.sides[side].Err = err
				return
			}
			i.reloadSide(side)
			if err := i.bus.AnnounceReload(i.ctx); err != nil {
				i.logger.Error("failed to announce reload", "err", err)
			}
		})
	})
	return nil
}
