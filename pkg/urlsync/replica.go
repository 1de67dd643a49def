// Package urlsync keeps an instance's state store and its URL in step. Store
// changes are written to the q query parameter; URL changes, including the
// replica's own writes arriving back, are applied only when they are not stale.
package urlsync

import (
	"errors"
	"log/slog"
	"net/url"

	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/state"
)

type Params struct {
	Store   *state.Store
	History *location.History
	Loop    loop.Poster
	// Defaults refill what a URL state omits. The left project name is
	// overridden by the route when the URL names a project path.
	Defaults state.Defaults
	// OnLink is called with the channel of a link invitation before the
	// link parameter is removed from the URL. hasState reports whether the
	// linking URL carries a state of its own.
	OnLink func(channel string, hasState bool)
	Logger *slog.Logger
}

type write struct {
	before, after string
}

type Replica struct {
	store    *state.Store
	history  *location.History
	loop     loop.Poster
	defaults state.Defaults
	onLink   func(string, bool)
	logger   *slog.Logger

	// own writes whose notifications have not arrived yet
	pending []write
	// q of the entry being applied, nil outside inbound
	applying *string
	observed bool
	writes   int
	cancels  []func()
}

func New(params Params) *Replica {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.OnLink == nil {
		params.OnLink = func(string, bool) {}
	}
	return &Replica{
		store:    params.Store,
		history:  params.History,
		loop:     params.Loop,
		defaults: params.Defaults,
		onLink:   params.OnLink,
		logger:   params.Logger.With("component", "urlsync"),
	}
}

// Start applies the current URL as the first observation and begins watching
// both sides. It must run on the instance loop.
func (r *Replica) Start() {
	r.cancels = append(r.cancels,
		r.store.OnChange(func(state.Change) { r.outbound() }),
		r.history.OnChange(func(c location.Change) {
			r.loop.Post(func() { r.inbound(c) })
		}),
	)
	current := r.history.Current()
	r.inbound(location.Change{Before: current, After: current})
}

func (r *Replica) Stop() {
	for _, c := range r.cancels {
		c()
	}
	r.cancels = nil
}

// Writes returns how many times the replica has written the URL.
func (r *Replica) Writes() int {
	return r.writes
}

func (r *Replica) serializeCurrent() (string, bool) {
	text, err := state.Serialize(r.store.Current(), state.Options{})
	if err != nil {
		r.logger.Error("failed to serialize state", "err", err)
		return "", false
	}
	return text, true
}

func (r *Replica) outbound() {
	current := r.history.Current()
	if !location.IsProjectPath(current) {
		return
	}
	text, ok := r.serializeCurrent()
	if !ok {
		return
	}
	if r.applying != nil && *r.applying == text {
		return
	}
	before := current.Query().Get(location.QueryState)
	if before == text {
		return
	}
	r.pending = append(r.pending, write{before: before, after: text})
	r.writes++
	next := location.WithQuery(current, location.QueryState, text)
	if before == "" {
		// an entry without state only gains one
		r.history.Replace(next)
		return
	}
	r.history.Push(next)
}

func (r *Replica) inbound(c location.Change) {
	before := c.Before.Query().Get(location.QueryState)
	after := c.After.Query().Get(location.QueryState)

	if link := c.After.Query().Get(location.QueryLink); link != "" {
		r.onLink(link, after != "")
		if current := r.history.Current(); current.Query().Get(location.QueryLink) != "" {
			r.history.Replace(location.WithQuery(current, location.QueryLink, ""))
		}
	}

	if r.takeOwn(write{before: before, after: after}) {
		r.observed = true
		return
	}
	if !location.IsProjectPath(c.After) {
		return
	}
	if r.observed {
		text, ok := r.serializeCurrent()
		if !ok || before != text {
			r.logger.Debug("ignoring stale url change")
			return
		}
	}
	r.observed = true
	next := r.restore(c.After, after)
	if !next.Equal(r.store.Current()) {
		r.applying = &after
		r.store.Apply(next)
		r.applying = nil
	}
}

func (r *Replica) takeOwn(w write) bool {
	for i, p := range r.pending {
		if p == w {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Replica) restore(u *url.URL, text string) state.CompositeState {
	d := r.defaults
	if name, ok := location.ProjectFromPath(u); ok {
		d.Left.ProjectName = name
	}
	if text == "" {
		next := state.DefaultCompositeState()
		next.Left.ProjectName = d.Left.ProjectName
		next.Right.ProjectName = d.Right.ProjectName
		return next
	}
	next, err := state.Restore(text, d)
	if err != nil {
		if errors.Is(err, state.ErrMalformed) {
			r.logger.Warn("discarding malformed url state", "err", err)
		}
		next.Left.ProjectName = d.Left.ProjectName
		next.Right.ProjectName = d.Right.ProjectName
	}
	return next
}
