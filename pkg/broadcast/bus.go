// Package broadcast propagates an instance's state to the other instances
// tuned to the same channel of the shared medium, and carries the reload and
// ping/pong signals between instances.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/medium"
	"github.com/astromechza/viewsync/pkg/state"
)

const writeTimeout = 10 * time.Second

type Params struct {
	Medium  medium.Medium
	Store   *state.Store
	Loop    loop.Poster
	Channel string
	// Defaults refill what a broadcast state omits.
	Defaults state.Defaults
	// OnReload is called when another instance on the channel changed backend data.
	OnReload func()
	Clock    clock.Clock
	Logger   *slog.Logger
}

type Bus struct {
	medium   medium.Medium
	store    *state.Store
	loop     loop.Poster
	defaults state.Defaults
	onReload func()
	clock    clock.Clock
	base     *slog.Logger
	logger   *slog.Logger

	channel string
	// lastWritten is the state text last written or accepted on the channel.
	lastWritten string
	alive       map[string]struct{}
	cancel      func()
	ctx         context.Context
}

func New(params Params) *Bus {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.OnReload == nil {
		params.OnReload = func() {}
	}
	base := params.Logger.With("component", "broadcast")
	return &Bus{
		medium:   params.Medium,
		store:    params.Store,
		loop:     params.Loop,
		defaults: params.Defaults,
		onReload: params.OnReload,
		clock:    params.Clock,
		base:     base,
		logger:   base.With("channel", params.Channel),
		channel:  params.Channel,
		alive:    make(map[string]struct{}),
	}
}

func (b *Bus) Channel() string {
	return b.channel
}

// Start subscribes to the medium and publishes the current state. With join
// set the channel's stored state, when present, is adopted first; that is
// only right for an instance arriving through a link invitation without a
// state of its own. It must run on the instance loop.
func (b *Bus) Start(ctx context.Context, join bool) error {
	b.ctx = ctx
	if err := b.medium.Subscribe(ctx, b); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	b.cancel = b.store.OnChange(func(state.Change) { b.Publish(ctx) })
	if join {
		b.adopt(ctx)
	}
	b.Publish(ctx)
	return nil
}

// Retune moves the bus to another channel. With join set the channel's
// stored state is adopted. Otherwise the current state is published once the
// callbacks already queued on the loop have run, so a state the caller is
// about to apply goes out instead of the one being replaced. It must run on
// the instance loop.
func (b *Bus) Retune(ctx context.Context, channel string, join bool) {
	if channel == b.channel {
		return
	}
	b.channel = channel
	b.lastWritten = ""
	b.logger = b.base.With("channel", channel)
	if join {
		b.adopt(ctx)
		b.Publish(ctx)
		return
	}
	b.loop.Post(func() { b.Publish(ctx) })
}

// adopt applies the value already stored under the channel.
func (b *Bus) adopt(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	text, ok, err := b.medium.Get(ctx, b.channel)
	if err != nil {
		b.logger.Error("failed to read channel state", "err", err)
		return
	} else if !ok {
		return
	}
	b.accept(text)
}

func (b *Bus) accept(text string) {
	next, err := state.Restore(text, b.defaults)
	if err != nil {
		b.logger.Warn("discarding malformed broadcast state", "err", err)
		return
	}
	b.lastWritten = text
	if !next.Equal(b.store.Current()) {
		b.store.Apply(next)
	}
}

// Publish writes the current state to the channel unless it is what was last
// written or accepted there.
func (b *Bus) Publish(ctx context.Context) {
	text, err := state.Serialize(b.store.Current(), state.Options{})
	if err != nil {
		b.logger.Error("failed to serialize state", "err", err)
		return
	}
	if text == b.lastWritten {
		return
	}
	b.lastWritten = text
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := b.medium.Set(ctx, b.channel, text); err != nil {
		b.logger.Error("failed to publish state", "err", err)
	}
}

// AnnounceReload tells the other instances on the channel to re-fetch their projects.
func (b *Bus) AnnounceReload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := b.medium.Set(ctx, ReloadKey(b.channel), Payload(b.clock)); err != nil {
		return fmt.Errorf("failed to announce reload: %w", err)
	}
	return nil
}

// Ping asks every instance to announce its channel and forgets earlier answers.
func (b *Bus) Ping(ctx context.Context) error {
	b.alive = make(map[string]struct{})
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := b.medium.Set(ctx, PingKey, Payload(b.clock)); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

// Alive reports whether channel answered or wrote anything since the last Ping.
func (b *Bus) Alive(channel string) bool {
	_, ok := b.alive[channel]
	return ok
}

// Handle queues a change from another instance onto the loop. The change is
// handled under the context the bus was started with.
func (b *Bus) Handle(ctx context.Context, change medium.Change) error {
	b.loop.Post(func() {
		if b.ctx != nil {
			ctx = b.ctx
		}
		b.handle(ctx, change)
	})
	return nil
}

func (b *Bus) handle(ctx context.Context, change medium.Change) {
	if change.Deleted || ctx.Err() != nil {
		return
	}
	kind, channel := Classify(change.Key)
	switch kind {
	case KindState, KindReload, KindPong:
		// any write since the ping proves the channel's instance is running
		b.alive[channel] = struct{}{}
	}
	switch kind {
	case KindState:
		if channel != b.channel {
			return
		}
		current, err := state.Serialize(b.store.Current(), state.Options{})
		if err != nil {
			b.logger.Error("failed to serialize state", "err", err)
			return
		}
		if change.OldValue != current {
			b.logger.Debug("ignoring stale broadcast state")
			return
		}
		b.accept(change.NewValue)
	case KindReload:
		if channel == b.channel {
			b.onReload()
		}
	case KindPing:
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := b.medium.Set(ctx, PongKey(b.channel), Payload(b.clock)); err != nil {
			b.logger.Error("failed to pong", "err", err)
		}
	}
}

// Close stops publishing and unsubscribes from the medium. The channel's keys stay.
func (b *Bus) Close(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return b.medium.Close(ctx)
}

// compile-time interface assertions
var _ medium.Subscriber = (*Bus)(nil)
