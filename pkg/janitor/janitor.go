// Package janitor garbage-collects the keys of channels whose instances are
// gone. At instance start it pings every instance, waits for their pongs and
// then deletes every key of a channel that did not answer.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/astromechza/viewsync/pkg/broadcast"
	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/medium"
)

const DefaultWait = 10 * time.Second

// Liveness pings the other instances and reports which channels answered.
type Liveness interface {
	Channel() string
	Ping(ctx context.Context) error
	Alive(channel string) bool
}

type Params struct {
	Medium   medium.Medium
	Liveness Liveness
	Loop     loop.Poster
	Clock    clock.Clock
	// Wait is how long instances get to answer the ping.
	Wait   time.Duration
	Logger *slog.Logger
}

type Janitor struct {
	medium   medium.Medium
	liveness Liveness
	loop     loop.Poster
	clock    clock.Clock
	wait     time.Duration
	logger   *slog.Logger

	timer   *clock.Timer
	deleted []string
	swept   bool
}

func New(params Params) *Janitor {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Wait == 0 {
		params.Wait = DefaultWait
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Janitor{
		medium:   params.Medium,
		liveness: params.Liveness,
		loop:     params.Loop,
		clock:    params.Clock,
		wait:     params.Wait,
		logger:   params.Logger.With("component", "janitor"),
	}
}

// Start pings and schedules the sweep onto the loop after the wait.
func (j *Janitor) Start(ctx context.Context) error {
	if err := j.liveness.Ping(ctx); err != nil {
		return err
	}
	j.timer = j.clock.AfterFunc(j.wait, func() {
		j.loop.Post(func() {
			deleted, err := j.Sweep(ctx)
			if err != nil {
				j.logger.Error("sweep incomplete", "err", err)
			}
			j.logger.Info("swept dead channels", "deleted", len(deleted))
		})
	})
	return nil
}

// Stop cancels a sweep that has not started yet.
func (j *Janitor) Stop() {
	if j.timer != nil {
		j.timer.Stop()
	}
}

// Swept reports whether a sweep ran and the keys it deleted.
func (j *Janitor) Swept() (bool, []string) {
	return j.swept, j.deleted
}

// Sweep deletes every key of every channel other than our own that did not
// answer the last ping. Failed deletes are logged and skipped.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	keys, err := j.medium.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	own := j.liveness.Channel()
	var deleted []string
	for _, key := range keys {
		kind, channel := broadcast.Classify(key)
		switch kind {
		case broadcast.KindState, broadcast.KindReload, broadcast.KindPong:
		default:
			continue
		}
		if channel == own || j.liveness.Alive(channel) {
			continue
		}
		if err := j.medium.Delete(ctx, key); err != nil {
			j.logger.Warn("failed to delete key", "key", key, "err", err)
			continue
		}
		deleted = append(deleted, key)
	}
	sort.Strings(deleted)
	j.swept = true
	j.deleted = deleted
	return deleted, nil
}
