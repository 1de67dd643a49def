// Package redismedium implements the shared medium on top of Redis. Values
// live in plain string keys under a namespace; every effective write is
// announced on a pub/sub topic tagged with the writer's origin so that
// participants can drop their own notifications.
package redismedium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/astromechza/viewsync/pkg/medium"
)

// setIfChanged returns {changed} or {changed, old}.
var setIfChanged = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
if old == ARGV[1] then
  return {0}
end
redis.call('SET', KEYS[1], ARGV[1])
if old == false then
  return {1}
end
return {1, old}
`)

var deleteIfPresent = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
if old == false then
  return {0}
end
redis.call('DEL', KEYS[1])
return {1, old}
`)

type envelope struct {
	Origin string        `json:"origin"`
	Change medium.Change `json:"change"`
}

type Params struct {
	Client *redis.Client
	// Namespace separates independent media on the same server.
	Namespace string
	// Origin identifies this participant; generated when empty.
	Origin string
	Logger *slog.Logger
}

type Medium struct {
	client *redis.Client
	prefix string
	topic  string
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
	closed bool
}

func New(params Params) (*Medium, error) {
	if params.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Namespace == "" {
		params.Namespace = "viewsync"
	}
	if params.Origin == "" {
		params.Origin = uuid.NewString()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Medium{
		client: params.Client,
		prefix: params.Namespace + ":kv:",
		topic:  params.Namespace + ":changes",
		origin: params.Origin,
		logger: params.Logger.With("component", "redismedium", "origin", params.Origin),
	}, nil
}

func (m *Medium) Set(ctx context.Context, key, value string) error {
	if m.isClosed() {
		return medium.ErrClosed
	}
	res, err := setIfChanged.Run(ctx, m.client, []string{m.prefix + key}, value).Slice()
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	changed, old, had := parseScriptResult(res)
	if !changed {
		return nil
	}
	return m.publish(ctx, medium.Change{Key: key, OldValue: old, HadOld: had, NewValue: value})
}

func (m *Medium) Get(ctx context.Context, key string) (string, bool, error) {
	if m.isClosed() {
		return "", false, medium.ErrClosed
	}
	v, err := m.client.Get(ctx, m.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

func (m *Medium) Delete(ctx context.Context, key string) error {
	if m.isClosed() {
		return medium.ErrClosed
	}
	res, err := deleteIfPresent.Run(ctx, m.client, []string{m.prefix + key}).Slice()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	changed, old, _ := parseScriptResult(res)
	if !changed {
		return nil
	}
	return m.publish(ctx, medium.Change{Key: key, OldValue: old, HadOld: true, Deleted: true})
}

func (m *Medium) Keys(ctx context.Context) ([]string, error) {
	if m.isClosed() {
		return nil, medium.ErrClosed
	}
	var keys []string
	iter := m.client.Scan(ctx, 0, m.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), m.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Subscribe starts relaying changes by other origins to subscriber. Only one
// subscriber is allowed per Medium.
func (m *Medium) Subscribe(ctx context.Context, subscriber medium.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return medium.ErrClosed
	}
	if m.pubsub != nil {
		return errors.New("only a single subscriber is allowed")
	}
	ps := m.client.Subscribe(ctx, m.topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", m.topic, err)
	}
	m.pubsub = ps
	m.done = make(chan struct{})
	go m.relay(ps.Channel(), subscriber, m.done)
	return nil
}

func (m *Medium) relay(messages <-chan *redis.Message, subscriber medium.Subscriber, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			m.logger.Warn("dropping undecodable change", "err", err)
			continue
		}
		if env.Origin == m.origin {
			continue
		}
		if err := subscriber.Handle(context.Background(), env.Change); err != nil {
			m.logger.Warn("subscriber failed to handle change", "key", env.Change.Key, "err", err)
		}
	}
}

func (m *Medium) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ps, done := m.pubsub, m.done
	m.mu.Unlock()

	if ps == nil {
		return nil
	}
	if err := ps.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Medium) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Medium) publish(ctx context.Context, change medium.Change) error {
	raw, err := json.Marshal(envelope{Origin: m.origin, Change: change})
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := m.client.Publish(ctx, m.topic, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish change to %s: %w", m.topic, err)
	}
	return nil
}

func parseScriptResult(res []interface{}) (changed bool, old string, had bool) {
	if len(res) == 0 {
		return false, "", false
	}
	if n, ok := res[0].(int64); !ok || n != 1 {
		return false, "", false
	}
	if len(res) > 1 {
		old, had = res[1].(string)
	}
	return true, old, had
}

// compile-time interface assertions
var _ medium.Medium = (*Medium)(nil)
