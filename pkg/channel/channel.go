// Package channel allocates the broadcast channel an instance publishes on
// and remembers it for the instance's session, so that a restarted instance
// keeps its channel.
package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/astromechza/viewsync/pkg/broadcast"
)

const (
	DefaultDatabasePermissions = 0600

	sessionBucket = "session"
	channelKey    = "channel"
)

// Allocate returns a fresh channel id.
func Allocate() string {
	return broadcast.ChannelPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SessionStore persists the channel of one instance session.
type SessionStore interface {
	Channel() (string, bool, error)
	SetChannel(channel string) error
}

// Resolve returns the channel the instance should use: the link invitation
// when given, else the remembered channel, else a newly allocated one. The
// result is remembered.
func Resolve(store SessionStore, link string) (string, error) {
	if link != "" {
		if err := store.SetChannel(link); err != nil {
			return "", err
		}
		return link, nil
	}
	if existing, ok, err := store.Channel(); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}
	fresh := Allocate()
	if err := store.SetChannel(fresh); err != nil {
		return "", err
	}
	return fresh, nil
}

type MemorySession struct {
	mu      sync.Mutex
	channel string
}

func NewMemorySession() *MemorySession {
	return &MemorySession{}
}

func (m *MemorySession) Channel() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel, m.channel != "", nil
}

func (m *MemorySession) SetChannel(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel = channel
	return nil
}

// BoltSession keeps the channel in a bolt database file.
type BoltSession struct {
	database *bolt.DB
}

func OpenBoltSession(path string) (*BoltSession, error) {
	database, err := bolt.Open(path, DefaultDatabasePermissions, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := database.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	}); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}
	return &BoltSession{database: database}, nil
}

func (b *BoltSession) Channel() (string, bool, error) {
	var channel string
	err := b.database.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(sessionBucket)).Get([]byte(channelKey)); v != nil {
			channel = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read channel: %w", err)
	}
	return channel, channel != "", nil
}

func (b *BoltSession) SetChannel(channel string) error {
	if err := b.database.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(channelKey), []byte(channel))
	}); err != nil {
		return fmt.Errorf("failed to store channel: %w", err)
	}
	return nil
}

func (b *BoltSession) Close() error {
	return b.database.Close()
}

// compile-time interface assertions
var (
	_ SessionStore = (*MemorySession)(nil)
	_ SessionStore = (*BoltSession)(nil)
)
