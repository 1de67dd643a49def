package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/viewsync/pkg/medium"
)

// ErrRequestFailed is returned when the relay answers a request with an error.
var ErrRequestFailed = errors.New("relay request failed")

// FetchLatest downloads a copy of the named medium's document from the relay at baseURL.
func FetchLatest(ctx context.Context, client *http.Client, baseURL, name string) (*automerge.Doc, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.JoinPath("media", name, "latest").String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching %s returned %s", ErrRequestFailed, name, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return doc, nil
}

// Conn is a participant connection to one medium hosted by a relay Server.
type Conn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan frame
	subscriber medium.Subscriber
	closed     bool

	changes chan medium.Change
	done    chan struct{}
}

// Dial connects to the named medium on the relay at baseURL (http or https).
func Dial(ctx context.Context, baseURL string, name string) (*Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay url: %w", err)
	}
	u = u.JoinPath("media", name, "connect")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	c := &Conn{
		conn:    ws,
		logger:  slog.Default().With("component", "relay-client", "medium", name),
		pending: make(map[string]chan frame),
		changes: make(chan medium.Change, sendBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.changes)
	}()
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			if !c.isClosed() {
				c.logger.Error("connection lost", "err", err)
			}
			return
		}
		switch f.Op {
		case opResult:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case opChange:
			if f.Change != nil {
				c.changes <- *f.Change
			}
		default:
			c.logger.Warn("unexpected frame", "op", f.Op)
		}
	}
}

// dispatchLoop hands changes to the subscriber outside the read loop so that a
// subscriber may itself issue requests.
func (c *Conn) dispatchLoop() {
	defer close(c.done)
	for change := range c.changes {
		c.mu.Lock()
		sub := c.subscriber
		c.mu.Unlock()
		if sub == nil {
			continue
		}
		if err := sub.Handle(context.Background(), change); err != nil {
			c.logger.Warn("subscriber failed to handle change", "key", change.Key, "err", err)
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) request(ctx context.Context, req frame) (frame, error) {
	req.ID = uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, medium.ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	raw, err := encodeFrame(req)
	if err != nil {
		return frame{}, err
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, fmt.Errorf("failed to send %s: %w", req.Op, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return frame{}, medium.ErrClosed
		}
		if res.Error != "" {
			return res, fmt.Errorf("%w: %s %s: %s", ErrRequestFailed, req.Op, req.Key, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	}
}

func (c *Conn) Set(ctx context.Context, key, value string) error {
	_, err := c.request(ctx, frame{Op: opSet, Key: key, Value: value})
	return err
}

func (c *Conn) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := c.request(ctx, frame{Op: opGet, Key: key})
	if err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

func (c *Conn) Delete(ctx context.Context, key string) error {
	_, err := c.request(ctx, frame{Op: opDelete, Key: key})
	return err
}

func (c *Conn) Keys(ctx context.Context) ([]string, error) {
	res, err := c.request(ctx, frame{Op: opKeys})
	if err != nil {
		return nil, err
	}
	return res.Keys, nil
}

// Subscribe replaces any previously registered subscriber.
func (c *Conn) Subscribe(ctx context.Context, subscriber medium.Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return medium.ErrClosed
	}
	c.subscriber = subscriber
	return nil
}

func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.subscriber = nil
	c.mu.Unlock()
	if already {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = c.conn.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// compile-time interface assertions
var _ medium.Medium = (*Conn)(nil)
