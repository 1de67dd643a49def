package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/viewsync/pkg/medium"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// session is one websocket participant of a Space.
type session struct {
	conn   *websocket.Conn
	send   chan []byte
	space  *Space
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.send)
	}
}

// enqueue queues raw for writing and drops the session when its buffer is full.
func (s *session) enqueue(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.send <- raw:
	default:
		s.logger.Warn("dropping slow participant")
		_ = s.conn.Close()
	}
}

func (s *session) readPump() {
	defer s.conn.Close()
	s.conn.SetReadLimit(1 << 20)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		req, err := readFrame(s.conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("read failed", "err", err)
			}
			return
		}
		s.handle(req)
	}
}

func (s *session) handle(req frame) {
	res := frame{ID: req.ID, Op: opResult, Key: req.Key}
	var change *medium.Change
	var err error
	switch req.Op {
	case opSet:
		change, err = s.space.Set(req.Key, req.Value)
	case opDelete:
		change, err = s.space.Delete(req.Key)
	case opGet:
		res.Value, res.Found, err = s.space.Get(req.Key)
	case opKeys:
		res.Keys, err = s.space.Keys()
	default:
		s.logger.Warn("unknown op", "op", req.Op)
		res.Error = "unknown op " + req.Op
	}
	if err != nil {
		res.Error = err.Error()
	}
	if raw, err := encodeFrame(res); err != nil {
		s.logger.Error("failed to encode result", "err", err)
	} else {
		s.enqueue(raw)
	}
	if change != nil {
		s.broadcast(*change)
	}
}

// broadcast delivers change to every other participant of the space.
func (s *session) broadcast(change medium.Change) {
	raw, err := encodeFrame(frame{Op: opChange, Change: &change})
	if err != nil {
		s.logger.Error("failed to encode change", "err", err)
		return
	}
	for _, peer := range s.space.peers(s) {
		peer.enqueue(raw)
	}
}

func (s *session) writePump() {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Error("failed to write message", "err", err)
				return
			}
		case <-t.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
