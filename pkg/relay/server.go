// Package relay hosts shared media over websockets and provides the matching
// client. Each named medium is a Space whose keys are kept in an automerge
// document, optionally backed up to a sqlite database.
package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// sendBuffer is how many frames may queue for a slow connection before it is dropped.
const sendBuffer = 256

type ServerParams struct {
	// Database enables backups when set; see Persister.
	Database *sql.DB
	Logger   *slog.Logger
}

type Server struct {
	persister *Persister
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	spaces map[string]*Space
}

func NewServer(ctx context.Context, params ServerParams) (*Server, error) {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	s := &Server{
		logger: params.Logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		spaces: make(map[string]*Space),
	}
	if params.Database != nil {
		s.persister = &Persister{database: params.Database, logger: s.logger}
		docs, err := s.persister.Load(ctx)
		if err != nil {
			return nil, err
		}
		for name, doc := range docs {
			space, err := newSpace(name, doc)
			if err != nil {
				return nil, fmt.Errorf("failed to restore space %s: %w", name, err)
			}
			s.spaces[name] = space
		}
		s.logger.Info("restored spaces", "count", len(docs))
	}
	return s, nil
}

// Space returns the named space, creating it on first use.
func (s *Server) Space(name string) (*Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if space, ok := s.spaces[name]; ok {
		return space, nil
	}
	space, err := newSpace(name, nil)
	if err != nil {
		return nil, err
	}
	s.spaces[name] = space
	return space, nil
}

// Spaces returns every hosted space ordered by name.
func (s *Server) Spaces() []*Space {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Space, 0, len(s.spaces))
	for _, space := range s.spaces {
		out = append(out, space)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Backup persists every space changed since the previous backup.
func (s *Server) Backup(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	var errs []error
	for _, space := range s.Spaces() {
		raw, dirty := space.takeDirty()
		if !dirty {
			continue
		}
		if err := s.persister.Save(ctx, space.name, raw); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("backed up", "medium", space.name, "bytes", len(raw))
	}
	return errors.Join(errs...)
}

// RunBackups calls Backup every interval until ctx is done, then once more.
func (s *Server) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.Backup(ctx); err != nil {
				s.logger.Error("failed to backup media", "err", err)
			}
		case <-ctx.Done():
			if err := s.Backup(context.Background()); err != nil {
				s.logger.Error("failed final backup", "err", err)
			}
			return
		}
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/media/{medium}/connect").HandlerFunc(s.connect)
	r.Methods(http.MethodGet).Path("/media/{medium}/keys").HandlerFunc(s.getKeys)
	r.Methods(http.MethodGet).Path("/media/{medium}/latest").HandlerFunc(s.getLatest)
	return r
}

func (s *Server) existingSpace(writer http.ResponseWriter, request *http.Request) (*Space, bool) {
	name := mux.Vars(request)["medium"]
	s.mu.Lock()
	space, ok := s.spaces[name]
	s.mu.Unlock()
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
	}
	return space, ok
}

func (s *Server) getKeys(writer http.ResponseWriter, request *http.Request) {
	space, ok := s.existingSpace(writer, request)
	if !ok {
		return
	}
	values, err := space.Values()
	if err != nil {
		s.logger.Error("failed to list keys", "medium", space.name, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(values); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	space, ok := s.existingSpace(writer, request)
	if !ok {
		return
	}
	fork, err := space.Fork()
	if err != nil {
		s.logger.Error("failed to fork", "medium", space.name, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(fork.Save()); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) connect(writer http.ResponseWriter, request *http.Request) {
	space, err := s.Space(mux.Vars(request)["medium"])
	if err != nil {
		s.logger.Error("failed to open space", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	sess := &session{conn: conn, send: make(chan []byte, sendBuffer), space: space, logger: s.logger.With("medium", space.name)}
	space.join(sess)
	s.logger.Info("participant joined", "medium", space.name, "remote", request.RemoteAddr)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writePump()
	}()
	sess.readPump()
	space.leave(sess)
	sess.stop()
	wg.Wait()
	s.logger.Info("participant left", "medium", space.name, "remote", request.RemoteAddr)
}
