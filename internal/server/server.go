package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arbor/internal/config"
	"arbor/internal/growth"
	"arbor/internal/preview"
	"arbor/internal/simulation"
	"arbor/internal/stream"
)

const shutdownTimeout = 5 * time.Second

// Server grows one tree at a time, streams its frames to websocket viewers
// and serves snapshots over HTTP.
type Server struct {
	cfgPath string
	hub     *stream.Hub
	logger  *log.Logger
	restart chan string
	started chan struct{}

	mu         sync.RWMutex
	cfg        *config.Config
	session    *simulation.Session
	sessionID  string
	generation int
	addr       string
}

// New builds the first session from cfg. cfgPath is only used for reloads
// and may be empty.
func New(cfg *config.Config, cfgPath string) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := log.New(log.Writer(), "arbor-server ", log.LstdFlags|log.Lmicroseconds)
	s := &Server{
		cfgPath: cfgPath,
		cfg:     cfg,
		hub:     stream.NewHub(cfg.Server.ClientBuffer, logger),
		logger:  logger,
		restart: make(chan string, 1),
		started: make(chan struct{}),
	}
	if err := s.startSession(""); err != nil {
		return nil, err
	}
	return s, nil
}

// startSession replaces the running session with a fresh one built from the
// current config and primes the hub with it. A non-empty reason announces
// the restart to connected viewers first.
func (s *Server) startSession(reason string) error {
	cfg := s.currentConfig()
	sess, err := simulation.New(cfg, s.logger)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	s.generation++
	s.session = sess
	s.sessionID = fmt.Sprintf("tree-%d", s.generation)
	id := s.sessionID
	s.mu.Unlock()

	if reason != "" {
		if err := s.hub.Broadcast(stream.MessageRestart, stream.Restart{Session: id, Reason: reason}); err != nil {
			return fmt.Errorf("broadcast restart: %w", err)
		}
	}
	if err := s.hub.SetHello(stream.Hello{Session: id, Tree: cfg.Tree}); err != nil {
		return fmt.Errorf("prepare hello: %w", err)
	}
	if err := s.hub.Broadcast(stream.MessageFrame, stream.NewFramePayload(id, sess.Latest())); err != nil {
		return fmt.Errorf("broadcast initial frame: %w", err)
	}
	s.logger.Printf("session %s started with %d leaves", id, cfg.Tree.LeafCount)
	return nil
}

func (s *Server) current() (*simulation.Session, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.sessionID
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Restart asks the tick loop to start over. Requests made while one is
// pending are folded into it.
func (s *Server) Restart(reason string) {
	select {
	case s.restart <- reason:
	default:
	}
}

// Addr returns the bound listen address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Started is closed once the HTTP listener is bound.
func (s *Server) Started() <-chan struct{} {
	return s.started
}

// Run serves HTTP, drives the tick loop and, when enabled, watches the config
// file until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.currentConfig()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.started)

	httpSrv := &http.Server{Handler: s.Handler()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Printf("HTTP server listening on %s", ln.Addr())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return nil
	})
	g.Go(func() error {
		return s.tickLoop(ctx)
	})
	if cfg.Server.WatchConfig && s.cfgPath != "" {
		g.Go(func() error {
			return s.watchConfig(ctx)
		})
	}
	return g.Wait()
}

func (s *Server) tickLoop(ctx context.Context) error {
	rate := s.currentConfig().Server.TickRate.Duration()
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	doneSent := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-s.restart:
			if err := s.startSession(reason); err != nil {
				if errors.Is(err, stream.ErrHubClosed) {
					return nil
				}
				s.logger.Printf("restart (%s) failed: %v", reason, err)
				continue
			}
			doneSent = false
			if next := s.currentConfig().Server.TickRate.Duration(); next != rate {
				rate = next
				ticker.Reset(rate)
			}
		case <-ticker.C:
			if doneSent {
				continue
			}
			sent, err := s.tick()
			if err != nil {
				if errors.Is(err, stream.ErrHubClosed) {
					return nil
				}
				return err
			}
			doneSent = sent
		}
	}
}

// tick advances the session once and broadcasts the outcome. It reports
// whether the done message went out.
func (s *Server) tick() (bool, error) {
	sess, id := s.current()
	frame, ok := sess.Step()
	if ok {
		return false, s.hub.Broadcast(stream.MessageFrame, stream.NewFramePayload(id, frame))
	}
	s.logger.Printf("session %s done: %d branches, %d leaves left", id, frame.Stats.Branches, frame.Stats.Leaves)
	return true, s.hub.Broadcast(stream.MessageDone, stream.Done{Session: id, Stats: frame.Stats})
}

// reload reads the config file again and schedules a restart. An invalid
// file keeps the current config.
func (s *Server) reload() {
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.logger.Printf("config reload ignored: %v", err)
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Printf("config reloaded from %s", s.cfgPath)
	s.Restart("config changed")
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/mesh", s.handleMesh)
	mux.HandleFunc("/preview.png", s.handlePreview)
	mux.HandleFunc("/restart", s.handleRestart)
	mux.Handle("/ws", s.hub)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statsResponse struct {
	Session string `json:"session"`
	Viewers int    `json:"viewers"`
	growth.Stats
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, id := s.current()
	writeJSON(w, statsResponse{
		Session: id,
		Viewers: s.hub.Clients(),
		Stats:   sess.Stats(),
	})
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	sess, id := s.current()
	writeJSON(w, stream.NewFramePayload(id, sess.Latest()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.current()
	scene := preview.SceneFor(sess.Latest(), s.currentConfig().Preview)
	writePNG(w, func(out io.Writer) error { return preview.Encode(out, scene) })
}

// writePNG buffers the whole image so an encoding failure can still be
// reported with a 500.
func writePNG(w http.ResponseWriter, encode func(io.Writer) error) {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Restart("requested")
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
