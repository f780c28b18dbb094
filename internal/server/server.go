package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"senryu/internal/cards"
	"senryu/internal/fanout"
	"senryu/internal/game"
	"senryu/internal/kv"
	"senryu/internal/lock"
	"senryu/internal/orchestrator"
	"senryu/internal/room"
)

const shutdownTimeout = 10 * time.Second

// Server wraps HTTP handlers and configuration.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	mux             *http.ServeMux
	allowedOrigins  []string
	allowAllOrigins bool
	now             func() time.Time

	backend  kv.Store
	rooms    *orchestrator.Service
	hub      *fanout.Hub
	limiter  *ipLimiter
	upgrader websocket.Upgrader
}

// Option customises a Server at construction.
type Option func(*Server)

// WithStore injects an already opened backend instead of opening
// cfg.StoreDriver. The server takes ownership and closes it on Close.
func WithStore(store kv.Store) Option {
	return func(s *Server) { s.backend = store }
}

// WithClock overrides the time source used by every layer.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Server with routes and middleware configured.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv := &Server{
		cfg:            cfg,
		logger:         slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})),
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		now:            time.Now,
		hub:            fanout.NewHub(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			srv.allowAllOrigins = true
		}
	}

	if srv.backend == nil {
		store, err := openStore(cfg, srv.now)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		srv.backend = store
	}

	pools, err := cards.DefaultPools()
	if err != nil {
		return nil, err
	}
	deck, err := cards.NewDeck(pools, nil)
	if err != nil {
		return nil, err
	}

	store := kv.WithPrefix(srv.backend, cfg.KVPrefix)
	repo := room.NewRepository(store, room.WithTTL(cfg.RoomTTL), room.WithClock(srv.now))
	locker := lock.New(store, cfg.LockStaleness, srv.now, srv.logger)
	machine := game.New(deck,
		game.WithClock(srv.now),
		game.WithAutoAdvance(cfg.AutoAdvance),
		game.WithPlayerLimits(cfg.MinPlayersToStart, cfg.MaxPlayersPerRoom),
	)
	srv.rooms = orchestrator.New(repo, locker, machine,
		orchestrator.WithLogger(srv.logger),
		orchestrator.WithPublisher(srv.hub),
	)
	srv.limiter = newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, srv.now)
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == "" || srv.matchOrigin(r.Header.Get("Origin")) != ""
		},
	}

	srv.routes()
	return srv, nil
}

// Router returns the fully wrapped handler.
func (s *Server) Router() http.Handler {
	return s.withCORS(s.loggingMiddleware(s.withRateLimit(s.mux)))
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := ":" + s.cfg.Port
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr), slog.String("store", s.cfg.StoreDriver))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /room", s.handleCreateRoom)
	s.mux.HandleFunc("GET /room", s.handleFindRoom)
	s.mux.HandleFunc("POST /room/join", s.handleJoinByCode)
	s.mux.HandleFunc("GET /room/{id}", s.handleGetRoom)
	s.mux.HandleFunc("POST /room/{id}/join", s.handleJoin)
	s.mux.HandleFunc("POST /room/{id}/start-game", s.handleStartGame)
	s.mux.HandleFunc("POST /room/{id}/redraw-card", s.handleRedraw)
	s.mux.HandleFunc("POST /room/{id}/begin-presentations", s.handleBeginPresentations)
	s.mux.HandleFunc("POST /room/{id}/start-presentation", s.handleStartPresentation)
	s.mux.HandleFunc("POST /room/{id}/next-presenter", s.handleNextPresenter)
	s.mux.HandleFunc("POST /room/{id}/submit-score", s.handleSubmitScore)

	s.mux.HandleFunc("GET /room/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /ws/room/{id}", s.handleWebsocket)

	s.mux.Handle("/", s.spaHandler())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", s.now().Sub(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Flush lets event streams push frames through the wrapped writer.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack allows WebSocket handlers to upgrade the connection through the wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (s *Server) spaHandler() http.Handler {
	fs := http.Dir(s.cfg.FrontendDir)
	fileServer := http.FileServer(fs)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlPath := r.URL.Path
		if urlPath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
		requested := filepath.Join(s.cfg.FrontendDir, cleanPath)
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
