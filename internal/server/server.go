// Package server accepts AT protocol connections and answers calls from a shared registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/atrpc/internal/logging"
	"github.com/danmuck/atrpc/internal/observability"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/protocol/session"
	"github.com/danmuck/atrpc/internal/registry"
	"github.com/rs/zerolog"
)

// Version is reported by the admin surface and the CLI.
const Version = "0.1.0"

var ErrLifecycleOrder = errors.New("server: invalid lifecycle transition")

// Config is the server runtime configuration.
type Config struct {
	Name            string
	ListenAddr      string
	AdminListenAddr string
	CORSOrigins     []string
	ChecksumPolicy  protocol.ChecksumPolicy
	// Codec names the payload encoding, "json" or "tlv".
	Codec    string
	Limits   frame.Limits
	Builtins bool
	Session  session.Config
}

func DefaultConfig() Config {
	return Config{
		Name:           "atrpc",
		ListenAddr:     "127.0.0.1:6006",
		ChecksumPolicy: protocol.ChecksumLenient,
		Codec:          payload.CodecJSON,
		Limits:         frame.DefaultLimits(),
		Builtins:       true,
		Session:        session.DefaultConfig(),
	}
}

// State is the server lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateListening
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Server)

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

func WithEngine(e *protocol.Engine) Option {
	return func(s *Server) {
		if e != nil {
			s.engine = e
		}
	}
}

func WithCodec(c payload.Codec) Option {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server owns the listener, the connection table and the function registry.
type Server struct {
	cfg      Config
	engine   *protocol.Engine
	codec    payload.Codec
	registry *registry.Registry
	logger   zerolog.Logger

	mu         sync.Mutex
	state      State
	ln         net.Listener
	stopCh     chan struct{}
	acceptDone chan struct{}
	// stopped is closed once the first Stop has finished.
	stopped   chan struct{}
	startedAt time.Time

	running  atomic.Bool
	handlers sync.WaitGroup

	connsMu    sync.Mutex
	conns      map[uint64]*connRecord
	nextConnID atomic.Uint64

	adminMu   sync.Mutex
	admin     *adminServer
	adminAddr net.Addr
}

func New(cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = def.Name
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits = def.Limits
	}
	cfg.Session = cfg.Session.WithDefaults()

	s := &Server{
		cfg:     cfg,
		logger:  logging.Component("server"),
		conns:   make(map[uint64]*connRecord),
		stopped: make(chan struct{}),
	}
	codec, err := payload.ByName(cfg.Codec)
	if err != nil {
		s.logger.Warn().Err(err).Msg("falling back to json payloads")
		codec = payload.JSON{}
	}
	s.codec = codec
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = protocol.NewEngine(
			protocol.WithRole("server"),
			protocol.WithChecksumPolicy(cfg.ChecksumPolicy),
			protocol.WithLimits(cfg.Limits),
		)
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if cfg.Builtins {
		if err := registry.RegisterBuiltins(s.registry); err != nil {
			s.logger.Error().Err(err).Msg("register builtins failed")
		}
	}
	observability.RegisterMetrics()
	return s
}

// Start binds cfg.ListenAddr and runs the accept loop in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.State() != StateCreated {
		return fmt.Errorf("%w: start from %s", ErrLifecycleOrder, s.State())
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	if err := s.bind(ln); err != nil {
		_ = ln.Close()
		return err
	}
	go s.acceptLoop(ctx, ln)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		if err := s.startAdmin(addr); err != nil {
			_ = s.Stop()
			return err
		}
	}
	return nil
}

// Serve runs the accept loop on ln and blocks until the server stops or ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.bind(ln); err != nil {
		return err
	}
	s.acceptLoop(ctx, ln)
	return nil
}

func (s *Server) bind(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return fmt.Errorf("%w: bind from %s", ErrLifecycleOrder, s.state)
	}
	s.ln = ln
	s.state = StateListening
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	s.stopCh = make(chan struct{})
	s.acceptDone = make(chan struct{})
	s.startedAt = time.Now()
	s.running.Store(true)
	s.state = StateRunning
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer close(s.acceptDone)

	stopCh := s.stopCh
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-stopCh:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			observability.RecordAcceptError()
			delay = nextAcceptDelay(delay)
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-stopCh:
				return
			}
			continue
		}
		delay = 0

		rec := s.track(conn)
		if rec == nil {
			_ = conn.Close()
			return
		}
		go s.handleConn(ctx, rec)
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	prev *= 2
	if prev > time.Second {
		prev = time.Second
	}
	return prev
}

// Stop closes the listener and every tracked connection, then waits for all
// handlers to return. It is safe to call more than once and from several
// goroutines; later callers block until the first one has finished.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		<-s.stopped
		return nil
	case StateCreated:
		s.state = StateStopped
		s.mu.Unlock()
		close(s.stopped)
		return nil
	}
	s.state = StateStopped
	s.running.Store(false)
	close(s.stopCh)
	ln := s.ln
	acceptDone := s.acceptDone
	s.mu.Unlock()

	var errs []error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("server: close listener: %w", err))
	}
	closed := s.closeAllConns()
	<-acceptDone
	s.handlers.Wait()
	if err := s.stopAdmin(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info().Int("closed_conns", closed).Msg("stopped")
	close(s.stopped)
	return errors.Join(errs...)
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	s.logger.Warn().Str("addr", s.Addr().String()).Msg("server running, ctrl-c to stop")
	<-ctx.Done()
	return s.Stop()
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Register adds fn to the shared registry; it is visible to live connections immediately.
func (s *Server) Register(name string, fn registry.Func) error {
	return s.registry.Register(name, fn)
}

func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
