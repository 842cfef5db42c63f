// Package server hosts the TCP relay: per-connection session handling,
// frame dispatch, authentication, the group directory, message relaying,
// call signaling, and presence broadcasting.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/protocol"
	"github.com/chatrelay/chatrelay/internal/registry"
	"github.com/chatrelay/chatrelay/internal/store"
)

// historyLimit caps how many private records a history fetch returns.
const historyLimit = 50

// Server wires the persistence layer, session registry, call rosters, and
// both media relays behind one TCP accept loop.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	sessions *registry.Sessions
	rosters  *registry.Rosters
	audio    *media.Relay
	video    *media.Relay
	metrics  *relayMetrics
	promReg  *prometheus.Registry

	adminHTTP *http.Server
	listener  net.Listener
	ready     atomic.Bool
	wg        sync.WaitGroup

	// open tracks every accepted session, authenticated or not, so shutdown
	// can unblock their read loops. The registry only knows logged-in ones.
	openMu   sync.Mutex
	open     map[*session]struct{}
	draining bool
}

// New constructs a server with its dependencies.
func New(cfg config.Config, logger *zap.Logger, st *store.Store) *Server {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	rosters := registry.NewRosters()
	mediaMetrics := media.NewMetrics(promReg)

	return &Server{
		cfg:      cfg,
		log:      logger,
		store:    st,
		sessions: registry.NewSessions(),
		rosters:  rosters,
		audio:    media.NewAudioRelay(rosters, logger, mediaMetrics),
		video:    media.NewVideoRelay(rosters, logger, mediaMetrics),
		metrics:  newRelayMetrics(promReg),
		promReg:  promReg,
		open:     make(map[*session]struct{}),
	}
}

// Start binds all sockets, launches the relay loops, and blocks in the
// accept loop until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.TCPAddress)
	if err != nil {
		return err
	}
	s.listener = listener

	if err := s.audio.Listen(s.cfg.AudioAddress); err != nil {
		listener.Close()
		return err
	}
	if err := s.video.Listen(s.cfg.VideoAddress); err != nil {
		listener.Close()
		return err
	}

	s.startAdminServer()

	// The relay loops outlive individual connections; media flows whenever
	// an endpoint is registered, independent of signaling state.
	go s.audio.Run(ctx)
	go s.video.Run(ctx)

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.shutdown(stopCtx)
	}()

	s.log.Info("relay listening",
		zap.String("tcp", listener.Addr().String()),
		zap.String("audio", s.audio.LocalAddr().String()),
		zap.String("video", s.video.LocalAddr().String()))
	s.ready.Store(true)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound TCP address once the server is ready.
func (s *Server) Addr() net.Addr {
	if !s.ready.Load() {
		return nil
	}
	return s.listener.Addr()
}

// AudioAddr returns the bound audio relay address once the server is ready.
func (s *Server) AudioAddr() net.Addr {
	if !s.ready.Load() {
		return nil
	}
	return s.audio.LocalAddr()
}

// VideoAddr returns the bound video relay address once the server is ready.
func (s *Server) VideoAddr() net.Addr {
	if !s.ready.Load() {
		return nil
	}
	return s.video.LocalAddr()
}

func (s *Server) startAdminServer() {
	if s.cfg.AdminAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.AdminAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.AdminAddress))
}

func (s *Server) shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.openMu.Lock()
	s.draining = true
	for sess := range s.open {
		sess.close()
	}
	s.openMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("relay stopped")
	case <-ctx.Done():
		s.log.Warn("graceful shutdown timed out")
	}
}

// handleConn runs the per-connection loop: read a frame, dispatch it, repeat
// until the transport fails. Protocol errors take the same path as an
// orderly disconnect.
func (s *Server) handleConn(conn net.Conn) {
	sess := newSession(conn, s.log, s.metrics)
	s.openMu.Lock()
	if s.draining {
		// Raced with shutdown: close now so the read loop exits at once.
		sess.close()
	}
	s.open[sess] = struct{}{}
	s.openMu.Unlock()
	go sess.writeLoop()
	defer s.teardown(sess)

	sess.log.Debug("connection accepted", zap.String("remote", conn.RemoteAddr().String()))

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrBadHeader) {
				s.metrics.recordError("bad_header")
			}
			return
		}
		env, err := protocol.DecodeEnvelope(payload)
		if err != nil {
			s.metrics.recordError("bad_json")
			return
		}
		s.metrics.recordFrame(env.Type)
		s.dispatch(sess, env)
	}
}

func (s *Server) dispatch(sess *session, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSignup:
		s.handleSignup(sess, env)
	case protocol.TypeLogin:
		s.handleLogin(sess, env)
	default:
	}

	// Everything below requires an authenticated session.
	if sess.identity == "" {
		return
	}

	switch env.Type {
	case protocol.TypePrivate:
		s.handlePrivate(sess, env)
	case protocol.TypeFile:
		s.handleFile(sess, env)
	case protocol.TypeVoiceMsg:
		s.handleVoice(sess, env)
	case protocol.TypeHistory:
		s.handleHistory(sess, env)
	case protocol.TypeCall, protocol.TypeCallAccept, protocol.TypeCallReject:
		s.relayCallSignal(sess, env)
	case protocol.TypeGroupCreate:
		s.handleGroupCreate(sess, env)
	case protocol.TypeGroupJoin:
		s.handleGroupJoin(sess, env)
	case protocol.TypeGroupLeave:
		s.handleGroupLeave(sess, env)
	case protocol.TypeGroupMsg:
		s.handleGroupMessage(sess, env)
	case protocol.TypeGroupFile:
		s.handleGroupFile(sess, env)
	case protocol.TypeGroupCall:
		s.handleGroupCall(sess, env)
	case protocol.TypeGroupCallAccept:
		s.handleGroupCallAccept(sess, env)
	case protocol.TypeGroupVoiceMsg:
		s.handleGroupVoice(sess, env)
	case protocol.TypeGroupAddUser:
		s.handleGroupAddUser(sess, env)
	default:
		// Unknown types are ignored.
	}
}

// teardown runs the unconditional disconnect path: unbind the session,
// remove roster and endpoint entries, then broadcast updated presence.
func (s *Server) teardown(sess *session) {
	s.openMu.Lock()
	delete(s.open, sess)
	s.openMu.Unlock()
	sess.close()
	if sess.identity == "" {
		return
	}
	if s.sessions.Remove(sess.identity, sess) {
		s.rosters.Leave(sess.identity)
		s.audio.Drop(sess.identity)
		s.video.Drop(sess.identity)
		s.metrics.decSession()
		sess.log.Info("session closed", zap.String("identity", sess.identity))
		s.broadcastUserList()
	}
}
