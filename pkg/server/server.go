// Package server implements the postbox engine: per-connection sessions,
// the mailbox rules (message size, inbox capacity, role-based reads), and
// the command dispatch that ties them to the wire protocol.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"postbox/pkg/protocol"
	"postbox/pkg/store"
)

// Version is reported by the info command.
const Version = "1.0.0"

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on per-session debug output to stderr.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
}

// Server serves the postbox protocol over TCP (and optionally websocket).
type Server struct {
	store     store.Store
	config    TOMLConfig
	listener  net.Listener
	sessions  *SessionManager
	metrics   *Metrics
	startTime time.Time

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metricsServer *http.Server
	wsServer      *http.Server
}

// NewServer creates a server over the given store. The server owns the
// store and closes it on Stop.
func NewServer(st store.Store, config TOMLConfig) *Server {
	metrics := NewMetrics()
	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	return &Server{
		store:     st,
		config:    config,
		sessions:  sessions,
		metrics:   metrics,
		startTime: time.Now(),
		shutdown:  make(chan struct{}),
	}
}

// Start begins listening on the configured ports and returns immediately.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("Listening on %s", listener.Addr())

	// Metrics + health endpoint (internal only - never expose publicly)
	if s.config.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metrics.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.Server.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Websocket transport
	if s.config.Server.HTTPPort > 0 {
		wsMux := http.NewServeMux()
		wsMux.HandleFunc("/ws", s.HandleWebSocket)
		s.wsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.Server.HTTPPort),
			Handler: wsMux,
		}
		go func() {
			log.Printf("Websocket server listening on %s (/ws)", s.wsServer.Addr)
			if err := s.wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Websocket server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to. Useful when the
// configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server: no new connections, all sessions
// closed, store flushed. Safe to call more than once.
func (s *Server) Stop() error {
	var closeErr error
	s.stopOnce.Do(func() {
		log.Println("Graceful shutdown initiated...")
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.metricsServer != nil {
			s.metricsServer.Close()
		}
		if s.wsServer != nil {
			s.wsServer.Close()
		}

		s.sessions.CloseAll()
		s.wg.Wait()

		if err := s.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
			closeErr = err
		}

		log.Println("Graceful shutdown complete")
	})
	return closeErr
}

// HealthHandler reports basic liveness
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK sessions=%d uptime=%s\n", s.sessions.Count(), time.Since(s.startTime).Round(time.Second))
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection sets up a session for a TCP connection and runs its
// request loop until the peer disconnects or issues stop.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := s.sessions.CreateSession(conn.RemoteAddr().String(), conn)
	defer s.sessions.RemoveSession(sess.ID)

	debugLog.Printf("New connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	reader := protocol.NewLineReader(conn)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		response, stopping := s.serve(sess, line)
		if err := protocol.WriteValue(conn, response); err != nil {
			debugLog.Printf("Session %d: write error: %v", sess.ID, err)
			return
		}
		if stopping {
			debugLog.Printf("Session %d: stop requested", sess.ID)
			if s.config.Server.StopShutsDown {
				go s.Stop()
			}
			return
		}
	}
}

// serve decodes one request line and dispatches it. The second return value
// reports whether the connection should terminate after the response is
// written. Undecodable input answers the wrong-command sentinel; nothing a
// peer sends can take the connection down.
func (s *Server) serve(sess *Session, line []byte) (any, bool) {
	req, err := protocol.DecodeRequest(line)
	if err != nil {
		s.metrics.RecordFailure("unknown_command")
		return protocol.WrongCommandSentinel, false
	}

	s.metrics.RecordCommand(req.Command())

	if _, ok := req.(protocol.StopRequest); ok {
		return protocol.StopSentinel, true
	}

	return s.dispatch(sess, req), false
}
