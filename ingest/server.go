// Package ingest implements the local stream socket server that accepts
// client connections and routes protocol messages into the metric store and
// job registry, grounded on src/proxy/server.c and main.c's dispatch switch.
package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/netresearch/tauproxy/jobregistry"
	"github.com/netresearch/tauproxy/logging"
	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// Server is the ingest listening thread. It accepts local stream
// connections and spawns one handler goroutine per connection.
type Server struct {
	socketPath string
	listener   net.Listener
	main       *metricstore.Store
	registry   *jobregistry.Registry
	logger     logging.Logger

	mu      sync.Mutex
	clients []*clientCtx
}

// clientCtx is the per-connection mutable state: the
// job descriptor, an optional per-job store, and whether JOB_DESCRIPTION
// has been seen yet.
type clientCtx struct {
	conn        net.Conn
	jobDesc     jobregistry.Descriptor
	jobStore    *metricstore.Store
	initialized bool
	running     bool
}

// New binds a Unix stream socket at socketPath. Any stale socket file left
// behind by a previous, uncleanly-terminated run is removed first (the
// startup socket cleanup behavior supplemented from main.c).
func New(socketPath string, main *metricstore.Store, registry *jobregistry.Registry, logger logging.Logger) (*Server, error) {
	if _, err := os.Stat(socketPath); err == nil {
		logger.Noticef("ingest: removing stale socket at %s", socketPath)
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("ingest: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: listen on %s: %w", socketPath, err)
	}

	return &Server{
		socketPath: socketPath,
		listener:   ln,
		main:       main,
		registry:   registry,
		logger:     logger,
	}, nil
}

// Serve runs the accept loop until ctx is cancelled. On return, the socket
// file is unlinked.
func (s *Server) Serve(ctx context.Context) {
	defer func() {
		_ = os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Noticef("ingest: listener closed")
			default:
				s.logger.Errorf("ingest: accept: %v", err)
			}
			s.pruneAndJoin()
			return
		}

		s.pruneClients()

		cctx := &clientCtx{conn: conn, running: true}
		s.addClient(cctx)
		go s.handle(cctx)
	}
}

// Close closes the listener directly, used by tests.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) addClient(c *clientCtx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, c)
}

// pruneClients removes finished handler entries from the live-client list,
// pruning the live-client list on every new accept.
func (s *Server) pruneClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.clients[:0]
	for _, c := range s.clients {
		if c.running {
			live = append(live, c)
		}
	}
	s.clients = live
}

func (s *Server) pruneAndJoin() {
	s.pruneClients()
}

// handle is the per-connection handler loop.
func (s *Server) handle(ctx *clientCtx) {
	defer func() {
		ctx.running = false
		ctx.conn.Close()
		s.onExit(ctx)
	}()

	conn := ctx.conn
	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			return // EOF or short read: treated as orderly disconnect
		}
		if !s.dispatch(ctx, conn, env) {
			return
		}
	}
}

// dispatch handles one message; a false return tells the caller to close
// the connection.
func (s *Server) dispatch(ctx *clientCtx, conn net.Conn, env wire.Envelope) bool {
	switch env.Type {
	case wire.MsgJobDescription:
		jd, err := wire.ReadJobDescriptor(conn)
		if err != nil {
			return false
		}
		ctx.jobDesc = jobregistry.FromWire(jd)
		ctx.jobStore = s.registry.Acquire(ctx.jobDesc)
		ctx.initialized = true
		return true

	case wire.MsgDescriptor:
		d, err := wire.DecodeDescriptor(env.Payload)
		if err != nil {
			return false
		}
		if _, _, err := s.main.Register(d.Name, d.Doc, d.Type); err != nil {
			s.logger.Warningf("ingest: type mismatch on re-registration of %q", d.Name)
			return false
		}
		if ctx.jobStore != nil {
			if _, _, err := ctx.jobStore.Register(d.Name, d.Doc, d.Type); err != nil {
				return false
			}
		}
		return true

	case wire.MsgValue:
		e, err := wire.DecodeEvent(env.Payload)
		if err != nil {
			return false
		}
		if err := s.main.Update(e.Name, e.Value); err != nil {
			s.logger.Warningf("ingest: VAL for unknown metric %q", e.Name)
			return false
		}
		if ctx.jobStore != nil {
			_ = ctx.jobStore.Update(e.Name, e.Value)
		}
		return true

	case wire.MsgListAll:
		return s.handleListAll(conn) == nil

	case wire.MsgGetAll:
		return s.handleGetAll(conn) == nil

	case wire.MsgGetOne:
		return s.handleGetOne(conn, env) == nil

	default:
		s.logger.Warningf("ingest: unknown message type %d", env.Type)
		return false
	}
}

// onExit releases any acquired per-job store.
func (s *Server) onExit(ctx *clientCtx) {
	if ctx.initialized && ctx.jobDesc.JobID != "" {
		s.registry.Relax(ctx.jobDesc.JobID)
	}
}
