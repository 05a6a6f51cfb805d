package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/redballoonsecurity/shortfuse/internal/dbfs"
	"github.com/redballoonsecurity/shortfuse/internal/memfs"
	"github.com/redballoonsecurity/shortfuse/internal/node"
	"github.com/redballoonsecurity/shortfuse/internal/ops"
)

// Server owns one serve session: the tree, the operations adapter and
// the NFS endpoint.
type Server struct {
	cfg     *ServeConfig
	serveID string
	lock    *flock.Flock
	ops     *ops.Operations

	mu  sync.Mutex // guards nfs, set while Start is running
	nfs *NFSServer
}

// NewServer creates a server for the given configuration. Defaults are
// applied to any fields the configuration leaves empty.
func NewServer(cfg *ServeConfig) *Server {
	cfg.ApplyDefaults()
	return &Server{
		cfg:     cfg,
		serveID: uuid.NewString(),
	}
}

// ServeID identifies this session in logs.
func (s *Server) ServeID() string { return s.serveID }

// Ops exposes the operations adapter, nil before Start.
func (s *Server) Ops() *ops.Operations { return s.ops }

// Addr returns the bound listen address, nil until Start is serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nfs == nil {
		return nil
	}
	return s.nfs.Addr()
}

// Start builds the backend tree, seeds it and begins serving NFS on the
// configured address. It blocks until Shutdown or a listen failure.
func (s *Server) Start() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	// Only one serve session per config dir.
	s.lock = flock.New(LockPath())
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another serve instance is already running")
	}

	if err := s.writePidFile(); err != nil {
		s.lock.Unlock()
		return err
	}

	root, err := s.buildRoot()
	if err != nil {
		s.cleanup()
		return err
	}

	s.ops = ops.New(root)
	if err := s.ops.Init(); err != nil {
		s.cleanup()
		return fmt.Errorf("failed to initialize filesystem: %w", err)
	}

	if s.cfg.SeedDir != "" {
		filter := BuildFileFilterFromConfig(s.cfg)
		if err := Seed(s.ops, s.cfg.SeedDir, filter); err != nil {
			s.shutdownTree()
			return fmt.Errorf("failed to seed from %s: %w", s.cfg.SeedDir, err)
		}
	}

	nfsServer := NewNFSServer(s.ops)
	if err := nfsServer.Listen(s.cfg.Listen); err != nil {
		s.shutdownTree()
		return err
	}
	s.mu.Lock()
	s.nfs = nfsServer
	s.mu.Unlock()

	log.Infof("[serve] Session %s sharing %q on %s (backend=%s)",
		s.serveID, s.cfg.Share, nfsServer.Addr(), s.cfg.Backend)

	serveErr := nfsServer.Serve()
	s.shutdownTree()
	return serveErr
}

// Shutdown stops the NFS endpoint; Start unwinds the rest.
func (s *Server) Shutdown() {
	s.mu.Lock()
	nfsServer := s.nfs
	s.mu.Unlock()
	if nfsServer != nil {
		nfsServer.Shutdown()
	}
}

func (s *Server) buildRoot() (node.Root, error) {
	uid, gid := int64(os.Getuid()), int64(os.Getgid())
	switch s.cfg.Backend {
	case "memory":
		return memfs.NewFS(s.cfg.RootMode, uid, gid), nil
	case "database":
		store, err := dbfs.OpenStore(context.Background(), s.cfg.DataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open data file %s: %w", s.cfg.DataFile, err)
		}
		return dbfs.NewFS(store, s.cfg.RootMode, uid, gid), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", s.cfg.Backend)
	}
}

func (s *Server) shutdownTree() {
	if s.ops != nil {
		if err := s.ops.Destroy(); err != nil {
			log.Errorf("[serve] Failed to destroy filesystem: %v", err)
		}
	}
	s.cleanup()
}

func (s *Server) cleanup() {
	os.Remove(PidPath())
	if s.lock != nil {
		s.lock.Unlock()
	}
}

func (s *Server) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

// GetPID reads the pid file of a running serve session.
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
