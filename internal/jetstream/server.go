package jetstream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

const defaultReadyTimeout = 5 * time.Second

type Options struct {
	// StoreDir keeps the exchange stream across restarts.
	StoreDir string
	// MaxStore caps the bytes JetStream may write to StoreDir. Zero lets
	// the server pick.
	MaxStore     int64
	ReadyTimeout time.Duration
}

// Server runs NATS with JetStream inside the process. It opens no network
// listener: Connect and Open dial it through an in-memory pipe, which keeps
// exchange records off the wire.
type Server struct {
	ns   *server.Server
	once sync.Once
}

func NewServer(opts Options) (*Server, error) {
	if opts.StoreDir == "" {
		return nil, errors.New("jetstream store dir is required")
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}

	ns, err := server.NewServer(&server.Options{
		ServerName:        "chatkit",
		DontListen:        true,
		NoSigs:            true,
		JetStream:         true,
		StoreDir:          opts.StoreDir,
		JetStreamMaxStore: opts.MaxStore,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(opts.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", opts.ReadyTimeout)
	}
	return &Server{ns: ns}, nil
}

func (s *Server) Connect(name string, opts ...nats.Option) (*nats.Conn, error) {
	opts = append([]nats.Option{nats.InProcessServer(s.ns), nats.Name(name)}, opts...)
	return nats.Connect(s.ns.ClientURL(), opts...)
}

// Open connects and makes sure the exchange stream exists.
func (s *Server) Open(name string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := s.Connect(name)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to embedded nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return nc, js, nil
}

// Shutdown stops the server and waits for it. Later calls do nothing.
func (s *Server) Shutdown() {
	s.once.Do(func() {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
	})
}
