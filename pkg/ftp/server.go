package ftp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/xerpi/FTPVita/internal/logger"
	"github.com/xerpi/FTPVita/internal/ratelimiter"
	"github.com/xerpi/FTPVita/pkg/metrics"
	"github.com/xerpi/FTPVita/pkg/mount"
)

// DefaultTransferBufferSize is the streaming buffer used by data transfers
// when the configuration leaves it unset.
const DefaultTransferBufferSize = 4 * 1024 * 1024

// Config holds the session engine settings.
type Config struct {
	// Port is the control-connection listening port. 0 picks an ephemeral
	// port, which is reported back by Start.
	Port int

	// AdvertisedIP is the IPv4 address reported in PASV replies. Empty
	// means discover the outbound interface address automatically.
	AdvertisedIP string

	// ResponseDelay is slept before answering each command. Some older
	// clients depend on the timing; 0 disables it.
	ResponseDelay time.Duration

	// TransferBufferSize is the fixed buffer used when streaming files.
	TransferBufferSize int

	// OwnerName and GroupName are the fixed owner/group columns of LIST
	// output.
	OwnerName string
	GroupName string
}

func (c *Config) applyDefaults() {
	if c.TransferBufferSize <= 0 {
		c.TransferBufferSize = DefaultTransferBufferSize
	}
	if c.OwnerName == "" {
		c.OwnerName = "vita"
	}
	if c.GroupName == "" {
		c.GroupName = "vita"
	}
}

// LogFunc receives one formatted log line. Sinks must not block; the
// session engine calls them inline.
type LogFunc func(string)

// Option configures optional Server collaborators.
type Option func(*Server)

// WithMetrics attaches a metrics recorder to the server.
func WithMetrics(m metrics.FTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBandwidthLimiter caps the aggregate data-channel throughput.
func WithBandwidthLimiter(l *ratelimiter.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// Server owns the listening socket, the mount table, and the registry of
// live sessions. All state lives on the Server; there are no package-level
// singletons.
type Server struct {
	cfg      Config
	mounts   *mount.Table
	registry *sessionRegistry
	metrics  metrics.FTPMetrics
	limiter  *ratelimiter.Limiter

	infoLog  LogFunc
	debugLog LogFunc

	mu         sync.Mutex
	listener   net.Listener
	advertised net.IP
	port       int
	acceptDone chan struct{}
	running    bool

	nextID atomic.Int64
}

// New creates a Server for the given mount table. The table may be empty;
// mounts can be added while the server runs.
func New(cfg Config, mounts *mount.Table, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:      cfg,
		mounts:   mounts,
		registry: newSessionRegistry(),
		metrics:  metrics.NewNoopFTPMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInfoLog registers the informational log sink.
func (s *Server) SetInfoLog(fn LogFunc) { s.infoLog = fn }

// SetDebugLog registers the debug log sink.
func (s *Server) SetDebugLog(fn LogFunc) { s.debugLog = fn }

func (s *Server) info(format string, v ...any) {
	if s.infoLog != nil {
		s.infoLog(fmt.Sprintf(format, v...))
		return
	}
	logger.Info(format, v...)
}

func (s *Server) debug(format string, v ...any) {
	if s.debugLog != nil {
		s.debugLog(fmt.Sprintf(format, v...))
		return
	}
	logger.Debug(format, v...)
}

// AddMount exposes a storage root under the given name ("ux0:").
func (s *Server) AddMount(name string, fs afero.Fs) error {
	return s.mounts.Add(name, fs)
}

// RemoveMount withdraws a storage root. In-flight transfers on the mount
// finish against their already-resolved filesystem.
func (s *Server) RemoveMount(name string) error {
	return s.mounts.Remove(name)
}

// Start binds the listening socket, resolves the advertised address, and
// launches the accept loop on its own goroutine. It returns the advertised
// address and the actual listening port.
func (s *Server) Start() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return "", 0, errors.New("ftp: server already running")
	}

	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return "", 0, fmt.Errorf("ftp: listen: %w", err)
	}

	ip, err := s.resolveAdvertisedIP()
	if err != nil {
		ln.Close()
		return "", 0, err
	}

	s.listener = ln
	s.advertised = ip
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.acceptDone = make(chan struct{})
	s.running = true

	go s.acceptLoop(ln)

	s.debug("Server listening on %s:%d", ip, s.port)
	return ip.String(), s.port, nil
}

// Stop closes the listening socket, joins the accept loop, then runs the
// broadcast abort over every live session. It returns only after every
// session goroutine has exited and the registry is empty.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	s.listener = nil
	acceptDone := s.acceptDone
	s.mu.Unlock()

	ln.Close()
	<-acceptDone

	s.registry.shutdownAll()
	s.metrics.SetActiveSessions(0)
	s.debug("Server stopped")
	return nil
}

// IsRunning reports whether the accept loop is live.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	s.debug("Accept loop started")

	for {
		conn, err := ln.Accept()
		if err != nil {
			// A closed listener ends the loop; anything else is a
			// non-fatal event.
			if errors.Is(err, net.ErrClosed) {
				s.debug("Listening socket closed")
				return
			}
			s.debug("Error accepting connection: %v", err)
			continue
		}

		id := int(s.nextID.Add(1) - 1)
		s.info("Client %d connected, peer: %s", id, conn.RemoteAddr())

		sess := newSession(id, s, conn)
		s.registry.add(sess)
		s.metrics.RecordSessionAccepted()
		s.metrics.SetActiveSessions(s.registry.count())

		go sess.run()
	}
}

// resolveAdvertisedIP returns the IPv4 address put into PASV replies.
func (s *Server) resolveAdvertisedIP() (net.IP, error) {
	if s.cfg.AdvertisedIP != "" {
		ip := net.ParseIP(s.cfg.AdvertisedIP)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("ftp: advertised_ip %q is not an IPv4 address", s.cfg.AdvertisedIP)
		}
		return ip.To4(), nil
	}

	// The UDP "connection" is never sent on; it only asks the kernel which
	// source address the default route would use.
	conn, err := net.Dial("udp4", "8.8.8.8:53")
	if err != nil {
		return net.IPv4(127, 0, 0, 1).To4(), nil
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}
