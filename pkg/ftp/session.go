package ftp

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// controlLineBufferSize bounds a single command line.
const controlLineBufferSize = 512

// session is the per-connection state, owned exclusively by its control
// loop goroutine. The registry only keeps a reference for the shutdown
// broadcast and never touches session fields besides abort/done.
type session struct {
	id   int
	srv  *Server
	conn net.Conn

	reader *bufio.Reader

	// curPath is the absolute virtual working directory.
	curPath string

	// renamePath is the native source path staged by RNFR, consumed by
	// RNTO. It stays until the next RNFR overwrites it.
	renamePath string

	// line is the raw command line currently being dispatched; handlers
	// parse their arguments out of it.
	line string

	// replyCode is the first reply code sent for the current command,
	// recorded for metrics.
	replyCode int

	// data is the at-most-one data channel. dataMu guards its socket
	// fields against the concurrent shutdown abort, not against the
	// owning goroutine.
	data   dataChannel
	dataMu sync.Mutex

	aborting atomic.Bool
	done     chan struct{}
}

func newSession(id int, srv *Server, conn net.Conn) *session {
	return &session{
		id:      id,
		srv:     srv,
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, controlLineBufferSize),
		curPath: "/",
		done:    make(chan struct{}),
	}
}

// run is the control loop: greeting, then read a line, dispatch, repeat,
// until EOF, a socket error, or the shutdown abort.
func (s *session) run() {
	defer func() {
		s.conn.Close()
		s.closeData()
		s.srv.metrics.RecordSessionClosed()
		s.srv.metrics.SetActiveSessions(s.srv.registry.count())
		s.srv.debug("Client %d session exiting", s.id)
		close(s.done)
	}()

	s.srv.debug("Client %d session started", s.id)
	s.sendCtrl("220 FTPVita Server ready.\n")

	for {
		line, tooLong, err := s.readLine()
		if err != nil && line == "" {
			switch {
			case s.aborting.Load():
				// Shutdown broadcast; the registry sweep deregisters us.
				s.srv.info("Client %d socket aborted.", s.id)
			case err == io.EOF:
				s.srv.info("Connection closed by the client %d.", s.id)
				s.srv.registry.remove(s)
			default:
				s.srv.info("Client %d socket error: %v", s.id, err)
				s.srv.registry.remove(s)
			}
			return
		}
		if tooLong {
			s.sendCtrl("500 Line too long.\n")
			continue
		}

		s.line = strings.TrimRight(line, "\r\n")
		fields := strings.Fields(s.line)
		if len(fields) == 0 {
			continue
		}
		verb := fields[0]

		s.srv.info("\t%d> %s", s.id, s.line)

		// A short pause before every reply. Some older clients grew to
		// depend on the timing.
		if d := s.srv.cfg.ResponseDelay; d > 0 {
			time.Sleep(d)
		}

		s.replyCode = 0
		if handler, ok := dispatchTable[verb]; ok {
			handler(s)
		} else {
			s.sendCtrl("502 Sorry, command not implemented. :(\n")
		}
		s.srv.metrics.RecordCommand(verb, s.replyCode)
	}
}

// readLine reads one control line, bounded by controlLineBufferSize. A
// line that overflows the buffer is drained and reported as too long so a
// hostile peer cannot grow memory with an endless unterminated command.
func (s *session) readLine() (string, bool, error) {
	line, err := s.reader.ReadSlice('\n')
	if err != bufio.ErrBufferFull {
		return string(line), false, err
	}
	for err == bufio.ErrBufferFull {
		_, err = s.reader.ReadSlice('\n')
	}
	if err != nil {
		return "", false, err
	}
	return "", true, nil
}

// sendCtrl writes one reply line on the control connection.
func (s *session) sendCtrl(msg string) {
	if s.replyCode == 0 && len(msg) >= 3 {
		if code, err := strconv.Atoi(msg[:3]); err == nil {
			s.replyCode = code
		}
	}
	if _, err := s.conn.Write([]byte(msg)); err != nil {
		s.srv.debug("Client %d control write: %v", s.id, err)
	}
}

// arg returns the text after the command verb, trimmed up to the first
// CR, LF or tab.
func (s *session) arg() (string, bool) {
	rest := s.line
	idx := strings.IndexAny(rest, " ")
	if idx < 0 {
		return "", false
	}
	rest = strings.TrimLeft(rest[idx:], " ")
	if tab := strings.IndexByte(rest, '\t'); tab >= 0 {
		rest = rest[:tab]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// closeData tears down the data channel if one is open.
func (s *session) closeData() {
	s.dataMu.Lock()
	s.data.close()
	s.dataMu.Unlock()
}

// abort is called by the registry during shutdown. It aborts the receive
// direction of the control socket (send stays usable for final replies) and
// kills both directions of any open data channel, unblocking whatever I/O
// the session goroutine is sitting in. Sockets are closed but not cleared;
// the owning goroutine still holds references to them.
func (s *session) abort() {
	s.aborting.Store(true)

	if tcp, ok := s.conn.(*net.TCPConn); ok {
		tcp.CloseRead()
	} else {
		s.conn.Close()
	}

	s.dataMu.Lock()
	if s.data.conn != nil {
		s.data.conn.Close()
	}
	if s.data.listener != nil {
		s.data.listener.Close()
	}
	s.dataMu.Unlock()
}
