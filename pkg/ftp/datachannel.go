package ftp

import (
	"fmt"
	"net"
)

type dataConnMode int

const (
	dataConnNone dataConnMode = iota
	dataConnActive
	dataConnPassive
)

// dataChannel is the transient connection used to move file and listing
// bytes for exactly one transfer command. In active mode the server
// connects out to the address announced by PORT; in passive mode it accepts
// one connection on the listener created by PASV.
//
// The owning session's goroutine drives open/send/close. abort may
// be called concurrently by the registry during shutdown; mu only guards the
// socket fields against that race, never the transfer itself (closing a
// net.Conn unblocks concurrent reads and writes).
type dataChannel struct {
	mode     dataConnMode
	peerAddr *net.TCPAddr
	listener net.Listener
	conn     net.Conn
}

// openDataConn establishes the transfer connection for the given mode. The
// dial and the accept both block until the peer acts, so callers must not
// hold the session's dataMu across this; it works on a snapshot of the
// channel fields, and a concurrent abort closing the listener fails the
// accept promptly.
func openDataConn(mode dataConnMode, peer *net.TCPAddr, listener net.Listener) (net.Conn, error) {
	switch mode {
	case dataConnActive:
		conn, err := net.DialTCP("tcp4", nil, peer)
		if err != nil {
			return nil, fmt.Errorf("data connect to %s: %w", peer, err)
		}
		return conn, nil
	case dataConnPassive:
		conn, err := listener.Accept()
		if err != nil {
			return nil, fmt.Errorf("data accept: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("no data connection configured")
	}
}

func (d *dataChannel) send(p []byte) error {
	if d.conn == nil {
		return fmt.Errorf("data connection not open")
	}
	_, err := d.conn.Write(p)
	return err
}

// close tears the channel down after its single use: the transfer socket,
// plus the listener in passive mode. The mode resets to none so the next
// transfer command requires a fresh PORT or PASV.
func (d *dataChannel) close() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	if d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
	d.peerAddr = nil
	d.mode = dataConnNone
}
