package ftp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_AddRemoveCount(t *testing.T) {
	r := newSessionRegistry()
	assert.Equal(t, 0, r.count())

	a := &session{id: 0}
	b := &session{id: 1}
	r.add(a)
	r.add(b)
	assert.Equal(t, 2, r.count())

	r.remove(a)
	assert.Equal(t, 1, r.count())

	// Removing twice is harmless
	r.remove(a)
	assert.Equal(t, 1, r.count())

	r.remove(b)
	assert.Equal(t, 0, r.count())
}

func TestRegistry_ShutdownAllJoinsSessions(t *testing.T) {
	r := newSessionRegistry()

	// Simulate a session goroutine blocked on its control socket: abort
	// closes the socket, the goroutine notices and signals done without
	// deregistering itself.
	server, client := net.Pipe()
	defer client.Close()

	s := &session{id: 3, conn: server, done: make(chan struct{})}
	s.aborting.Store(false)
	r.add(s)

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := server.Read(buf); err != nil {
				break
			}
		}
		close(s.done)
	}()

	r.shutdownAll()

	assert.True(t, s.aborting.Load())
	assert.Equal(t, 0, r.count())
	select {
	case <-s.done:
	default:
		t.Fatal("shutdownAll returned before the session goroutine exited")
	}
}

func TestRegistry_ShutdownAllEmpty(t *testing.T) {
	r := newSessionRegistry()
	r.shutdownAll()
	assert.Equal(t, 0, r.count())
}
