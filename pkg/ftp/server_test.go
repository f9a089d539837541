package ftp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xerpi/FTPVita/pkg/mount"
)

// testClient is a control-connection harness for driving a live server.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func startTestServer(t *testing.T) (*Server, *mount.Table, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	mounts := mount.NewTable()
	require.NoError(t, mounts.Add("ux0:", fs))

	srv := New(Config{
		Port:               0,
		AdvertisedIP:       "127.0.0.1",
		TransferBufferSize: 8,
	}, mounts)
	srv.SetInfoLog(func(string) {})
	srv.SetDebugLog(func(string) {})

	_, _, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })

	return srv, mounts, fs
}

func dialTestServer(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.port), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	c.expect("220")
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

// expect reads one reply line and asserts its three-digit code.
func (c *testClient) expect(code string) string {
	c.t.Helper()
	line := c.readLine()
	require.True(c.t, strings.HasPrefix(line, code),
		"expected reply %s, got %q", code, line)
	return line
}

// pasv issues PASV and returns the data port parsed from the reply. The
// reply carries the low byte first.
func (c *testClient) pasv() int {
	c.t.Helper()
	c.send("PASV")
	line := c.expect("227")

	open := strings.IndexByte(line, '(')
	closing := strings.IndexByte(line, ')')
	require.True(c.t, open >= 0 && closing > open, "malformed PASV reply: %q", line)

	var h [4]int
	var lo, hi int
	_, err := fmt.Sscanf(line[open:closing+1], "(%d,%d,%d,%d,%d,%d)",
		&h[0], &h[1], &h[2], &h[3], &lo, &hi)
	require.NoError(c.t, err, "malformed PASV reply: %q", line)
	return lo + hi*256
}

func (c *testClient) dialData(port int) net.Conn {
	c.t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	require.NoError(c.t, err)
	return conn
}

func TestServer_GreetingAndLogin(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	c.send("USER anonymous")
	c.expect("331")
	c.send("PASS whatever")
	c.expect("230")
	c.send("SYST")
	assert.Equal(t, "215 UNIX Type: L8", c.expect("215"))
	c.send("NOOP")
	c.expect("200")
	c.send("FEAT")
	c.expect("502")
	c.send("QUIT")
	c.expect("221")
}

func TestServer_PwdCwdCdup(t *testing.T) {
	srv, _, fs := startTestServer(t)
	require.NoError(t, fs.MkdirAll("/folder/sub", 0o755))

	c := dialTestServer(t, srv)

	c.send("PWD")
	assert.Equal(t, `257 "/" is the current directory.`, c.expect("257"))

	c.send("CWD ux0:")
	c.expect("250")
	c.send("PWD")
	assert.Contains(t, c.expect("257"), `"/ux0:/"`)

	c.send("CWD folder")
	c.expect("250")
	c.send("CWD sub")
	c.expect("250")
	c.send("PWD")
	assert.Contains(t, c.expect("257"), `"/ux0:/folder/sub"`)

	c.send("CDUP")
	c.expect("200")
	c.send("PWD")
	assert.Contains(t, c.expect("257"), `"/ux0:/folder"`)

	c.send("CWD ..")
	c.expect("250")
	c.send("PWD")
	assert.Contains(t, c.expect("257"), `"/ux0:/"`)

	c.send("CWD missing")
	c.expect("550")
	c.send("PWD")
	assert.Contains(t, c.expect("257"), `"/ux0:/"`, "failed CWD must not move the working directory")

	c.send("CWD /")
	c.expect("250")
	c.send("CWD")
	c.expect("500")
}

func TestServer_Type(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	c.send("TYPE I")
	c.expect("200")
	c.send("TYPE A")
	c.expect("200")
	c.send("TYPE E")
	c.expect("504")
	c.send("TYPE")
	c.expect("504")
}

func TestServer_PassiveStorRetrRoundTrip(t *testing.T) {
	srv, _, fs := startTestServer(t)
	c := dialTestServer(t, srv)

	// Payload larger than the 8-byte transfer buffer
	payload := bytes.Repeat([]byte("0123456789"), 10)

	c.send("CWD ux0:")
	c.expect("250")

	port := c.pasv()
	c.send("STOR upload.bin")
	c.expect("150")
	data := c.dialData(port)
	_, err := data.Write(payload)
	require.NoError(t, err)
	data.Close()
	c.expect("226")

	stored, err := afero.ReadFile(fs, "/upload.bin")
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	port = c.pasv()
	c.send("RETR upload.bin")
	c.expect("150")
	data = c.dialData(port)
	got, err := io.ReadAll(data)
	data.Close()
	require.NoError(t, err)
	c.expect("226")
	assert.Equal(t, payload, got)
}

func TestServer_PassiveStorZeroLength(t *testing.T) {
	srv, _, fs := startTestServer(t)
	c := dialTestServer(t, srv)

	port := c.pasv()
	c.send("STOR /ux0:/empty.bin")
	c.expect("150")
	data := c.dialData(port)
	data.Close()
	c.expect("226")

	fi, err := fs.Stat("/empty.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fi.Size())
}

func TestServer_ActiveModeList(t *testing.T) {
	srv, _, fs := startTestServer(t)
	require.NoError(t, fs.Mkdir("/PSP", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/save.bin", []byte("data"), 0o644))

	c := dialTestServer(t, srv)

	// Client-side listener for the active data connection
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	c.send(fmt.Sprintf("PORT 127,0,0,1,%d,%d", port/256, port%256))
	c.expect("200")

	c.send("LIST /ux0:/")
	c.expect("150")

	data, err := ln.Accept()
	require.NoError(t, err)
	listing, err := io.ReadAll(data)
	data.Close()
	require.NoError(t, err)
	c.expect("226")

	assert.Contains(t, string(listing), "drwxr-xr-x 1 vita vita")
	assert.Contains(t, string(listing), " PSP\r\n")
	assert.Contains(t, string(listing), " save.bin\r\n")
}

func TestServer_RootListingShowsMounts(t *testing.T) {
	srv, mounts, _ := startTestServer(t)
	require.NoError(t, mounts.Add("gro0:", afero.NewMemMapFs()))

	c := dialTestServer(t, srv)

	port := c.pasv()
	c.send("LIST")
	c.expect("150")
	data := c.dialData(port)
	listing, err := io.ReadAll(data)
	data.Close()
	require.NoError(t, err)
	c.expect("226")

	assert.Contains(t, string(listing), " ux0:\r\n")
	assert.Contains(t, string(listing), " gro0:\r\n")
}

func TestServer_ListInvalidDirectory(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	c.send("LIST /nosuch:/")
	c.expect("550")
}

func TestServer_SizeDeleMkdRmd(t *testing.T) {
	srv, _, fs := startTestServer(t)
	require.NoError(t, afero.WriteFile(fs, "/file.bin", []byte("12345"), 0o644))

	c := dialTestServer(t, srv)

	c.send("SIZE /ux0:/file.bin")
	assert.Equal(t, "213: 5", c.expect("213"))

	c.send("SIZE /ux0:/missing.bin")
	c.expect("550")

	c.send("MKD /ux0:/newdir")
	c.expect("226")
	exists, err := afero.DirExists(fs, "/newdir")
	require.NoError(t, err)
	assert.True(t, exists)

	// A populated directory must not be removable
	require.NoError(t, afero.WriteFile(fs, "/newdir/keep.bin", []byte("x"), 0o644))
	c.send("RMD /ux0:/newdir")
	c.expect("550")

	c.send("DELE /ux0:/newdir/keep.bin")
	c.expect("226")
	c.send("RMD /ux0:/newdir")
	c.expect("226")

	c.send("DELE /ux0:/newdir/keep.bin")
	c.expect("550")
}

func TestServer_Rename(t *testing.T) {
	srv, _, fs := startTestServer(t)
	require.NoError(t, afero.WriteFile(fs, "/old.bin", []byte("abc"), 0o644))

	c := dialTestServer(t, srv)

	c.send("RNFR /ux0:/old.bin")
	c.expect("250")
	c.send("RNTO /ux0:/new.bin")
	c.expect("226")

	exists, err := afero.Exists(fs, "/new.bin")
	require.NoError(t, err)
	assert.True(t, exists)
	gone, err := afero.Exists(fs, "/old.bin")
	require.NoError(t, err)
	assert.False(t, gone)

	c.send("RNFR /ux0:/missing.bin")
	c.expect("550")

	// RNTO without a staged source fails but still closes with a 226
	c.send("RNTO /ux0:/other.bin")
	c.expect("550")
	c.expect("226")
}

func TestServer_SecondPasvReplacesListener(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	first := c.pasv()
	second := c.pasv()
	require.NotZero(t, second)

	// The first listener must be gone once the second PASV replaces it
	_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", first), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_StopUnblocksIdleSessions(t *testing.T) {
	srv, _, _ := startTestServer(t)

	clients := make([]*testClient, 3)
	for i := range clients {
		clients[i] = dialTestServer(t, srv)
	}
	require.Equal(t, 3, srv.registry.count())

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while sessions were blocked on reads")
	}

	assert.Equal(t, 0, srv.registry.count(), "registry must be empty after shutdown")
	assert.False(t, srv.IsRunning())

	// Client sockets observe the closed connections
	for _, c := range clients {
		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := c.reader.ReadByte()
		assert.Error(t, err)
	}
}

func TestServer_StopDuringPendingPassiveAccept(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	// Arm a passive transfer but never connect the data socket; the
	// session blocks in Accept waiting for a peer that never comes.
	c.pasv()
	c.send("LIST /ux0:/")
	c.expect("150")

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a session was waiting for a data connection")
	}

	assert.Equal(t, 0, srv.registry.count(), "registry must be empty after shutdown")
	assert.False(t, srv.IsRunning())
}

func TestServer_PassiveAppendRetr(t *testing.T) {
	srv, _, fs := startTestServer(t)
	c := dialTestServer(t, srv)

	port := c.pasv()
	c.send("STOR /ux0:/log.txt")
	c.expect("150")
	data := c.dialData(port)
	_, err := data.Write([]byte("hello"))
	require.NoError(t, err)
	data.Close()
	c.expect("226")

	port = c.pasv()
	c.send("APPE /ux0:/log.txt")
	c.expect("150")
	data = c.dialData(port)
	_, err = data.Write([]byte(" world"))
	require.NoError(t, err)
	data.Close()
	c.expect("226")

	stored, err := afero.ReadFile(fs, "/log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), stored)

	port = c.pasv()
	c.send("RETR /ux0:/log.txt")
	c.expect("150")
	data = c.dialData(port)
	got, err := io.ReadAll(data)
	data.Close()
	require.NoError(t, err)
	c.expect("226")
	assert.Equal(t, []byte("hello world"), got)
}

func TestServer_OverlongCommandLine(t *testing.T) {
	srv, _, _ := startTestServer(t)
	c := dialTestServer(t, srv)

	// A line past the control buffer is refused without disturbing the
	// session: the next command still dispatches normally.
	c.send("NOOP " + strings.Repeat("x", 4096))
	c.expect("500")
	c.send("NOOP")
	c.expect("200")
}

func TestServer_StartTwice(t *testing.T) {
	srv, _, _ := startTestServer(t)

	_, _, err := srv.Start()
	assert.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	srv, _, _ := startTestServer(t)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}
