package ftp

import (
	"fmt"
	"net"
	"strings"
)

// dispatchTable routes a command verb to its handler. Lookup is an exact,
// case-sensitive match; anything else gets a 502.
var dispatchTable = map[string]func(*session){
	"NOOP": (*session).cmdNOOP,
	"USER": (*session).cmdUSER,
	"PASS": (*session).cmdPASS,
	"QUIT": (*session).cmdQUIT,
	"SYST": (*session).cmdSYST,
	"PASV": (*session).cmdPASV,
	"PORT": (*session).cmdPORT,
	"LIST": (*session).cmdLIST,
	"PWD":  (*session).cmdPWD,
	"CWD":  (*session).cmdCWD,
	"TYPE": (*session).cmdTYPE,
	"CDUP": (*session).cmdCDUP,
	"RETR": (*session).cmdRETR,
	"STOR": (*session).cmdSTOR,
	"APPE": (*session).cmdAPPE,
	"DELE": (*session).cmdDELE,
	"RMD":  (*session).cmdRMD,
	"MKD":  (*session).cmdMKD,
	"RNFR": (*session).cmdRNFR,
	"RNTO": (*session).cmdRNTO,
	"SIZE": (*session).cmdSIZE,
}

func (s *session) cmdNOOP() {
	s.sendCtrl("200 No operation ;)\n")
}

// Credentials are always accepted; the server has no user database.
func (s *session) cmdUSER() {
	s.sendCtrl("331 Username OK, need password b0ss.\n")
}

func (s *session) cmdPASS() {
	s.sendCtrl("230 User logged in!\n")
}

func (s *session) cmdQUIT() {
	s.sendCtrl("221 Goodbye senpai :'(\n")
}

func (s *session) cmdSYST() {
	s.sendCtrl("215 UNIX Type: L8\n")
}

func (s *session) cmdTYPE() {
	fields := strings.Fields(s.line)
	if len(fields) < 2 || fields[1] == "" {
		s.sendCtrl("504 Error: bad parameters?\n")
		return
	}
	switch fields[1][0] {
	case 'A', 'I':
		s.sendCtrl("200 Okay\n")
	default:
		// 'E', 'L' and anything else are unsupported representation types.
		s.sendCtrl("504 Error: bad parameters?\n")
	}
}

func (s *session) cmdPWD() {
	s.sendCtrl(fmt.Sprintf("257 \"%s\" is the current directory.\n", s.curPath))
}

func (s *session) cmdCWD() {
	arg, ok := s.arg()
	if !ok {
		s.sendCtrl("500 Syntax error, command unrecognized.\n")
		return
	}

	switch {
	case arg == "/":
		s.curPath = "/"
	case arg == "..":
		s.curPath = dirUp(s.curPath)
	default:
		next := joinCwd(s.curPath, arg)
		if next != "/" && !s.dirExists(next) {
			s.sendCtrl("550 Invalid directory.\n")
			return
		}
		s.curPath = next
	}
	s.sendCtrl("250 Requested file action okay, completed.\n")
}

func (s *session) cmdCDUP() {
	s.curPath = dirUp(s.curPath)
	s.sendCtrl("200 Command okay.\n")
}

// dirExists probes a virtual path with a directory open, the commit check
// CWD performs before mutating the working directory.
func (s *session) dirExists(virtual string) bool {
	native, ok := nativePath(virtual)
	if !ok {
		return false
	}
	fs, inPath, err := s.srv.mounts.Resolve(native)
	if err != nil {
		return false
	}
	f, err := fs.Open(inPath)
	if err != nil {
		return false
	}
	defer f.Close()
	fi, err := f.Stat()
	return err == nil && fi.IsDir()
}

func (s *session) cmdPORT() {
	arg, ok := s.arg()
	if !ok {
		s.sendCtrl("500 Syntax error, command unrecognized.\n")
		return
	}

	var h [4]int
	var portHi, portLo int
	n, err := fmt.Sscanf(arg, "%d,%d,%d,%d,%d,%d",
		&h[0], &h[1], &h[2], &h[3], &portHi, &portLo)
	if err != nil || n != 6 {
		s.sendCtrl("500 Syntax error, command unrecognized.\n")
		return
	}

	peer := &net.TCPAddr{
		IP:   net.IPv4(byte(h[0]), byte(h[1]), byte(h[2]), byte(h[3])),
		Port: portLo + portHi*256,
	}
	s.srv.debug("PORT connection to client's IP: %s", peer)

	s.dataMu.Lock()
	s.data.close()
	s.data.mode = dataConnActive
	s.data.peerAddr = peer
	s.dataMu.Unlock()

	s.sendCtrl("200 PORT command successful!\n")
}

func (s *session) cmdPASV() {
	s.dataMu.Lock()
	// A second PASV (or a stale PORT) replaces the previous channel; the
	// old listening socket must not leak.
	s.data.close()

	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		s.dataMu.Unlock()
		s.srv.debug("PASV listen: %v", err)
		s.sendCtrl("550 Could not enter passive mode.\n")
		return
	}
	s.data.mode = dataConnPassive
	s.data.listener = ln
	s.dataMu.Unlock()

	port := ln.Addr().(*net.TCPAddr).Port
	ip := s.srv.advertised
	s.srv.debug("PASV mode port: %d", port)

	// Port bytes go out low byte first; the installed client base expects
	// this order.
	s.sendCtrl(fmt.Sprintf("227 Entering Passive Mode (%d,%d,%d,%d,%d,%d)\n",
		ip[0], ip[1], ip[2], ip[3], port&0xFF, (port>>8)&0xFF))
}
