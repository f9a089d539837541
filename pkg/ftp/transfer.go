package ftp

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/xerpi/FTPVita/internal/ratelimiter"
)

// resolvePathArg resolves the command argument against the working
// directory and translates it to a backing filesystem plus in-mount path.
// Used by RETR, STOR, APPE, DELE, RMD, MKD, RNFR, RNTO and SIZE.
func (s *session) resolvePathArg() (afero.Fs, string, string, error) {
	arg, ok := s.arg()
	if !ok {
		return nil, "", "", fmt.Errorf("missing path argument")
	}
	virtual := buildPath(s.curPath, arg)
	native, ok := nativePath(virtual)
	if !ok {
		return nil, "", "", fmt.Errorf("path %q has no native translation", virtual)
	}
	fs, inPath, err := s.srv.mounts.Resolve(native)
	if err != nil {
		return nil, "", "", err
	}
	return fs, inPath, native, nil
}

// openData performs the 150-then-connect half of a transfer command. The
// preliminary reply goes out first; only then is the data channel
// established for its mode.
func (s *session) openData(preliminary string) bool {
	s.sendCtrl(preliminary)

	s.dataMu.Lock()
	mode := s.data.mode
	peer := s.data.peerAddr
	listener := s.data.listener
	s.dataMu.Unlock()

	// The connect or accept blocks until the peer acts; dataMu stays
	// released so a concurrent abort can reach the listener and fail it.
	conn, err := openDataConn(mode, peer, listener)
	if err == nil {
		s.dataMu.Lock()
		s.data.conn = conn
		aborted := s.aborting.Load()
		s.dataMu.Unlock()
		if aborted {
			// The shutdown sweep may have run before the conn was
			// stored; it only closes what it can see.
			conn.Close()
			err = fmt.Errorf("session aborted")
		}
	}
	if err != nil {
		s.srv.debug("Client %d data open: %v", s.id, err)
		s.closeData()
		s.sendCtrl("426 Connection closed; transfer aborted.\n")
		return false
	}
	return true
}

func (s *session) cmdRETR() {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 File not found.\n")
		return
	}
	s.srv.debug("Opening: %s", native)

	if fi, serr := fs.Stat(inPath); serr != nil || fi.IsDir() {
		s.sendCtrl("550 File not found.\n")
		return
	}
	f, err := fs.Open(inPath)
	if err != nil {
		s.sendCtrl("550 File not found.\n")
		return
	}

	if !s.openData("150 Opening Image mode data transfer.\n") {
		f.Close()
		return
	}

	w := ratelimiter.NewWriter(s.data.conn, s.srv.limiter)
	buf := make([]byte, s.srv.cfg.TransferBufferSize)
	failed := false
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				failed = true
				break
			}
			s.srv.metrics.RecordBytesTransferred("send", int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			failed = true
			break
		}
	}

	f.Close()
	s.closeData()
	if failed {
		s.sendCtrl("426 Connection closed; transfer aborted.\n")
	} else {
		s.sendCtrl("226 Transfer completed.\n")
	}
}

func (s *session) cmdSTOR() {
	s.receiveFile(os.O_WRONLY | os.O_CREATE | os.O_TRUNC)
}

func (s *session) cmdAPPE() {
	s.receiveFile(os.O_WRONLY | os.O_CREATE | os.O_APPEND)
}

// receiveFile streams the data channel into a file opened with the given
// flags. A short or aborted transfer removes the partially written
// destination and reports 426 instead of 226.
func (s *session) receiveFile(flags int) {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 File not found.\n")
		return
	}
	s.srv.debug("Opening: %s", native)

	f, err := fs.OpenFile(inPath, flags, 0o777)
	if err != nil {
		s.sendCtrl("550 File not found.\n")
		return
	}

	if !s.openData("150 Opening Image mode data transfer.\n") {
		f.Close()
		return
	}

	r := ratelimiter.NewReader(s.data.conn, s.srv.limiter)
	buf := make([]byte, s.srv.cfg.TransferBufferSize)
	failed := false
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				failed = true
				break
			}
			s.srv.metrics.RecordBytesTransferred("receive", int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			failed = true
			break
		}
	}

	f.Close()
	s.closeData()
	if failed {
		fs.Remove(inPath)
		s.sendCtrl("426 Connection closed; transfer aborted.\n")
	} else {
		s.sendCtrl("226 Transfer completed.\n")
	}
}

func (s *session) cmdDELE() {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 Could not delete the file.\n")
		return
	}
	s.srv.debug("Deleting: %s", native)

	if fs.Remove(inPath) == nil {
		s.sendCtrl("226 File deleted.\n")
	} else {
		s.sendCtrl("550 Could not delete the file.\n")
	}
}

func (s *session) cmdRMD() {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 Could not delete the directory.\n")
		return
	}
	s.srv.debug("Deleting: %s", native)

	fi, err := fs.Stat(inPath)
	if err != nil || !fi.IsDir() {
		s.sendCtrl("550 Could not delete the directory.\n")
		return
	}

	// Backends disagree on removing non-empty directories, so the
	// emptiness check happens here.
	f, err := fs.Open(inPath)
	if err != nil {
		s.sendCtrl("550 Could not delete the directory.\n")
		return
	}
	names, _ := f.Readdirnames(1)
	f.Close()
	if len(names) > 0 {
		s.sendCtrl("550 Directory is not empty.\n")
		return
	}

	if fs.Remove(inPath) == nil {
		s.sendCtrl("226 Directory deleted.\n")
	} else {
		s.sendCtrl("550 Could not delete the directory.\n")
	}
}

func (s *session) cmdMKD() {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 Could not create the directory.\n")
		return
	}
	s.srv.debug("Creating: %s", native)

	if fs.Mkdir(inPath, 0o777) == nil {
		s.sendCtrl("226 Directory created.\n")
	} else {
		s.sendCtrl("550 Could not create the directory.\n")
	}
}

func (s *session) cmdRNFR() {
	fs, inPath, native, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 The file doesn't exist.\n")
		return
	}
	if _, err := fs.Stat(inPath); err != nil {
		s.sendCtrl("550 The file doesn't exist.\n")
		return
	}

	s.renamePath = native
	s.sendCtrl("250 I need the destination name b0ss.\n")
}

func (s *session) cmdRNTO() {
	// The 226 goes out unconditionally; a failed rename just gets a 550
	// in front of it. Clients handle the pair, so the quirk stays.
	if err := s.renameStaged(); err != nil {
		s.srv.debug("Rename failed: %v", err)
		s.sendCtrl("550 Error renaming the file.\n")
	}
	s.sendCtrl("226 Rename completed.\n")
}

func (s *session) renameStaged() error {
	dstFs, dstPath, dstNative, err := s.resolvePathArg()
	if err != nil {
		return err
	}
	if s.renamePath == "" {
		return fmt.Errorf("no rename source staged")
	}
	s.srv.debug("Renaming: %s to %s", s.renamePath, dstNative)

	srcFs, srcPath, err := s.srv.mounts.Resolve(s.renamePath)
	if err != nil {
		return err
	}
	if srcFs != dstFs {
		return fmt.Errorf("rename across mounts: %s -> %s", s.renamePath, dstNative)
	}
	return dstFs.Rename(srcPath, dstPath)
}

func (s *session) cmdSIZE() {
	fs, inPath, _, err := s.resolvePathArg()
	if err != nil {
		s.sendCtrl("550 The file doesn't exist.\n")
		return
	}
	fi, err := fs.Stat(inPath)
	if err != nil {
		s.sendCtrl("550 The file doesn't exist.\n")
		return
	}
	s.sendCtrl(fmt.Sprintf("213: %d\n", fi.Size()))
}

func (s *session) cmdLIST() {
	// An explicit argument is taken as the listing path, otherwise the
	// working directory is listed.
	path := s.curPath
	if arg, ok := s.arg(); ok {
		path = arg
	}
	s.sendList(path)
}

func (s *session) sendList(path string) {
	// The namespace root is special: it lists the mount table.
	if path == "/" {
		s.sendMountList()
		return
	}

	native, ok := nativePath(path)
	if !ok {
		s.sendCtrl("550 Invalid directory.\n")
		return
	}
	fs, inPath, err := s.srv.mounts.Resolve(native)
	if err != nil {
		s.sendCtrl("550 Invalid directory.\n")
		return
	}
	dir, err := fs.Open(inPath)
	if err != nil {
		s.sendCtrl("550 Invalid directory.\n")
		return
	}

	if !s.openData("150 Opening ASCII mode data transfer for LIST.\n") {
		dir.Close()
		return
	}

	// Entries stream out one line at a time as they are produced.
	entries, _ := dir.Readdir(-1)
	dir.Close()
	for _, fi := range entries {
		line := formatListLine(fi.IsDir(), fi.Size(), fi.ModTime(),
			fi.Name(), s.srv.cfg.OwnerName, s.srv.cfg.GroupName)
		if err := s.data.send([]byte(line)); err != nil {
			break
		}
	}

	s.srv.debug("Done sending LIST")
	s.closeData()
	s.sendCtrl("226 Transfer complete.\n")
}

// sendMountList renders the mount table as the root directory listing.
// Size and time come from a stat of each mount's root.
func (s *session) sendMountList() {
	snapshot := s.srv.mounts.Snapshot()

	if !s.openData("150 Opening ASCII mode data transfer for LIST.\n") {
		return
	}

	for _, e := range snapshot {
		line := mountListLine(e, s.srv.cfg.OwnerName, s.srv.cfg.GroupName)
		if err := s.data.send([]byte(line)); err != nil {
			break
		}
	}

	s.srv.debug("Done sending LIST")
	s.closeData()
	s.sendCtrl("226 Transfer complete.\n")
}
