// Package ftp implements the embedded FTP session engine: the accept loop,
// the per-connection command state machine, active/passive data channels,
// the concurrent session registry, and the coordinated shutdown that
// unblocks every in-flight read before returning.
//
// The wire surface is a deliberately small command set
// (NOOP USER PASS QUIT SYST PASV PORT LIST PWD CWD TYPE CDUP RETR STOR APPE
// DELE RMD MKD RNFR RNTO SIZE). Anything else answers 502. Credentials are
// always accepted and there is no TLS; the server is meant for trusted
// local networks.
//
// Storage is abstracted behind afero.Fs: each mount in the pkg/mount table
// exposes one filesystem as a top-level virtual directory.
package ftp
