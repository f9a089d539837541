package ftp

import (
	"fmt"
	"time"

	"github.com/xerpi/FTPVita/pkg/mount"
)

// formatListLine renders one LIST entry:
//
//	<type><perm> 1 <owner> <group> <size> <Mon> <day> <HH:MM> <name>\r\n
//
// Permission strings are fixed per type; month, day, hour and minute come
// from the entry's modification timestamp.
func formatListLine(isDir bool, size int64, mtime time.Time, name, owner, group string) string {
	typ := byte('-')
	perm := "rw-r--r--"
	if isDir {
		typ = 'd'
		perm = "rwxr-xr-x"
	}
	return fmt.Sprintf("%c%s 1 %s %s %d %s %-2d %02d:%02d %s\r\n",
		typ, perm, owner, group, size,
		mtime.Format("Jan"), mtime.Day(), mtime.Hour(), mtime.Minute(),
		name)
}

// mountListLine formats a mount table entry as a directory named after the
// mount, with size and time taken from a stat of the mount root.
func mountListLine(e mount.Entry, owner, group string) string {
	var size int64
	mtime := time.Now()
	if fi, err := e.Fs.Stat("/"); err == nil {
		size = fi.Size()
		mtime = fi.ModTime()
	}
	return formatListLine(true, size, mtime, e.Name, owner, group)
}
