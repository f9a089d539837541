package ftp

import "strings"

// Virtual paths are the FTP-visible form of native paths: "/" is the
// namespace root listing the mounts, and "/ux0:/foo" maps to the native
// path "ux0:/foo". A path is "at mount root" when it looks like "/ux0:/".

// pathIsAtRoot reports whether the last '/' in path is also its final
// character, which is the mount-root form ("/" or "/ux0:/").
func pathIsAtRoot(path string) bool {
	idx := strings.LastIndex(path, "/")
	return idx >= 0 && idx == len(path)-1
}

// dirUp returns the parent of a virtual path. A mount-root path collapses
// to "/"; otherwise the path is truncated at the last '/', re-appending a
// trailing slash when the result is a bare mount name ("/ux0:").
func dirUp(path string) string {
	if len(path) <= 1 {
		return "/"
	}
	if pathIsAtRoot(path) {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	path = path[:idx]
	if strings.LastIndex(path, "/") == 0 {
		path += "/"
	}
	return path
}

// joinCwd combines the current path with a CWD argument. Absolute arguments
// replace the path outright; relative ones are appended, without an extra
// separator when the current path is already in mount-root form. A bare
// mount name gets its trailing slash back.
func joinCwd(cur, arg string) string {
	var next string
	if strings.HasPrefix(arg, "/") {
		next = arg
	} else if pathIsAtRoot(cur) {
		next = cur + arg
	} else {
		next = cur + "/" + arg
	}
	if strings.LastIndex(next, "/") == 0 {
		next += "/"
	}
	return next
}

// buildPath resolves a command argument against the current path the way
// RETR/STOR/DELE and friends do: absolute arguments are taken whole,
// relative ones are joined with a '/'.
func buildPath(cur, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	return cur + "/" + arg
}

// nativePath strips the FTP-visible leading separator, turning "/ux0:/foo"
// into "ux0:/foo". The bare namespace root has no native translation.
func nativePath(virtual string) (string, bool) {
	if len(virtual) <= 1 {
		return "", false
	}
	return virtual[1:], true
}
