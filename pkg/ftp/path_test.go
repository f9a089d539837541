package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathIsAtRoot(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/ux0:/", true},
		{"/ux0:/folder", false},
		{"/ux0:/folder/", true},
		{"/ux0:", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathIsAtRoot(tt.path), "pathIsAtRoot(%q)", tt.path)
	}
}

func TestDirUp(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/ux0:/", "/"},
		{"/ux0:/folder", "/ux0:/"},
		{"/ux0:/folder/sub", "/ux0:/folder"},
		{"/ux0:/a/b/c", "/ux0:/a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dirUp(tt.path), "dirUp(%q)", tt.path)
	}
}

func TestDirUp_NeverEscapesRoot(t *testing.T) {
	path := "/ux0:/a/b"
	for i := 0; i < 10; i++ {
		path = dirUp(path)
	}
	assert.Equal(t, "/", path)
}

func TestJoinCwd(t *testing.T) {
	tests := []struct {
		cur  string
		arg  string
		want string
	}{
		// Entering a mount from the namespace root keeps the trailing slash
		{"/", "ux0:", "/ux0:/"},
		{"/ux0:/", "folder", "/ux0:/folder"},
		{"/ux0:/folder", "sub", "/ux0:/folder/sub"},
		// Absolute arguments replace the working directory outright
		{"/ux0:/folder", "/gro0:/other", "/gro0:/other"},
		{"/anything", "/ux0:", "/ux0:/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinCwd(tt.cur, tt.arg), "joinCwd(%q, %q)", tt.cur, tt.arg)
	}
}

func TestBuildPath(t *testing.T) {
	tests := []struct {
		cur  string
		arg  string
		want string
	}{
		{"/ux0:/folder", "file.bin", "/ux0:/folder/file.bin"},
		{"/ux0:/", "file.bin", "/ux0://file.bin"},
		{"/ux0:/folder", "/gro0:/file", "/gro0:/file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildPath(tt.cur, tt.arg), "buildPath(%q, %q)", tt.cur, tt.arg)
	}
}

func TestNativePath(t *testing.T) {
	native, ok := nativePath("/ux0:/folder/file.bin")
	assert.True(t, ok)
	assert.Equal(t, "ux0:/folder/file.bin", native)

	_, ok = nativePath("/")
	assert.False(t, ok, "the namespace root has no native translation")

	_, ok = nativePath("")
	assert.False(t, ok)
}
