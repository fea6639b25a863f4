// internal/utils/path.go

// Package utils holds small path helpers shared by the transfer engine
// and the CLI. Remote paths always use forward slashes; local paths
// follow the platform.
package utils

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizeRemote converts any platform's separators to the remote
// slash form and collapses duplicates.
func NormalizeRemote(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// JoinRemote joins path elements with remote slash semantics.
func JoinRemote(elem ...string) string {
	for i, e := range elem {
		elem[i] = NormalizeRemote(e)
	}
	return path.Join(elem...)
}

// NormalizeLocal converts slash-separated input to the platform's
// separator form. A no-op everywhere but Windows; on Unix a backslash
// is an ordinary filename byte and must survive untouched.
func NormalizeLocal(p string) string {
	return filepath.FromSlash(p)
}
