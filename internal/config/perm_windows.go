//go:build windows

package config

import "os"

// checkOwnerUID is a no-op on Windows, which has no POSIX uid/mode bits.
func checkOwnerUID(path string, info os.FileInfo) error {
	return nil
}
