//go:build unix && !linux && !illumos

package reactor

import (
	"golang.org/x/sys/unix"
)

// readv reads into the first non-empty buffer.
func readv(fd int, bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) != 0 {
			return unix.Read(fd, b)
		}
	}
	return 0, nil
}

// writev writes the first non-empty buffer.
func writev(fd int, bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) != 0 {
			return unix.Write(fd, b)
		}
	}
	return 0, nil
}
