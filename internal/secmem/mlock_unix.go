//go:build !windows

package secmem

import (
	"golang.org/x/sys/unix"
)

// mlock pins data in RAM. It reports false when the platform refuses,
// typically because RLIMIT_MEMLOCK is exhausted.
func mlock(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return unix.Mlock(data) == nil
}

func munlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munlock(data)
}
