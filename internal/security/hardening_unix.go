//go:build unix

package security

import "syscall"

func disableCoreDumps() error {
	rLimit := syscall.Rlimit{Cur: 0, Max: 0}
	return syscall.Setrlimit(syscall.RLIMIT_CORE, &rLimit)
}

func setUmask(mask int) (int, bool) {
	return syscall.Umask(mask), true
}
