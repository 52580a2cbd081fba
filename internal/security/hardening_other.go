//go:build !unix

package security

func disableCoreDumps() error {
	return nil
}

func setUmask(int) (int, bool) {
	return 0, false
}
