//go:build !linux && !darwin && !windows && !freebsd && !openbsd && !netbsd && !dragonfly

package sysmem

func totalSystemMemory() (uint64, bool) {
	return 0, false
}

func availableSystemMemory() (uint64, bool) {
	return 0, false
}
