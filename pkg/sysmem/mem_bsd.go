//go:build freebsd || openbsd || netbsd || dragonfly

package sysmem

import "golang.org/x/sys/unix"

// totalSystemMemory returns total system RAM on BSD variants using sysctl.
func totalSystemMemory() (uint64, bool) {
	mem, err := unix.SysctlUint64("hw.physmem")
	if err == nil && mem > 0 {
		return mem, true
	}
	// FreeBSD also exposes hw.realmem.
	mem, err = unix.SysctlUint64("hw.realmem")
	if err == nil && mem > 0 {
		return mem, true
	}
	return 0, false
}

// availableSystemMemory uses the free page count where it is exposed.
func availableSystemMemory() (uint64, bool) {
	free, err := unix.SysctlUint32("vm.stats.vm.v_free_count")
	if err != nil {
		return 0, false
	}
	return uint64(free) * uint64(unix.Getpagesize()), true
}
