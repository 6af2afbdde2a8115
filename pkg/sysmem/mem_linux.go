//go:build linux

package sysmem

import "golang.org/x/sys/unix"

func sysinfo() (*unix.Sysinfo_t, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return nil, false
	}
	return &info, true
}

// totalSystemMemory returns total system RAM on Linux using sysinfo.
func totalSystemMemory() (uint64, bool) {
	info, ok := sysinfo()
	if !ok {
		return 0, false
	}
	return info.Totalram * uint64(info.Unit), true
}

// availableSystemMemory counts free and buffer memory as available.
func availableSystemMemory() (uint64, bool) {
	info, ok := sysinfo()
	if !ok {
		return 0, false
	}
	return (info.Freeram + info.Bufferram) * uint64(info.Unit), true
}
