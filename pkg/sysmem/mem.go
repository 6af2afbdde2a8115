// Package sysmem provides cross-platform system memory detection, used to
// record how much memory was free before each benchmark iteration.
package sysmem

// DefaultMemoryBytes is the fallback memory value (4 GB) used when
// platform-specific detection fails or is unsupported.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the total system memory in bytes.
	TotalBytes uint64

	// AvailableBytes is the memory currently free for new allocations.
	// Zero when the platform does not report it.
	AvailableBytes uint64

	// Reliable indicates whether TotalBytes was obtained from
	// a platform-specific method (true) or is a fallback default (false).
	Reliable bool
}

// Total returns the total and available system memory.
// If platform-specific detection fails or is unsupported,
// TotalBytes is DefaultMemoryBytes with Reliable=false.
func Total() Result {
	bytes, ok := totalSystemMemory()
	avail, _ := availableSystemMemory()
	if !ok || bytes == 0 {
		return Result{
			TotalBytes:     DefaultMemoryBytes,
			AvailableBytes: avail,
			Reliable:       false,
		}
	}
	return Result{
		TotalBytes:     bytes,
		AvailableBytes: avail,
		Reliable:       true,
	}
}

// TotalBytes is a convenience function that returns just the memory value.
// Use Total() if you need to know whether the value is reliable.
func TotalBytes() uint64 {
	return Total().TotalBytes
}

// AvailableBytes returns the free system memory, or 0 when unknown.
func AvailableBytes() uint64 {
	avail, _ := availableSystemMemory()
	return avail
}
