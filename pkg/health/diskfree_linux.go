//go:build linux

package health

import "golang.org/x/sys/unix"

// diskStatsSupported reports whether diskFree returns real numbers on
// this platform.
const diskStatsSupported = true

// diskFree returns total and available bytes for the filesystem holding
// path.
func diskFree(path string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}

	// Bsize is always positive on Linux.
	bsize := uint64(stat.Bsize) //nolint:gosec // G115: safe conversion
	return stat.Blocks * bsize, stat.Bavail * bsize, nil
}
