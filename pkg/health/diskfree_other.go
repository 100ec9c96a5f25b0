//go:build !linux

package health

import (
	"fmt"
	"runtime"
)

const diskStatsSupported = false

// diskFree has no portable implementation off Linux. DiskCheck reports
// StatusUnknown instead of calling it.
func diskFree(path string) (total, free uint64, err error) {
	return 0, 0, fmt.Errorf("disk stats unsupported on %s", runtime.GOOS)
}
