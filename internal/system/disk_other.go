//go:build !(linux || darwin || freebsd)

package system

import "fmt"

func ReadDiskUsage(path string) (DiskUsage, error) {
	return DiskUsage{}, fmt.Errorf("statfs %s: not supported on this platform", path)
}
