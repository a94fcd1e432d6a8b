//go:build linux || darwin || freebsd

package system

import (
	"fmt"
	"syscall"
)

var statfs = syscall.Statfs

func ReadDiskUsage(path string) (DiskUsage, error) {
	var st syscall.Statfs_t
	if err := statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Blocks == 0 {
		return DiskUsage{}, fmt.Errorf("statfs %s: filesystem reports zero blocks", path)
	}
	bsize := uint64(st.Bsize)
	used := (uint64(st.Blocks) - uint64(st.Bfree)) * bsize
	total := used + uint64(st.Bavail)*bsize
	return DiskUsage{Path: path, TotalBytes: total, UsedBytes: used}, nil
}
