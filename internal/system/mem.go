package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type MemoryInfo struct {
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
}

// UsedPercent is used/total in percent; zero total yields zero.
func (m MemoryInfo) UsedPercent() float64 {
	if m.TotalBytes == 0 {
		return 0
	}
	return float64(m.UsedBytes) / float64(m.TotalBytes) * 100
}

func ReadMemoryInfo() (MemoryInfo, error) {
	path := procPath("meminfo")
	f, err := os.Open(path)
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseMemoryInfo(f)
}

// ParseMemoryInfo computes used memory as MemTotal - MemAvailable.
func ParseMemoryInfo(r io.Reader) (MemoryInfo, error) {
	vals := map[string]uint64{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, convErr := strconv.ParseUint(parts[1], 10, 64)
		if convErr != nil {
			continue
		}
		vals[key] = v * 1024
	}
	if err := s.Err(); err != nil {
		return MemoryInfo{}, fmt.Errorf("scan /proc/meminfo: %w", err)
	}
	total := vals["MemTotal"]
	if total == 0 {
		return MemoryInfo{}, fmt.Errorf("MemTotal missing")
	}
	avail, ok := vals["MemAvailable"]
	if !ok {
		// kernels before 3.14
		avail = vals["MemFree"] + vals["Buffers"] + vals["Cached"]
	}
	if avail > total {
		avail = total
	}
	return MemoryInfo{TotalBytes: total, UsedBytes: total - avail, AvailableBytes: avail}, nil
}
