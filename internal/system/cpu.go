package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type CPUCounters struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
	Total   uint64
}

// ProcRoot is the mount point the readers resolve /proc paths against.
var ProcRoot = "/proc"

func procPath(parts ...string) string {
	return filepath.Join(append([]string{ProcRoot}, parts...)...)
}

func ReadCPUCounters() (CPUCounters, error) {
	path := procPath("stat")
	f, err := os.Open(path)
	if err != nil {
		return CPUCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseCPUCounters(f)
}

// ParseCPUCounters reads the aggregate "cpu " line of /proc/stat.
func ParseCPUCounters(r io.Reader) (CPUCounters, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			return CPUCounters{}, fmt.Errorf("unexpected cpu line: %q", line)
		}
		vals := make([]uint64, 0, len(parts)-1)
		for _, p := range parts[1:] {
			v, convErr := strconv.ParseUint(p, 10, 64)
			if convErr != nil {
				return CPUCounters{}, fmt.Errorf("parse cpu stat %q: %w", p, convErr)
			}
			vals = append(vals, v)
		}
		c := CPUCounters{}
		fields := []*uint64{&c.User, &c.Nice, &c.System, &c.Idle, &c.IOWait, &c.IRQ, &c.SoftIRQ, &c.Steal}
		for i, dst := range fields {
			if i < len(vals) {
				*dst = vals[i]
			}
		}
		// guest and guest_nice are already included in user and nice.
		for i, v := range vals {
			if i >= 8 {
				break
			}
			c.Total += v
		}
		return c, nil
	}
	if err := s.Err(); err != nil {
		return CPUCounters{}, fmt.Errorf("scan /proc/stat: %w", err)
	}
	return CPUCounters{}, fmt.Errorf("cpu aggregate line not found")
}

// CPUUsage returns the busy share between two counter snapshots in percent.
func CPUUsage(prev, cur CPUCounters) float64 {
	if cur.Total <= prev.Total {
		return 0
	}
	totalDelta := float64(cur.Total - prev.Total)
	idledPrev := prev.Idle + prev.IOWait
	idledCur := cur.Idle + cur.IOWait
	if idledCur < idledPrev {
		return 0
	}
	idleDelta := float64(idledCur - idledPrev)
	usage := ((totalDelta - idleDelta) / totalDelta) * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

type CPUInfo struct {
	LogicalCount  uint64
	PhysicalCount uint64
	ModelName     string
	// CurrentMHz is the mean of the per-processor "cpu MHz" entries.
	CurrentMHz float64
}

func ReadCPUInfo() (CPUInfo, error) {
	path := procPath("cpuinfo")
	f, err := os.Open(path)
	if err != nil {
		return CPUInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseCPUInfo(f)
}

func ParseCPUInfo(r io.Reader) (CPUInfo, error) {
	var (
		out       CPUInfo
		mhzSum    float64
		mhzCount  int
		physID    string
		cores     = map[string]struct{}{}
		coreCount = map[string]uint64{}
	)
	s := bufio.NewScanner(r)
	for s.Scan() {
		key, value, found := strings.Cut(s.Text(), ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "processor":
			out.LogicalCount++
			physID = ""
		case "model name":
			if out.ModelName == "" {
				out.ModelName = value
			}
		case "cpu MHz":
			if mhz, err := strconv.ParseFloat(value, 64); err == nil && mhz > 0 {
				mhzSum += mhz
				mhzCount++
			}
		case "physical id":
			physID = value
		case "core id":
			cores[physID+"/"+value] = struct{}{}
		case "cpu cores":
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				coreCount[physID] = n
			}
		}
	}
	if err := s.Err(); err != nil {
		return CPUInfo{}, fmt.Errorf("scan /proc/cpuinfo: %w", err)
	}
	if out.LogicalCount == 0 {
		return CPUInfo{}, fmt.Errorf("no processor entries in cpuinfo")
	}
	out.PhysicalCount = uint64(len(cores))
	if out.PhysicalCount == 0 {
		for _, n := range coreCount {
			out.PhysicalCount += n
		}
	}
	if out.PhysicalCount == 0 {
		out.PhysicalCount = out.LogicalCount
	}
	if mhzCount > 0 {
		out.CurrentMHz = mhzSum / float64(mhzCount)
	}
	return out, nil
}
