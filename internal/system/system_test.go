package system

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const procStatFixture = `cpu  100 0 50 800 10 5 3 0 0 0
cpu0 50 0 25 400 5 2 1 0 0 0
intr 12345
`

const meminfoFixture = `MemTotal:       16000000 kB
MemFree:         2000000 kB
MemAvailable:    4000000 kB
Buffers:          500000 kB
Cached:          3000000 kB
`

const netDevFixture = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo: 9999999    1000    0    0    0     0          0         0  9999999    1000    0    0    0     0       0          0
  eth0: 2048       10      0    0    0     0          0         0  5120       12     0    0    0     0       0          0
 wlan0: 1000       3       0    0    0     0          0         0  24         1      0    0    0     0       0          0
`

const cpuinfoFixture = `processor	: 0
model name	: Example CPU @ 2.40GHz
cpu MHz		: 2400.000
physical id	: 0
core id		: 0
cpu cores	: 2

processor	: 1
model name	: Example CPU @ 2.40GHz
cpu MHz		: 2600.000
physical id	: 0
core id		: 1
cpu cores	: 2

processor	: 2
model name	: Example CPU @ 2.40GHz
cpu MHz		: 2200.000
physical id	: 0
core id		: 0
cpu cores	: 2

processor	: 3
model name	: Example CPU @ 2.40GHz
cpu MHz		: 2800.000
physical id	: 0
core id		: 1
cpu cores	: 2
`

func TestParseCPUCounters(t *testing.T) {
	c, err := ParseCPUCounters(strings.NewReader(procStatFixture))
	if err != nil {
		t.Fatalf("ParseCPUCounters: %v", err)
	}
	if c.User != 100 || c.System != 50 || c.Idle != 800 || c.IOWait != 10 {
		t.Errorf("unexpected counters %+v", c)
	}
	if c.Total != 968 {
		t.Errorf("total = %d, want 968", c.Total)
	}
}

func TestParseCPUCountersMissingLine(t *testing.T) {
	if _, err := ParseCPUCounters(strings.NewReader("intr 1\n")); err == nil {
		t.Fatal("expected error without aggregate cpu line")
	}
}

func TestCPUUsage(t *testing.T) {
	prev := CPUCounters{Idle: 800, IOWait: 10, Total: 1000}
	cur := CPUCounters{Idle: 850, IOWait: 10, Total: 1100}
	if got := CPUUsage(prev, cur); got != 50 {
		t.Errorf("usage = %v, want 50", got)
	}
	if got := CPUUsage(cur, prev); got != 0 {
		t.Errorf("usage with decreasing total = %v, want 0", got)
	}
}

func TestParseMemoryInfo(t *testing.T) {
	m, err := ParseMemoryInfo(strings.NewReader(meminfoFixture))
	if err != nil {
		t.Fatalf("ParseMemoryInfo: %v", err)
	}
	if m.TotalBytes != 16000000*1024 {
		t.Errorf("total = %d", m.TotalBytes)
	}
	if m.UsedBytes != 12000000*1024 {
		t.Errorf("used = %d", m.UsedBytes)
	}
	if got := m.UsedPercent(); got != 75 {
		t.Errorf("percent = %v, want 75", got)
	}
}

func TestParseMemoryInfoWithoutAvailable(t *testing.T) {
	m, err := ParseMemoryInfo(strings.NewReader("MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 100 kB\nCached: 300 kB\n"))
	if err != nil {
		t.Fatalf("ParseMemoryInfo: %v", err)
	}
	if m.UsedBytes != 500*1024 {
		t.Errorf("used = %d, want %d", m.UsedBytes, 500*1024)
	}
}

func TestParseNetCountersIncludesLoopback(t *testing.T) {
	n, err := ParseNetCounters(strings.NewReader(netDevFixture))
	if err != nil {
		t.Fatalf("ParseNetCounters: %v", err)
	}
	if n.RxBytes != 10003047 || n.TxBytes != 10005143 {
		t.Errorf("counters = %+v, want rx 10003047 tx 10005143", n)
	}
}

func TestParseCPUInfo(t *testing.T) {
	info, err := ParseCPUInfo(strings.NewReader(cpuinfoFixture))
	if err != nil {
		t.Fatalf("ParseCPUInfo: %v", err)
	}
	if info.LogicalCount != 4 {
		t.Errorf("logical = %d, want 4", info.LogicalCount)
	}
	if info.PhysicalCount != 2 {
		t.Errorf("physical = %d, want 2", info.PhysicalCount)
	}
	if math.Abs(info.CurrentMHz-2500) > 1e-9 {
		t.Errorf("mhz = %v, want 2500", info.CurrentMHz)
	}
	if info.ModelName != "Example CPU @ 2.40GHz" {
		t.Errorf("model = %q", info.ModelName)
	}
}

func TestReadersUseProcRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"stat":    procStatFixture,
		"meminfo": meminfoFixture,
		"cpuinfo": cpuinfoFixture,
		"net/dev": netDevFixture,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	orig := ProcRoot
	ProcRoot = root
	t.Cleanup(func() { ProcRoot = orig })

	if _, err := ReadCPUCounters(); err != nil {
		t.Errorf("ReadCPUCounters: %v", err)
	}
	if _, err := ReadMemoryInfo(); err != nil {
		t.Errorf("ReadMemoryInfo: %v", err)
	}
	if _, err := ReadCPUInfo(); err != nil {
		t.Errorf("ReadCPUInfo: %v", err)
	}
	if n, err := ReadNetCounters(); err != nil || n.TxBytes != 10005143 {
		t.Errorf("ReadNetCounters = %+v, %v", n, err)
	}
}

func TestDiskUsagePercent(t *testing.T) {
	d := DiskUsage{TotalBytes: 200, UsedBytes: 50}
	if got := d.UsedPercent(); got != 25 {
		t.Errorf("percent = %v, want 25", got)
	}
	if got := (DiskUsage{}).UsedPercent(); got != 0 {
		t.Errorf("empty percent = %v, want 0", got)
	}
}
