package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sysrate-agent/internal/system"
)

func writeProcTree(t *testing.T, files map[string]string) {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	orig := system.ProcRoot
	system.ProcRoot = root
	t.Cleanup(func() { system.ProcRoot = orig })
}

func TestProcCPUPercentSeedsThenDiffs(t *testing.T) {
	writeProcTree(t, map[string]string{"stat": "cpu  100 0 100 800 0 0 0 0\n"})
	p := NewProc()
	ctx := context.Background()

	first, err := p.CPUPercent(ctx)
	if err != nil {
		t.Fatalf("first CPUPercent: %v", err)
	}
	if first != 0 {
		t.Errorf("first = %v, want 0", first)
	}

	if err := os.WriteFile(filepath.Join(system.ProcRoot, "stat"), []byte("cpu  150 0 150 900 0 0 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := p.CPUPercent(ctx)
	if err != nil {
		t.Fatalf("second CPUPercent: %v", err)
	}
	if second != 50 {
		t.Errorf("second = %v, want 50", second)
	}
}

func TestProcNetworkCountersMapsDirections(t *testing.T) {
	writeProcTree(t, map[string]string{
		"net/dev": "h1\nh2\n    lo: 50 1 0 0 0 0 0 0 50 1 0 0 0 0 0 0\n  eth0: 300 1 0 0 0 0 0 0 700 2 0 0 0 0 0 0\n",
	})
	n, err := NewProc().NetworkCounters(context.Background())
	if err != nil {
		t.Fatalf("NetworkCounters: %v", err)
	}
	if n.BytesRecv != 350 || n.BytesSent != 750 {
		t.Errorf("counters = %+v, want recv 350 sent 750 with loopback", n)
	}
}

func TestProcMissingFilesAreUnavailable(t *testing.T) {
	writeProcTree(t, map[string]string{})
	p := NewProc()
	ctx := context.Background()

	if _, err := p.MemoryPercent(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("MemoryPercent err = %v, want ErrSourceUnavailable", err)
	}
	if _, err := p.NetworkCounters(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("NetworkCounters err = %v, want ErrSourceUnavailable", err)
	}
	if _, err := p.CPUPhysicalCount(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("CPUPhysicalCount err = %v, want ErrSourceUnavailable", err)
	}
}

func TestProcMemory(t *testing.T) {
	writeProcTree(t, map[string]string{"meminfo": "MemTotal: 1000 kB\nMemAvailable: 250 kB\n"})
	p := NewProc()
	ctx := context.Background()
	pct, err := p.MemoryPercent(ctx)
	if err != nil || pct != 75 {
		t.Errorf("MemoryPercent = %v, %v; want 75", pct, err)
	}
	used, err := p.MemoryUsedBytes(ctx)
	if err != nil || used != 750*1024 {
		t.Errorf("MemoryUsedBytes = %v, %v", used, err)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"gopsutil": KindPSUtil,
		"psutil":   KindPSUtil,
		" PROC ":   KindProc,
		"libvirt":  KindLibvirt,
	}
	for raw, want := range tests {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseKind("wmi"); err == nil {
		t.Error("ParseKind(wmi) expected error")
	}
}
