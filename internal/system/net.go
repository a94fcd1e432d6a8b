package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type NetCounters struct {
	RxBytes uint64
	TxBytes uint64
}

func ReadNetCounters() (NetCounters, error) {
	path := procPath("net", "dev")
	f, err := os.Open(path)
	if err != nil {
		return NetCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseNetCounters(f)
}

// ParseNetCounters sums rx/tx bytes over every interface, loopback included,
// matching the all-interface total gopsutil reports.
func ParseNetCounters(r io.Reader) (NetCounters, error) {
	var out NetCounters
	s := bufio.NewScanner(r)
	lineNo := 0
	for s.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		if iface == "" {
			continue
		}
		metrics := strings.Fields(strings.TrimSpace(parts[1]))
		if len(metrics) < 16 {
			continue
		}
		rx, rxErr := strconv.ParseUint(metrics[0], 10, 64)
		tx, txErr := strconv.ParseUint(metrics[8], 10, 64)
		if rxErr != nil || txErr != nil {
			continue
		}
		out.RxBytes += rx
		out.TxBytes += tx
	}
	if err := s.Err(); err != nil {
		return NetCounters{}, fmt.Errorf("scan /proc/net/dev: %w", err)
	}
	return out, nil
}
