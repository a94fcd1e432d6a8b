package system

type DiskUsage struct {
	Path       string
	TotalBytes uint64
	UsedBytes  uint64
}

// UsedPercent mirrors df: used / (used + available to unprivileged users).
func (d DiskUsage) UsedPercent() float64 {
	if d.TotalBytes == 0 {
		return 0
	}
	pct := float64(d.UsedBytes) / float64(d.TotalBytes) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
