package rate

import (
	"fmt"
	"strings"
)

// Unit is a presentation unit for byte rates. Conversion happens after the
// per-second division and never feeds back into the sampler.
type Unit string

const (
	BytesPerSecond     Unit = "B/s"
	KilobytesPerSecond Unit = "KB/s"
	MegabytesPerSecond Unit = "MB/s"
	KilobitsPerSecond  Unit = "Kbps"
)

// ParseUnit accepts the unit labels case-insensitively. A bare "bps" is
// rejected: it reads as bits per second, which no unit here reports.
func ParseUnit(raw string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "b/s", "bytes":
		return BytesPerSecond, nil
	case "kb/s", "kbs", "kib/s":
		return KilobytesPerSecond, nil
	case "mb/s", "mbs", "mib/s":
		return MegabytesPerSecond, nil
	case "kbps", "kbit/s":
		return KilobitsPerSecond, nil
	default:
		return "", fmt.Errorf("unsupported rate unit %q", raw)
	}
}

// Convert turns a bytes/s rate into u. Kbps follows bytes*8/1024.
func (u Unit) Convert(bytesPerSecond float64) float64 {
	switch u {
	case KilobytesPerSecond:
		return bytesPerSecond / 1024
	case MegabytesPerSecond:
		return bytesPerSecond / (1024 * 1024)
	case KilobitsPerSecond:
		return bytesPerSecond * 8 / 1024
	default:
		return bytesPerSecond
	}
}

func (u Unit) String() string {
	if u == "" {
		return string(BytesPerSecond)
	}
	return string(u)
}
