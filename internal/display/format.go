// Package display holds formatting shared by the console table and the
// terminal UI.
package display

import (
	"fmt"
	"strings"

	"sysrate-agent/internal/rate"
)

const bytesPerGB = 1 << 30

func GHz(mhz float64) float64 {
	return mhz / 1000
}

func GB(bytes float64) float64 {
	return bytes / bytesPerGB
}

func FormatRate(bytesPerSecond float64, unit rate.Unit) string {
	return fmt.Sprintf("%.2f %s", unit.Convert(bytesPerSecond), unit)
}

func FormatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// FormatBytes renders a byte total with a binary suffix.
func FormatBytes(b float64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%.0f B", b)
	}
	suffixes := []string{"KB", "MB", "GB", "TB", "PB"}
	v := b / unit
	i := 0
	for v >= unit && i < len(suffixes)-1 {
		v /= unit
		i++
	}
	return fmt.Sprintf("%.2f %s", v, suffixes[i])
}

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// Sparkline scales values against their maximum. An all-zero series renders
// as the lowest bar.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	maxV := 0.0
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if maxV > 0 && v > 0 {
			idx = int(v / maxV * float64(len(sparkChars)-1))
		}
		b.WriteRune(sparkChars[idx])
	}
	return b.String()
}

// History is a bounded trailing window of values, oldest first.
type History struct {
	size   int
	values []float64
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{size: size, values: make([]float64, 0, size)}
}

func (h *History) Push(v float64) {
	if len(h.values) == h.size {
		copy(h.values, h.values[1:])
		h.values = h.values[:h.size-1]
	}
	h.values = append(h.values, v)
}

func (h *History) Values() []float64 {
	return append([]float64(nil), h.values...)
}

func (h *History) Len() int {
	return len(h.values)
}
