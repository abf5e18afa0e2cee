package main

import (
	"fmt"
	"strings"
)

// renderProgress draws a fixed-width text progress bar for frame i of n,
// including the trajectory time cursor in seconds.
func renderProgress(i, n, width int, seconds float64) string {
	if n <= 0 {
		n = 1
	}
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	frac := float64(i+1) / float64(n)
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	return fmt.Sprintf("[%s] %5.1f%%  frame %d/%d  t=%.2fs", bar, frac*100, i+1, n, seconds)
}
