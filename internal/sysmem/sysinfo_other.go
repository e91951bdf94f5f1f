//go:build !darwin && !linux

package sysmem

import "fmt"

// totalSystemRAM is unsupported on this platform.
func totalSystemRAM() (uint64, error) {
	return 0, fmt.Errorf("sysmem: unsupported platform for RAM detection")
}
