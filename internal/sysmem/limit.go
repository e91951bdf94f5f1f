// Package sysmem detects total system RAM and derives a cache-capacity
// budget from it, so an in-memory tile store can size itself before
// falling back to a fixed, conservative capacity.
package sysmem

import (
	"runtime"

	"github.com/sirupsen/logrus"
)

// DefaultPressureFraction is the fraction of total RAM the caches may
// occupy before a caller should shrink its capacity. 0.90 = 90%.
const DefaultPressureFraction = 0.90

// minimumLimit is the smallest budget ComputeLimit will return; below
// this it reports 0 (caller should fall back to a fixed, conservative
// capacity) rather than pretend a workable limit exists.
const minimumLimit = 512 * 1024 * 1024

// ComputeLimit returns the maximum bytes the caller's caches should
// occupy: fraction of total system RAM, minus the Go runtime's current
// footprint plus a fixed headroom, so cache growth doesn't starve the
// rest of the process. Returns 0 if RAM detection fails or the computed
// budget would be unreasonably small.
func ComputeLimit(fraction float64, log logrus.FieldLogger) int64 {
	if log == nil {
		log = logrus.StandardLogger()
	}

	totalRAM, err := totalSystemRAM()
	if err != nil {
		log.WithError(err).Debug("sysmem: RAM detection unavailable, no cache budget derived")
		return 0
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	overhead := m.Sys + 2*1024*1024*1024

	limit := int64(float64(totalRAM)*fraction) - int64(overhead)
	if limit < minimumLimit {
		log.WithFields(logrus.Fields{"total_ram_bytes": totalRAM, "overhead_bytes": overhead}).
			Debug("sysmem: computed budget too small, reporting no limit")
		return 0
	}

	log.WithFields(logrus.Fields{
		"total_ram_bytes": totalRAM,
		"fraction":        fraction,
		"limit_bytes":     limit,
	}).Debug("sysmem: derived cache budget")
	return limit
}

// TilesForBudget converts a byte budget into a tile count given the
// per-tile byte size, returning 0 if budget is non-positive.
func TilesForBudget(budgetBytes int64, tileSizeBytes int) int {
	if budgetBytes <= 0 || tileSizeBytes <= 0 {
		return 0
	}
	n := budgetBytes / int64(tileSizeBytes)
	if n <= 0 {
		return 0
	}
	if n > int64(^uint32(0)>>1) {
		return int(^uint32(0) >> 1)
	}
	return int(n)
}
