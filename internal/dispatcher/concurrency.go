package dispatcher

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// perSlotBytes is the memory budgeted per concurrent page, sized for a
	// browser tab.
	perSlotBytes = 50 << 20
	maxAutoSlots = 50
)

// OptimalConcurrency picks a slot cap when none is configured: three per CPU
// since fetching is I/O bound, capped by available system memory but never
// below the CPU count.
func OptimalConcurrency() int {
	cpus := runtime.NumCPU()
	n := min(cpus*3, maxAutoSlots)

	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return n
	}
	byMemory := int(vm.Available / perSlotBytes)
	return max(cpus, min(n, byMemory))
}
