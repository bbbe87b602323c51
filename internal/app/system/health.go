package system

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthFacts is the host-resource snapshot served from "/_ldk/resources"
// alongside the lifecycle manager's service descriptors, so an operator
// pointed at the emulator can tell a slow response apart from host
// exhaustion without attaching a separate profiler.
type HealthFacts struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	ProcessRSSMB  uint64  `json:"process_rss_mb"`
	Uptime        string  `json:"uptime"`
}

var processStart = time.Now()

// CollectHealthFacts samples current host and process resource usage.
// Any individual sampler failing (e.g. on a platform gopsutil doesn't
// fully support) leaves its fields zeroed rather than failing the call.
func CollectHealthFacts() HealthFacts {
	facts := HealthFacts{Uptime: time.Since(processStart).Round(time.Second).String()}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		facts.CPUPercent = percentages[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		facts.MemoryPercent = vm.UsedPercent
		facts.MemoryUsedMB = vm.Used / (1024 * 1024)
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			facts.ProcessRSSMB = info.RSS / (1024 * 1024)
		}
	}

	return facts
}
