package guda

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks the instruction set extensions that matter for the
// CPU accelerator's atomic and vector paths.
type CPUFeatures struct {
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool
	HasFMA     bool
	HasSSE4    bool
	HasCX16    bool // 128-bit compare-and-swap

	// ARM64
	HasASIMD   bool
	HasAtomics bool // LSE single-instruction atomics
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasSSE4:    cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasCX16:    cpu.X86.HasCX16,
		HasASIMD:   cpu.ARM64.HasASIMD,
		HasAtomics: cpu.ARM64.HasATOMICS,
	}
}

// Features returns the names of the detected extensions in a stable order.
func (f CPUFeatures) Features() []string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	add(f.HasSSE4, "SSE4")
	add(f.HasAVX, "AVX")
	add(f.HasAVX2, "AVX2")
	add(f.HasFMA, "FMA")
	add(f.HasAVX512F, "AVX512F")
	add(f.HasCX16, "CX16")
	add(f.HasASIMD, "ASIMD")
	add(f.HasAtomics, "LSE")
	return features
}

// GetCPUInfo returns a string describing available CPU features
func GetCPUInfo() string {
	features := cpuFeatures.Features()
	if len(features) == 0 {
		return runtime.GOARCH + ": no extensions detected"
	}
	return runtime.GOARCH + ": " + strings.Join(features, ", ")
}
