package guda

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Backend is implemented by accelerator providers. It is responsible for
// discovering the devices that kernels can be launched on.
type Backend interface {
	Name() string
	Available() bool
	Devices() ([]*Device, error)
}

var (
	backendMu sync.RWMutex
	backends  []Backend
)

// deviceNamespace seeds the name-based device UUIDs so that a device keeps
// its identity across process restarts.
var deviceNamespace = uuid.MustParse("6f1c1b4e-3a52-4c1e-9a0e-6775646100a1")

func init() {
	RegisterBackend(NewCPUBackend("cpu", runtime.NumCPU()))
}

// RegisterBackend appends b to the set of enumerated backends. A backend
// with the same name replaces the previous registration in place.
func RegisterBackend(b Backend) {
	if b == nil {
		return
	}
	backendMu.Lock()
	defer backendMu.Unlock()
	for i, existing := range backends {
		if existing.Name() == b.Name() {
			backends[i] = b
			return
		}
	}
	backends = append(backends, b)
}

// UnregisterBackend removes the backend with the given name. It reports
// whether a backend was removed.
func UnregisterBackend(name string) bool {
	backendMu.Lock()
	defer backendMu.Unlock()
	for i, b := range backends {
		if b.Name() == name {
			backends = append(backends[:i], backends[i+1:]...)
			return true
		}
	}
	return false
}

// Accelerators enumerates the devices of every available backend in
// registration order. Device IDs are assigned sequentially across backends.
func Accelerators() ([]*Device, error) {
	backendMu.RLock()
	snapshot := make([]Backend, len(backends))
	copy(snapshot, backends)
	backendMu.RUnlock()

	var devices []*Device
	for _, b := range snapshot {
		if !b.Available() {
			continue
		}
		devs, err := b.Devices()
		if err != nil {
			return nil, NewDeviceError("Accelerators", fmt.Sprintf("enumerating backend %q", b.Name()), err)
		}
		for _, d := range devs {
			d.ID = len(devices)
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// GetDeviceCount returns the number of available devices.
func GetDeviceCount() int {
	devices, err := Accelerators()
	if err != nil {
		return 0
	}
	return len(devices)
}

// GetDeviceProperties returns the properties of the device with the given ID.
func GetDeviceProperties(id int) (*Device, error) {
	devices, err := Accelerators()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(devices) {
		return nil, NewInvalidArgError("GetDeviceProperties", fmt.Sprintf("invalid device ID: %d", id))
	}
	return devices[id], nil
}

// CPUBackend exposes the host CPU as a single accelerator whose kernel
// threads are executed by a fixed number of worker goroutines.
type CPUBackend struct {
	name    string
	workers int
}

// NewCPUBackend creates a CPU backend. A non-positive worker count selects
// runtime.NumCPU().
func NewCPUBackend(name string, workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{name: name, workers: workers}
}

// Name implements Backend.
func (b *CPUBackend) Name() string { return b.name }

// Available implements Backend. The host CPU is always present.
func (b *CPUBackend) Available() bool { return true }

// Devices implements Backend.
func (b *CPUBackend) Devices() ([]*Device, error) {
	name := "CPU"
	if b.name != "cpu" {
		name = fmt.Sprintf("CPU (%s)", b.name)
	}
	return []*Device{{
		UUID:       uuid.NewSHA1(deviceNamespace, []byte(fmt.Sprintf("%s/%s/%d", runtime.GOARCH, b.name, b.workers))),
		Name:       name,
		Backend:    b.name,
		TotalMem:   getSystemMemory(),
		NumCores:   b.workers,
		MaxThreads: b.workers * 2, // Hyperthreading
		Features:   cpuFeatures.Features(),
	}}, nil
}
