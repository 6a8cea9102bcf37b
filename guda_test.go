package guda

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/xerrors"
)

func newTestContext(t *testing.T, cfg Config) *Context {
	t.Helper()
	devices, err := Accelerators()
	if err != nil {
		t.Fatalf("Accelerators failed: %v", err)
	}
	if len(devices) == 0 {
		t.Fatal("no accelerators enumerated")
	}
	ctx, err := NewContext(devices[0], cfg)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Destroy() })
	return ctx
}

// Test basic memory allocation and deallocation
func TestMemoryAllocation(t *testing.T) {
	ctx := newTestContext(t, Config{})
	sizes := []int{1, 7, 100, 1000, 100000}

	for _, size := range sizes {
		ptr, err := ctx.Malloc(size * 4)
		if err != nil {
			t.Fatalf("Failed to allocate %d bytes: %v", size*4, err)
		}

		slice := ptr.Int32()
		if len(slice) != size {
			t.Errorf("Expected slice length %d, got %d", size, len(slice))
		}

		for i := 0; i < min(100, size); i++ {
			slice[i] = int32(i)
		}
		for i := 0; i < min(100, size); i++ {
			if slice[i] != int32(i) {
				t.Errorf("Memory corruption at index %d", i)
			}
		}

		if err := ctx.Free(ptr); err != nil {
			t.Fatalf("Failed to free memory: %v", err)
		}
	}
}

func TestMemoryErrors(t *testing.T) {
	ctx := newTestContext(t, Config{})

	if _, err := ctx.Malloc(0); err != ErrInvalidSize {
		t.Errorf("Malloc(0) = %v, want ErrInvalidSize", err)
	}

	ptr, err := ctx.Malloc(64)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := ctx.Free(ptr.Offset(4)); !IsMemoryError(err) {
		t.Errorf("Free of interior pointer = %v, want memory error", err)
	}
	if err := ctx.Free(ptr); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if err := ctx.Free(ptr); err != ErrDoubleFree {
		t.Errorf("second Free = %v, want ErrDoubleFree", err)
	}
	if err := ctx.Free(DevicePtr{}); err != nil {
		t.Errorf("Free of zero DevicePtr = %v, want nil", err)
	}
}

func TestMemoryPoolStats(t *testing.T) {
	pool := NewMemoryPool()

	a, _ := pool.Allocate(100)
	b, _ := pool.Allocate(10)
	allocated, peak := pool.GetStats()
	if allocated != 128+64 || peak != 128+64 {
		t.Errorf("stats = (%d, %d), want (192, 192)", allocated, peak)
	}

	_ = pool.Free(a)
	allocated, peak = pool.GetStats()
	if allocated != 64 || peak != 192 {
		t.Errorf("stats after free = (%d, %d), want (64, 192)", allocated, peak)
	}

	// The freed block is reused for a request that fits.
	c, _ := pool.Allocate(120)
	if c.ptr != a.ptr {
		t.Error("expected freed block to be reused")
	}

	_ = pool.Free(b)
	if live := pool.Release(); live != 1 {
		t.Errorf("Release reported %d live blocks, want 1", live)
	}
}

// Test memory copy operations
func TestMemcpy(t *testing.T) {
	ctx := newTestContext(t, Config{})
	const N = 1000

	src := make([]int32, N)
	dst := make([]int32, N)
	for i := range src {
		src[i] = int32(i*7 - 300)
	}

	dSrc, _ := ctx.Malloc(N * 4)
	dDst, _ := ctx.Malloc(N * 4)
	defer ctx.Free(dSrc)
	defer ctx.Free(dDst)

	if err := ctx.Memcpy(dSrc, src, N*4, MemcpyHostToDevice); err != nil {
		t.Fatalf("H2D copy failed: %v", err)
	}
	if err := ctx.Memcpy(dDst, dSrc, N*4, MemcpyDeviceToDevice); err != nil {
		t.Fatalf("D2D copy failed: %v", err)
	}
	if err := ctx.Memcpy(dst, dDst, N*4, MemcpyDeviceToHost); err != nil {
		t.Fatalf("D2H copy failed: %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("Mismatch at %d: %d != %d", i, dst[i], src[i])
		}
	}

	if err := ctx.Memcpy(dst, dDst, (N+1)*4, MemcpyDeviceToHost); !IsInvalidArgError(err) {
		t.Errorf("oversized copy = %v, want invalid argument", err)
	}
	if err := ctx.Memcpy(dst, "nope", 4, MemcpyHostToHost); !IsInvalidArgError(err) {
		t.Errorf("unsupported src = %v, want invalid argument", err)
	}
}

func TestBufferLifecycle(t *testing.T) {
	ctx := newTestContext(t, Config{})
	stream := ctx.DefaultStream()

	buf, err := Allocate[int32](ctx, 7)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if buf.Len() != 7 || buf.View().Len() != 7 {
		t.Fatalf("buffer length = %d/%d, want 7", buf.Len(), buf.View().Len())
	}

	if err := buf.CopyFrom(stream, []int32{1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("CopyFrom failed: %v", err)
	}
	got, err := buf.GetAsArray(stream)
	if err != nil {
		t.Fatalf("GetAsArray failed: %v", err)
	}
	if got[0] != 1 || got[6] != 7 {
		t.Errorf("read back %v, want 1..7", got)
	}

	if err := buf.MemSetToZero(stream); err != nil {
		t.Fatalf("MemSetToZero failed: %v", err)
	}
	got, _ = buf.GetAsArray(stream)
	for i, v := range got {
		if v != 0 {
			t.Errorf("Data[%d] = %d after MemSetToZero", i, v)
		}
	}

	if err := buf.CopyFrom(stream, make([]int32, 8)); !IsInvalidArgError(err) {
		t.Errorf("oversized CopyFrom = %v, want invalid argument", err)
	}
	if _, err := Allocate[int64](ctx, 0); !IsInvalidArgError(err) {
		t.Errorf("Allocate(0) = %v, want invalid argument", err)
	}

	if err := buf.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if err := buf.Dispose(); err != ErrDoubleFree {
		t.Errorf("second Dispose = %v, want ErrDoubleFree", err)
	}
}

func TestAutoGroupedLaunchRunsEachIndexOnce(t *testing.T) {
	for _, extent := range []int{1, 255, 256, 1000, 1024, 4097} {
		ctx := newTestContext(t, Config{GroupSize: 256, Workers: 3})

		buf, err := Allocate[int32](ctx, extent)
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		kernel := ctx.LoadAutoGroupedKernel(func(tid ThreadID, args ...interface{}) {
			view := args[0].(ArrayView[int32])
			AtomicAdd(view.Ptr(tid.Global()), 1)
		})
		if err := buf.MemSetToZero(nil); err != nil {
			t.Fatalf("MemSetToZero failed: %v", err)
		}
		if err := kernel.Launch(nil, extent, buf.View()); err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
		if err := ctx.Synchronize(); err != nil {
			t.Fatalf("Synchronize failed: %v", err)
		}
		got, _ := buf.GetAsArray(nil)
		for i, v := range got {
			if v != 1 {
				t.Fatalf("extent %d: index %d ran %d times", extent, i, v)
			}
		}
	}
}

func TestLaunchKernelGrid(t *testing.T) {
	ctx := newTestContext(t, Config{})
	grid := Dim3{X: 2, Y: 3, Z: 2}
	block := Dim3{X: 4, Y: 2}
	total := grid.Size() * block.normalize().Size()

	seen := make([]int32, total)
	view := NewArrayView(seen)
	err := ctx.LaunchKernel(func(tid ThreadID, args ...interface{}) {
		AtomicAdd(view.Ptr(tid.Global()), 1)
	}, grid, block)
	if err != nil {
		t.Fatalf("LaunchKernel failed: %v", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("global index %d ran %d times", i, v)
		}
	}
}

func TestLaunchValidation(t *testing.T) {
	ctx := newTestContext(t, Config{})
	noop := func(ThreadID, ...interface{}) {}

	tests := []struct {
		name  string
		grid  Dim3
		block Dim3
	}{
		{"negative grid", Dim3{X: -1}, Dim3{X: 32}},
		{"empty block", Dim3{X: 1}, Dim3{}},
		{"oversized block", Dim3{X: 1}, Dim3{X: MaxThreadsPerBlock + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ctx.LaunchKernel(noop, tt.grid, tt.block)
			if !xerrors.Is(err, ErrInvalidLaunch) {
				t.Errorf("LaunchKernel = %v, want ErrInvalidLaunch", err)
			}
		})
	}

	if err := ctx.LaunchKernel(nil, Dim3{X: 1}, Dim3{X: 1}); !IsInvalidArgError(err) {
		t.Errorf("nil kernel = %v, want invalid argument", err)
	}
	if err := ctx.LoadAutoGroupedKernel(noop).Launch(nil, -1); !IsInvalidArgError(err) {
		t.Errorf("negative extent = %v, want invalid argument", err)
	}
	// A zero grid is accepted and keeps the stream usable.
	if err := ctx.LaunchKernel(noop, Dim3{}, Dim3{X: 32}); err != nil {
		t.Errorf("zero grid = %v, want nil", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Errorf("Synchronize = %v", err)
	}
}

func TestKernelPanicIsReported(t *testing.T) {
	ctx := newTestContext(t, Config{})
	kernel := ctx.LoadAutoGroupedKernel(func(tid ThreadID, args ...interface{}) {
		if tid.Global() == 77 {
			panic("boom")
		}
	})
	if err := kernel.Launch(nil, 128); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	err := ctx.Synchronize()
	if !xerrors.Is(err, ErrKernelFailed) {
		t.Fatalf("Synchronize = %v, want ErrKernelFailed", err)
	}
	if !strings.Contains(err.Error(), "thread 77 panicked") {
		t.Errorf("error %q does not name the failing thread", err)
	}
	// The failure is reported once.
	if err := ctx.Synchronize(); err != nil {
		t.Errorf("second Synchronize = %v, want nil", err)
	}
}

func TestStreamOrdering(t *testing.T) {
	ctx := newTestContext(t, Config{})
	stream := ctx.CreateStream()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		if err := stream.Submit(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := stream.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestContextDestroy(t *testing.T) {
	devices, _ := Accelerators()
	ctx, err := NewContext(devices[0], Config{})
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	if _, err := Allocate[int32](ctx, 16); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if allocated, _ := ctx.memory.GetStats(); allocated != 0 {
		t.Errorf("allocated after Destroy = %d, want 0", allocated)
	}
	if err := ctx.Destroy(); err != ErrContextDestroyed {
		t.Errorf("second Destroy = %v, want ErrContextDestroyed", err)
	}
	if _, err := ctx.Malloc(4); !xerrors.Is(err, ErrContextDestroyed) {
		t.Errorf("Malloc after Destroy = %v, want ErrContextDestroyed", err)
	}
	noop := func(ThreadID, ...interface{}) {}
	if err := ctx.LaunchKernel(noop, Dim3{X: 1}, Dim3{X: 1}); !xerrors.Is(err, ErrContextDestroyed) {
		t.Errorf("LaunchKernel after Destroy = %v, want ErrContextDestroyed", err)
	}
}

func TestConfigValidation(t *testing.T) {
	devices, _ := Accelerators()

	if _, err := NewContext(nil, Config{}); !IsInvalidArgError(err) {
		t.Errorf("nil device = %v, want invalid argument", err)
	}
	if _, err := NewContext(devices[0], Config{GroupSize: MaxThreadsPerBlock + 1}); !IsInvalidArgError(err) {
		t.Errorf("oversized group = %v, want invalid argument", err)
	}
	if _, err := NewContext(devices[0], Config{Workers: -2}); !IsInvalidArgError(err) {
		t.Errorf("negative workers = %v, want invalid argument", err)
	}

	cfg := Config{}
	if err := cfg.validate(devices[0]); err != nil {
		t.Fatalf("validate = %v", err)
	}
	if cfg.GroupSize != DefaultBlockSize || cfg.Workers != devices[0].NumCores {
		t.Errorf("defaults = (%d, %d), want (%d, %d)", cfg.GroupSize, cfg.Workers, DefaultBlockSize, devices[0].NumCores)
	}
	if cfg.Clock == nil || cfg.Logger == nil {
		t.Error("default clock and logger were not assigned")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	clk := testclock.NewClock(time.Now())
	ctx := newTestContext(t, Config{Registerer: reg, Clock: clk})

	buf, err := Allocate[int32](ctx, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	kernel := ctx.LoadAutoGroupedKernel(func(ThreadID, ...interface{}) {})
	for i := 0; i < 3; i++ {
		if err := kernel.Launch(nil, 300); err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if got := testutil.ToFloat64(ctx.metrics.launches); got != 3 {
		t.Errorf("launches = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ctx.metrics.threads); got != 900 {
		t.Errorf("threads = %v, want 900", got)
	}
	if got := testutil.ToFloat64(ctx.metrics.allocated); got != 64 {
		t.Errorf("allocated = %v, want 64", got)
	}
	_ = buf.Dispose()
	if got := testutil.ToFloat64(ctx.metrics.allocated); got != 0 {
		t.Errorf("allocated after Dispose = %v, want 0", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("registered %d metric families, want 5", len(families))
	}
}
