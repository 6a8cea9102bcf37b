package guda

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of memory transfer.
// All memory is CPU-accessible, so these are provided for CUDA
// compatibility and are treated identically.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
	MemcpyDefault                          // Default transfer (infer direction)
)

// DevicePtr represents a pointer to device memory. Use the typed view
// methods (Int32, Int64, ...) to access the underlying data.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []uint64 // keeps the block reachable and 8-byte aligned
	ptr  unsafe.Pointer
	size int
	used bool
}

// NewMemoryPool creates a new memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// Malloc allocates device memory of the specified size in bytes.
// The memory is zeroed when freshly allocated but may hold stale data when
// reused from the pool.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	if err := ctx.checkAlive("Malloc"); err != nil {
		return DevicePtr{}, err
	}
	ptr, err := ctx.memory.Allocate(size)
	if err != nil {
		return DevicePtr{}, err
	}
	ctx.metrics.allocated.Add(float64(ptr.capacity(ctx.memory)))
	return ptr, nil
}

// Free releases device memory allocated by Malloc.
// It is safe to call Free with a zero DevicePtr.
func (ctx *Context) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}
	if ctx.destroyed.Load() {
		// Everything was released by Destroy.
		return nil
	}
	size := ptr.capacity(ctx.memory)
	if err := ctx.memory.Free(ptr); err != nil {
		return err
	}
	ctx.metrics.allocated.Sub(float64(size))
	return nil
}

// Memcpy copies size bytes between host slices and device memory.
// Supported host types are []byte, []int32, []uint32, []int64 and []uint64.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	if err := ctx.checkAlive("Memcpy"); err != nil {
		return err
	}
	if size < 0 {
		return NewInvalidArgError("Memcpy", fmt.Sprintf("negative size: %d", size))
	}

	dstBytes, err := bytesOf("Memcpy", "dst", dst)
	if err != nil {
		return err
	}
	srcBytes, err := bytesOf("Memcpy", "src", src)
	if err != nil {
		return err
	}
	if size > len(dstBytes) || size > len(srcBytes) {
		return NewInvalidArgError("Memcpy",
			fmt.Sprintf("copy of %d bytes exceeds dst (%d) or src (%d)", size, len(dstBytes), len(srcBytes)))
	}

	copy(dstBytes[:size], srcBytes[:size])
	return nil
}

// Memset fills the first size bytes of ptr with value.
func (ctx *Context) Memset(ptr DevicePtr, value byte, size int) error {
	if err := ctx.checkAlive("Memset"); err != nil {
		return err
	}
	if ptr.ptr == nil {
		return ErrNullPointer
	}
	if size < 0 || size > ptr.size {
		return NewInvalidArgError("Memset", fmt.Sprintf("size %d outside allocation of %d bytes", size, ptr.size))
	}
	b := ptr.Byte()[:size]
	for i := range b {
		b[i] = value
	}
	return nil
}

func bytesOf(op, name string, v interface{}) ([]byte, error) {
	switch d := v.(type) {
	case DevicePtr:
		return d.Byte(), nil
	case []byte:
		return d, nil
	case []int32:
		return sliceBytes(d), nil
	case []uint32:
		return sliceBytes(d), nil
	case []int64:
		return sliceBytes(d), nil
	case []uint64:
		return sliceBytes(d), nil
	default:
		return nil, NewInvalidArgError(op, fmt.Sprintf("unsupported %s type: %T", name, v))
	}
}

func sliceBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// MemoryPool methods

// Allocate allocates memory from the pool
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)
	if alignedSize < MinAllocationSize {
		alignedSize = MinAllocationSize
	}

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			mp.track(int64(alloc.size))
			return DevicePtr{ptr: alloc.ptr, size: size}, nil
		}
	}

	buf := make([]uint64, alignedSize/8)
	alloc := &allocation{
		buf:  buf,
		ptr:  unsafe.Pointer(&buf[0]),
		size: alignedSize,
		used: true,
	}
	mp.allocated[uintptr(alloc.ptr)] = alloc
	mp.track(int64(alignedSize))

	return DevicePtr{ptr: alloc.ptr, size: size}, nil
}

func (mp *MemoryPool) track(delta int64) {
	mp.totalAlloc += delta
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
}

// Free returns memory to the pool
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok || ptr.offset != 0 {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}
	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)
	return nil
}

// Release drops every block owned by the pool and returns how many of them
// were still in use.
func (mp *MemoryPool) Release() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	live := 0
	for _, alloc := range mp.allocated {
		if alloc.used {
			live++
		}
	}
	mp.allocated = make(map[uintptr]*allocation)
	mp.freeList = nil
	mp.totalAlloc = 0
	return live
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

func (mp *MemoryPool) blockSize(ptr unsafe.Pointer) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if alloc, ok := mp.allocated[uintptr(ptr)]; ok {
		return alloc.size
	}
	return 0
}

// DevicePtr methods

func (d DevicePtr) capacity(mp *MemoryPool) int {
	return mp.blockSize(d.ptr)
}

// Int32 returns an int32 slice view of the device memory.
func (d DevicePtr) Int32() []int32 {
	return viewOf[int32](d)
}

// Byte returns a byte slice view of the device memory.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// The returned DevicePtr shares the same underlying memory and cannot be
// passed to Free.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Add(d.ptr, bytes),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region
func (d DevicePtr) Size() int {
	return d.size
}

func viewOf[T Element](d DevicePtr) []T {
	if d.ptr == nil {
		return nil
	}
	var zero T
	n := d.size / int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(d.ptr), n)
}
