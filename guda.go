// Package guda provides a CUDA-shaped compute API for CPU execution.
// Accelerators are enumerated from registered backends, kernels are plain Go
// functions launched over a grid of thread blocks, and device memory is
// accessed from kernels through typed views and atomic intrinsics.
//
// Example usage:
//
//	devices, _ := guda.Accelerators()
//	ctx, _ := guda.NewContext(devices[0], guda.Config{})
//	defer ctx.Destroy()
//
//	buf, _ := guda.Allocate[int32](ctx, 7)
//	defer buf.Dispose()
//	buf.MemSetToZero(ctx.DefaultStream())
//
//	kernel := ctx.LoadAutoGroupedKernel(myKernel)
//	kernel.Launch(ctx.DefaultStream(), 1024, buf.View(), int32(4))
//	ctx.Synchronize()
//	data, _ := buf.GetAsArray(ctx.DefaultStream())
package guda

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const defaultSystemMemory = 16 * 1024 * 1024 * 1024 // 16GB

// Device represents a compute device. For the CPU backend this is the host
// with its cores and available memory.
type Device struct {
	ID         int       // Position in the enumeration order
	UUID       uuid.UUID // Stable device identity
	Name       string    // Human-readable device name
	Backend    string    // Name of the backend that reported the device
	TotalMem   uint64    // Total available memory in bytes
	NumCores   int       // Number of worker goroutines
	MaxThreads int       // Maximum concurrent threads
	Features   []string  // Instruction set extensions
}

// String renders the accelerator the way it is announced before work is
// launched on it.
func (d *Device) String() string {
	features := "none"
	if len(d.Features) > 0 {
		features = strings.Join(d.Features, ", ")
	}
	return fmt.Sprintf("%s [ID: %d, Workers: %d, Memory: %d MB, Features: %s]",
		d.Name, d.ID, d.NumCores, d.TotalMem>>20, features)
}

// Context represents an execution context bound to one device.
// It manages memory allocation, streams, and the workers that execute
// kernel threads. A Context must be destroyed when no longer needed.
type Context struct {
	device        *Device
	cfg           Config
	logger        *logrus.Entry
	metrics       *metrics
	memory        *MemoryPool
	pool          *WorkerPool
	defaultStream *Stream

	mu        sync.Mutex
	streams   map[int]*Stream
	streamID  int32
	destroyed atomic.Bool
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order, but
// operations in different streams may execute concurrently.
type Stream struct {
	id    int
	tasks chan func() error
	done  chan struct{}
	wg    sync.WaitGroup

	submitMu sync.Mutex // guards closed and sends on tasks
	closed   bool

	errMu sync.Mutex
	err   error
}

// Dim3 represents 3D dimensions for grid and block configurations.
// This matches CUDA's dim3 structure for kernel launch parameters.
type Dim3 struct {
	X, Y, Z int
}

// ThreadID identifies a thread's position within the execution hierarchy.
// It provides the same indexing semantics as CUDA's built-in variables:
// blockIdx, threadIdx, blockDim, and gridDim.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// KernelFunc is a function that can be launched as a kernel.
// It receives thread identification and variadic arguments.
// It is called concurrently from multiple goroutines.
type KernelFunc func(tid ThreadID, args ...interface{})

// NewContext creates an execution context on dev.
func NewContext(dev *Device, cfg Config) (*Context, error) {
	if err := cfg.validate(dev); err != nil {
		return nil, NewInvalidArgError("NewContext", err.Error())
	}

	ctx := &Context{
		device:  dev,
		cfg:     cfg,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
		pool:    NewWorkerPool(cfg.Workers),
		logger: cfg.Logger.WithFields(logrus.Fields{
			"device":      dev.Name,
			"device_uuid": dev.UUID.String(),
		}),
	}
	ctx.metrics = newMetrics(cfg.Registerer, dev)
	ctx.defaultStream = ctx.CreateStream()

	ctx.logger.WithFields(logrus.Fields{
		"workers":    cfg.Workers,
		"group_size": cfg.GroupSize,
	}).Debug("created context")
	return ctx, nil
}

// Device returns the device the context is bound to.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// DefaultStream returns the stream used by launches that do not name one.
func (ctx *Context) DefaultStream() *Stream {
	return ctx.defaultStream
}

// CreateStream creates a new execution stream
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func() error, StreamQueueDepth),
		done:  make(chan struct{}),
	}

	// Start worker goroutine for stream
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// Synchronize waits for all streams to complete and returns every kernel
// failure observed since the previous call.
func (ctx *Context) Synchronize() error {
	if ctx.destroyed.Load() {
		return ErrContextDestroyed
	}
	var err error
	for _, stream := range ctx.sortedStreams() {
		if serr := stream.Synchronize(); serr != nil {
			err = multierror.Append(err, serr)
		}
	}
	return err
}

// Destroy waits for outstanding work, stops all streams and workers and
// releases every allocation that is still live. Calling Destroy more than
// once returns ErrContextDestroyed.
func (ctx *Context) Destroy() error {
	if !ctx.destroyed.CompareAndSwap(false, true) {
		return ErrContextDestroyed
	}

	var err error
	for _, stream := range ctx.sortedStreams() {
		if serr := stream.Synchronize(); serr != nil {
			err = multierror.Append(err, serr)
		}
		stream.Close()
	}
	ctx.pool.Close()

	live, _ := ctx.memory.GetStats()
	leaked := ctx.memory.Release()
	if leaked > 0 {
		ctx.logger.WithField("allocations", leaked).Warn("released allocations still live at context destroy")
	}
	ctx.metrics.allocated.Sub(float64(live))

	ctx.logger.Debug("destroyed context")
	return err
}

func (ctx *Context) sortedStreams() []*Stream {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].id < streams[j].id })
	return streams
}

func (ctx *Context) checkAlive(op string) error {
	if ctx.destroyed.Load() {
		return &GUDAError{Type: ErrTypeDevice, Op: op, Message: "context has been destroyed", Err: ErrContextDestroyed}
	}
	return nil
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		if err := task(); err != nil {
			s.errMu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.errMu.Unlock()
		}
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete and returns
// the first error reported by them since the previous call.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Submit adds a task to the stream
func (s *Stream) Submit(task func() error) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.closed {
		return NewExecutionError("Submit", fmt.Sprintf("stream %d is closed", s.id), nil)
	}
	s.wg.Add(1)
	s.tasks <- task
	return nil
}

// Close stops the stream worker after the queued tasks have run.
func (s *Stream) Close() {
	s.submitMu.Lock()
	if s.closed {
		s.submitMu.Unlock()
		return
	}
	s.closed = true
	close(s.tasks)
	s.submitMu.Unlock()
	<-s.done
}

// Helper functions

// Global returns the global linear thread index
func (tid ThreadID) Global() int {
	blockID := (tid.BlockIdx.Z*tid.GridDim.Y+tid.BlockIdx.Y)*tid.GridDim.X + tid.BlockIdx.X
	threadID := (tid.ThreadIdx.Z*tid.BlockDim.Y+tid.ThreadIdx.Y)*tid.BlockDim.X + tid.ThreadIdx.X
	return blockID*tid.BlockDim.Size() + threadID
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// normalize treats unset Y and Z extents as 1.
func (d Dim3) normalize() Dim3 {
	if d.Y == 0 {
		d.Y = 1
	}
	if d.Z == 0 {
		d.Z = 1
	}
	return d
}
