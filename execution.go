package guda

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kernel is a kernel loaded into a context with automatic grouping: launches
// name a linear extent and the context picks the grid.
type Kernel struct {
	ctx *Context
	fn  KernelFunc
}

// LoadAutoGroupedKernel binds fn to the context. Each launch of the
// returned kernel runs fn once per index in [0, extent).
func (ctx *Context) LoadAutoGroupedKernel(fn KernelFunc) *Kernel {
	return &Kernel{ctx: ctx, fn: fn}
}

// GroupSize returns the number of threads per block used by launches.
func (k *Kernel) GroupSize() int {
	return k.ctx.cfg.GroupSize
}

// Launch enqueues extent threads on stream. Threads in the trailing partial
// block whose global index is not below extent are never executed.
func (k *Kernel) Launch(stream *Stream, extent int, args ...interface{}) error {
	if extent < 0 {
		return NewInvalidArgError("Launch", fmt.Sprintf("negative extent: %d", extent))
	}
	group := k.ctx.cfg.GroupSize
	grid := Dim3{X: (extent + group - 1) / group, Y: 1, Z: 1}
	block := Dim3{X: group, Y: 1, Z: 1}
	return k.ctx.launchInternal(k.fn, grid, block, extent, stream, args...)
}

// LaunchKernel executes fn over grid×block threads on the default stream.
func (ctx *Context) LaunchKernel(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchKernelStream(fn, grid, block, ctx.defaultStream, args...)
}

// LaunchKernelStream executes fn over grid×block threads on stream.
func (ctx *Context) LaunchKernelStream(fn KernelFunc, grid, block Dim3, stream *Stream, args ...interface{}) error {
	grid, block = grid.normalize(), block.normalize()
	return ctx.launchInternal(fn, grid, block, grid.Size()*block.Size(), stream, args...)
}

// launchInternal implements the core kernel execution logic
func (ctx *Context) launchInternal(
	kernelFunc KernelFunc,
	grid, block Dim3,
	extent int,
	stream *Stream,
	args ...interface{},
) error {
	if err := ctx.checkAlive("Launch"); err != nil {
		return err
	}
	if kernelFunc == nil {
		return NewInvalidArgError("Launch", "nil kernel")
	}
	if stream == nil {
		stream = ctx.defaultStream
	}
	if err := validateLaunch(grid, block); err != nil {
		return err
	}

	gridSize := grid.Size()

	// Handle edge case where grid size is zero
	if gridSize == 0 || extent == 0 {
		// Submit an empty task to maintain stream ordering
		return stream.Submit(func() error { return nil })
	}

	numWorkers := ctx.cfg.Workers
	if gridSize < numWorkers {
		numWorkers = gridSize
	}

	// Each worker processes a contiguous range of blocks
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	ctx.metrics.launches.Inc()
	ctx.logger.WithFields(logrus.Fields{
		"grid":   grid,
		"block":  block,
		"extent": extent,
		"stream": stream.id,
	}).Debug("launching kernel")

	return stream.Submit(func() error {
		start := ctx.cfg.Clock.Now()
		var (
			wg       sync.WaitGroup
			errMu    sync.Mutex
			firstErr error
			executed int64
		)

		for workerID := 0; workerID < numWorkers; workerID++ {
			startBlock := workerID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}
			if startBlock >= endBlock {
				continue
			}

			wg.Add(1)
			ctx.pool.Submit(func() {
				defer wg.Done()
				n, err := runBlocks(kernelFunc, grid, block, startBlock, endBlock, extent, args)
				errMu.Lock()
				executed += n
				if err != nil && firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			})
		}

		wg.Wait()
		ctx.metrics.threads.Add(float64(executed))
		ctx.metrics.duration.Observe(ctx.cfg.Clock.Now().Sub(start).Seconds())
		if firstErr != nil {
			ctx.metrics.failures.Inc()
		}
		return firstErr
	})
}

// runBlocks executes the threads of blocks [startBlock, endBlock). A panic
// in the kernel aborts the remaining threads of this range and is reported
// as an execution error.
func runBlocks(
	kernelFunc KernelFunc,
	grid, block Dim3,
	startBlock, endBlock, extent int,
	args []interface{},
) (executed int64, err error) {
	blockSize := block.Size()
	var tid ThreadID
	defer func() {
		if r := recover(); r != nil {
			err = &GUDAError{
				Type:    ErrTypeExecution,
				Op:      "Kernel",
				Message: fmt.Sprintf("thread %d panicked: %v", tid.Global(), r),
				Err:     ErrKernelFailed,
			}
		}
	}()

	for blockID := startBlock; blockID < endBlock; blockID++ {
		blockIdx := linearTo3D(blockID, grid)

		// Threads within a block run sequentially on one worker
		for threadID := 0; threadID < blockSize; threadID++ {
			if blockID*blockSize+threadID >= extent {
				return executed, nil
			}
			tid = ThreadID{
				BlockIdx:  blockIdx,
				ThreadIdx: linearTo3D(threadID, block),
				BlockDim:  block,
				GridDim:   grid,
			}
			kernelFunc(tid, args...)
			executed++
		}
	}
	return executed, nil
}

func validateLaunch(grid, block Dim3) error {
	if grid.X < 0 || grid.Y < 0 || grid.Z < 0 {
		return &GUDAError{
			Type:    ErrTypeInvalidArg,
			Op:      "Launch",
			Message: fmt.Sprintf("negative grid dimension %+v", grid),
			Err:     ErrInvalidLaunch,
		}
	}
	if size := block.Size(); size <= 0 || size > MaxThreadsPerBlock || block.X <= 0 {
		return &GUDAError{
			Type:    ErrTypeInvalidArg,
			Op:      "Launch",
			Message: fmt.Sprintf("block %+v must hold 1..%d threads", block, MaxThreadsPerBlock),
			Err:     ErrInvalidLaunch,
		}
	}
	return nil
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// WorkerPool manages a pool of worker goroutines for kernel execution
type WorkerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
	}

	// Start workers
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) {
	wp.tasks <- task
}

// Close shuts down the worker pool
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		close(wp.tasks)
	})
	wp.wg.Wait()
}
