package guda

import (
	"fmt"
	"unsafe"
)

// Element is the set of element types a Buffer can hold. Every element type
// supports the atomic intrinsics.
type Element interface {
	int32 | uint32 | int64 | uint64
}

// Buffer is a typed allocation of device memory owned by a context. The
// owner releases it with Dispose, typically deferred right after Allocate.
type Buffer[T Element] struct {
	ctx    *Context
	ptr    DevicePtr
	length int
}

// ArrayView is a non-owning handle to a region of device memory that is
// passed to kernels. Copies of a view alias the same memory.
type ArrayView[T Element] struct {
	data []T
}

// Allocate reserves a buffer of length elements of T on ctx.
func Allocate[T Element](ctx *Context, length int) (*Buffer[T], error) {
	if length <= 0 {
		return nil, NewInvalidArgError("Allocate", fmt.Sprintf("length must be positive, got %d", length))
	}
	var zero T
	ptr, err := ctx.Malloc(length * int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{ctx: ctx, ptr: ptr, length: length}, nil
}

// Len returns the number of elements in the buffer.
func (b *Buffer[T]) Len() int {
	return b.length
}

// View returns a view over the whole buffer.
func (b *Buffer[T]) View() ArrayView[T] {
	return ArrayView[T]{data: viewOf[T](b.ptr)[:b.length:b.length]}
}

// MemSetToZero enqueues zeroing of the buffer on stream.
func (b *Buffer[T]) MemSetToZero(stream *Stream) error {
	if err := b.ctx.checkAlive("MemSetToZero"); err != nil {
		return err
	}
	return b.streamOf(stream).Submit(func() error {
		return b.ctx.Memset(b.ptr, 0, b.ptr.Size())
	})
}

// CopyFrom enqueues an upload of src into the start of the buffer.
func (b *Buffer[T]) CopyFrom(stream *Stream, src []T) error {
	if len(src) > b.length {
		return NewInvalidArgError("CopyFrom", fmt.Sprintf("source of %d elements exceeds buffer of %d", len(src), b.length))
	}
	if err := b.ctx.checkAlive("CopyFrom"); err != nil {
		return err
	}
	host := append([]T(nil), src...)
	return b.streamOf(stream).Submit(func() error {
		copy(viewOf[T](b.ptr), host)
		return nil
	})
}

// GetAsArray waits for the work queued on stream and returns a host copy of
// the buffer contents.
func (b *Buffer[T]) GetAsArray(stream *Stream) ([]T, error) {
	if err := b.ctx.checkAlive("GetAsArray"); err != nil {
		return nil, err
	}
	out := make([]T, b.length)
	s := b.streamOf(stream)
	if err := s.Submit(func() error {
		copy(out, viewOf[T](b.ptr)[:b.length])
		return nil
	}); err != nil {
		return nil, err
	}
	if err := s.Synchronize(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dispose returns the buffer memory to its context. Disposing twice
// reports a double free.
func (b *Buffer[T]) Dispose() error {
	return b.ctx.Free(b.ptr)
}

func (b *Buffer[T]) streamOf(s *Stream) *Stream {
	if s == nil {
		return b.ctx.defaultStream
	}
	return s
}

// NewArrayView wraps a host slice as a view. It is used to run kernels
// against host memory in tests and reference computations.
func NewArrayView[T Element](data []T) ArrayView[T] {
	return ArrayView[T]{data: data}
}

// Len returns the number of elements in the view.
func (v ArrayView[T]) Len() int {
	return len(v.data)
}

// Ptr returns the address of element i for use with the atomic intrinsics.
func (v ArrayView[T]) Ptr(i int) *T {
	return &v.data[i]
}
