package guda

import (
	"runtime"
	"sync/atomic"
)

// Atomic intrinsics for kernels. Each operation is a single indivisible
// read-modify-write on *addr with respect to every other intrinsic applied
// to the same address, and returns the value held before the update.
//
// Add, Exchange, CompareExchange, And and Or map directly onto sync/atomic.
// Max, Min and Xor are compare-and-swap loops that stop as soon as the
// stored value already satisfies the operation.

// AtomicAdd performs *addr += val.
func AtomicAdd[T Element](addr *T, val T) T {
	switch p := any(addr).(type) {
	case *int32:
		v := int32(val)
		return T(atomic.AddInt32(p, v) - v)
	case *uint32:
		v := uint32(val)
		return T(atomic.AddUint32(p, v) - v)
	case *int64:
		v := int64(val)
		return T(atomic.AddInt64(p, v) - v)
	case *uint64:
		v := uint64(val)
		return T(atomic.AddUint64(p, v) - v)
	}
	panic("unreachable")
}

// AtomicSub performs *addr -= val.
func AtomicSub[T Element](addr *T, val T) T {
	return AtomicAdd(addr, -val)
}

// AtomicExchange stores val into *addr.
func AtomicExchange[T Element](addr *T, val T) T {
	switch p := any(addr).(type) {
	case *int32:
		return T(atomic.SwapInt32(p, int32(val)))
	case *uint32:
		return T(atomic.SwapUint32(p, uint32(val)))
	case *int64:
		return T(atomic.SwapInt64(p, int64(val)))
	case *uint64:
		return T(atomic.SwapUint64(p, uint64(val)))
	}
	panic("unreachable")
}

// AtomicCompareExchange stores val into *addr if it currently holds
// compare. The previous value is returned either way.
func AtomicCompareExchange[T Element](addr *T, compare, val T) T {
	for {
		old := atomicLoad(addr)
		if old != compare {
			return old
		}
		if atomicCAS(addr, compare, val) {
			return old
		}
	}
}

// AtomicAnd performs *addr &= val.
func AtomicAnd[T Element](addr *T, val T) T {
	switch p := any(addr).(type) {
	case *int32:
		return T(atomic.AndInt32(p, int32(val)))
	case *uint32:
		return T(atomic.AndUint32(p, uint32(val)))
	case *int64:
		return T(atomic.AndInt64(p, int64(val)))
	case *uint64:
		return T(atomic.AndUint64(p, uint64(val)))
	}
	panic("unreachable")
}

// AtomicOr performs *addr |= val.
func AtomicOr[T Element](addr *T, val T) T {
	switch p := any(addr).(type) {
	case *int32:
		return T(atomic.OrInt32(p, int32(val)))
	case *uint32:
		return T(atomic.OrUint32(p, uint32(val)))
	case *int64:
		return T(atomic.OrInt64(p, int64(val)))
	case *uint64:
		return T(atomic.OrUint64(p, uint64(val)))
	}
	panic("unreachable")
}

// AtomicXor performs *addr ^= val.
func AtomicXor[T Element](addr *T, val T) T {
	return atomicModify(addr, func(old T) T { return old ^ val })
}

// AtomicMax performs *addr = max(*addr, val).
func AtomicMax[T Element](addr *T, val T) T {
	return atomicModify(addr, func(old T) T { return max(old, val) })
}

// AtomicMin performs *addr = min(*addr, val).
func AtomicMin[T Element](addr *T, val T) T {
	return atomicModify(addr, func(old T) T { return min(old, val) })
}

// atomicModify applies f to *addr until the compare-and-swap succeeds. If
// f leaves the value unchanged no store is issued.
func atomicModify[T Element](addr *T, f func(T) T) T {
	for {
		old := atomicLoad(addr)
		next := f(old)
		if next == old || atomicCAS(addr, old, next) {
			return old
		}
		runtime.Gosched()
	}
}

func atomicLoad[T Element](addr *T) T {
	switch p := any(addr).(type) {
	case *int32:
		return T(atomic.LoadInt32(p))
	case *uint32:
		return T(atomic.LoadUint32(p))
	case *int64:
		return T(atomic.LoadInt64(p))
	case *uint64:
		return T(atomic.LoadUint64(p))
	}
	panic("unreachable")
}

func atomicCAS[T Element](addr *T, old, next T) bool {
	switch p := any(addr).(type) {
	case *int32:
		return atomic.CompareAndSwapInt32(p, int32(old), int32(next))
	case *uint32:
		return atomic.CompareAndSwapUint32(p, uint32(old), uint32(next))
	case *int64:
		return atomic.CompareAndSwapInt64(p, int64(old), int64(next))
	case *uint64:
		return atomic.CompareAndSwapUint64(p, uint64(old), uint64(next))
	}
	panic("unreachable")
}
