// Package atomics implements the simple atomics sample: a kernel in which
// every thread applies seven atomic operations to a shared seven-slot
// buffer, and the host driver that runs it on each accelerator.
package atomics

import (
	guda "github.com/LynnColeArt/guda-atomics"
)

// Slot positions in the result buffer.
const (
	SlotAdd = iota
	SlotSub
	SlotMax
	SlotMin
	SlotAnd
	SlotOr
	SlotXor

	// NumSlots is the length of the buffer the kernel operates on.
	NumSlots
)

// Kernel is launched with the arguments (guda.ArrayView[int32], int32).
// Every thread applies, in this order, add, subtract, max, min, and, or and
// xor of the constant to the corresponding slot of the view.
func Kernel(_ guda.ThreadID, args ...interface{}) {
	data := args[0].(guda.ArrayView[int32])
	constant := args[1].(int32)
	Apply(data, constant)
}

// Apply runs the per-thread atomic sequence once against data.
func Apply(data guda.ArrayView[int32], constant int32) {
	guda.AtomicAdd(data.Ptr(SlotAdd), constant)
	guda.AtomicAdd(data.Ptr(SlotSub), -constant)
	guda.AtomicMax(data.Ptr(SlotMax), constant)
	guda.AtomicMin(data.Ptr(SlotMin), constant)
	guda.AtomicAnd(data.Ptr(SlotAnd), constant)
	guda.AtomicOr(data.Ptr(SlotOr), constant)
	guda.AtomicXor(data.Ptr(SlotXor), constant)
}

// Expected returns the buffer contents after threads applications of the
// kernel with constant to a zeroed buffer.
func Expected(threads int, constant int32) []int32 {
	out := make([]int32, NumSlots)
	if threads <= 0 {
		return out
	}
	out[SlotAdd] = int32(threads) * constant
	out[SlotSub] = -int32(threads) * constant
	out[SlotMax] = max(0, constant)
	out[SlotMin] = min(0, constant)
	// AND against a zero start stays zero; OR sticks at the constant.
	out[SlotAnd] = 0
	out[SlotOr] = constant
	if threads%2 == 1 {
		out[SlotXor] = constant
	}
	return out
}
